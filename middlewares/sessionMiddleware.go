package middlewares

import (
	"context"
	"net/http"
	"time"

	"github.com/dsadvance/parcel_backend/appctx"
	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sessionLifespan = 24 * time.Hour

// Session is what a login stores under "Token:<token>" in redis. Every
// request replays it into the context so handlers never read headers
// themselves.
type Session struct {
	Username   string          `json:"username"`
	BusinessId string          `json:"business_id"`
	UserId     int             `json:"user_id"`
	Role       models.UserRole `json:"role"`
	DriverId   int             `json:"driver_id"`
	CustomerId int             `json:"customer_id"`
}

func (s *Session) IsAdmin() bool {
	return s.Role == models.UserRoleAdmin
}

// CreateSession issues a token for a verified user.
func CreateSession(user *models.User) (string, error) {
	token := uuid.NewString()
	session := Session{
		Username:   user.Username,
		BusinessId: user.BusinessId,
		UserId:     user.ID,
		Role:       user.Role,
		DriverId:   user.DriverId,
		CustomerId: user.CustomerId,
	}
	if err := config.SetRedisObject("Token:"+token, session, sessionLifespan); err != nil {
		return "", err
	}
	return token, nil
}

func DestroySession(token string) error {
	return config.DeleteRedisObject("Token:" + token)
}

// SessionMiddleware resolves the token header into context values. Requests
// without a token pass through; protected routes reject them downstream.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		var session Session
		exists, err := config.GetRedisObject("Token:"+token, &session)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), appctx.ContextKeyToken, token)
		ctx = context.WithValue(ctx, appctx.ContextKeyUsername, session.Username)
		ctx = context.WithValue(ctx, appctx.ContextKeyBusinessId, session.BusinessId)
		ctx = context.WithValue(ctx, appctx.ContextKeyUserId, session.UserId)
		ctx = context.WithValue(ctx, appctx.ContextKeyIsAdmin, session.IsAdmin())
		c.Set("session", &session)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireSession blocks requests that did not present a valid token.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get("session"); !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SessionFrom returns the session attached by SessionMiddleware, if any.
func SessionFrom(c *gin.Context) (*Session, bool) {
	value, exists := c.Get("session")
	if !exists {
		return nil, false
	}
	session, ok := value.(*Session)
	return session, ok
}
