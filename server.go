package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/middlewares"
	"github.com/dsadvance/parcel_backend/models"
	"github.com/dsadvance/parcel_backend/models/reports"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/dsadvance/parcel_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("parcel-backend")

// RateLimiter throttles per client IP using a redis counter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// PubSubPushMessage is the envelope Google Pub/Sub push delivery wraps
// around the published payload.
type PubSubPushMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
}

// respondError maps the error taxonomy to HTTP. Validation problems are the
// caller's to fix; configuration gaps belong to an operator and must look
// different; consistency conflicts mean the caller raced another writer.
func respondError(c *gin.Context, err error) {
	var validationErr *utils.ValidationError
	var configErr *utils.ConfigurationError
	var consistencyErr *utils.ConsistencyError
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error_type": "validation",
			"field":      validationErr.Field,
			"error":      validationErr.Message,
		})
	case errors.As(err, &configErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error_type": "configuration",
			"missing":    configErr.Missing,
			"error":      configErr.Error(),
		})
	case errors.As(err, &consistencyErr):
		c.JSON(http.StatusConflict, gin.H{
			"error_type": "consistency",
			"error":      consistencyErr.Message,
		})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requireAdmin(c *gin.Context) (*middlewares.Session, bool) {
	session, ok := middlewares.SessionFrom(c)
	if !ok || session.Role != models.UserRoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return session, true
}

func requireOperator(c *gin.Context) (*middlewares.Session, bool) {
	session, ok := middlewares.SessionFrom(c)
	if !ok || (session.Role != models.UserRoleAdmin && session.Role != models.UserRoleOperator) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return session, true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		user, err := models.VerifyUserPassword(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		token, err := middlewares.CreateSession(user)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "role": user.Role, "business_id": user.BusinessId})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := utils.GetTokenFromContext(c.Request.Context())
		if token != "" {
			_ = middlewares.DestroySession(token)
		}
		c.Status(http.StatusNoContent)
	}
}

// ledgerSubject resolves whose wallet a request may look at. Drivers and
// customers only see their own; staff pass role and subject_id explicitly.
func ledgerSubject(c *gin.Context, session *middlewares.Session) (models.WalletRole, int, bool) {
	switch session.Role {
	case models.UserRoleDriver:
		return models.WalletRoleDriver, session.DriverId, true
	case models.UserRoleCustomer:
		return models.WalletRoleCustomer, session.CustomerId, true
	}
	role := models.WalletRole(strings.ToUpper(c.DefaultQuery("role", string(models.WalletRoleDriver))))
	subjectId, err := strconv.Atoi(c.Query("subject_id"))
	if err != nil || subjectId <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_id is required"})
		return "", 0, false
	}
	return role, subjectId, true
}

func ledgerWindow(c *gin.Context) (time.Time, models.Currency) {
	since := time.Time{}
	if days, err := strconv.Atoi(c.DefaultQuery("days", "0")); err == nil && days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -days)
	}
	currency := models.Currency(strings.ToUpper(c.Query("currency")))
	if !currency.IsValid() {
		currency = ""
	}
	return since, currency
}

func walletLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := middlewares.SessionFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		role, subjectId, ok := ledgerSubject(c, session)
		if !ok {
			return
		}
		since, currency := ledgerWindow(c)
		ledger, err := models.GetWalletLedger(c.Request.Context(), role, subjectId, since, currency)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": ledger.Balance, "ledger": ledger.Items})
	}
}

func walletLedgerExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		session, _ := middlewares.SessionFrom(c)
		role, subjectId, ok := ledgerSubject(c, session)
		if !ok {
			return
		}
		since, currency := ledgerWindow(c)
		workbook, err := reports.BuildLedgerWorkbook(c.Request.Context(), reports.LedgerExportRequest{
			Role:      role,
			SubjectId: subjectId,
			Since:     since,
			Currency:  currency,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=ledger-%s-%d.xlsx", role, subjectId))
		if err := workbook.Write(c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}

func outstandingBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := middlewares.SessionFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		driverId := session.DriverId
		if session.Role != models.UserRoleDriver {
			id, err := strconv.Atoi(c.Query("driver_id"))
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "driver_id is required"})
				return
			}
			driverId = id
		}
		balance, err := models.GetOutstandingBalance(c.Request.Context(), driverId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, balance)
	}
}

func submitSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := middlewares.SessionFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req models.SettlementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		// a driver settles their own cash only
		if session.Role == models.UserRoleDriver {
			req.DriverId = session.DriverId
		}
		result, err := models.SubmitSettlement(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusCreated
		if result.AlreadyExists {
			status = http.StatusOK
		}
		c.JSON(status, result)
	}
}

type approveRequest struct {
	Note string `json:"note"`
}

func approveSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}
		var req approveRequest
		_ = c.ShouldBindJSON(&req)
		journal, err := models.ApproveWalletTransaction(c.Request.Context(), id, req.Note)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, journal)
	}
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func rejectSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}
		var req rejectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}
		if err := models.RejectWalletTransaction(c.Request.Context(), id, req.Reason); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func journalPreviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}
		preview, err := models.GetJournalPreview(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"preview":           preview,
			"has_config_errors": preview.HasConfigErrors(),
			"is_balanced":       preview.IsBalanced(),
		})
	}
}

// walletPubSubHandler consumes published wallet events. The redis lock is a
// best-effort optimization; correctness comes from the idempotency key inside
// the handler, and the handler never mutates financial state.
func walletPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		redisLock := config.GetRedisLock()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "walletPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		var push PubSubPushMessage
		if err := json.Unmarshal(body, &push); err != nil {
			config.LogError(logger, "server.go", "walletPubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}
		var msg config.PubSubMessage
		if err := json.Unmarshal(push.Message.Data, &msg); err != nil {
			config.LogError(logger, "server.go", "walletPubSubHandler", "Unmarshal pubsub message", push.Message.Data, err)
			c.Status(http.StatusNoContent)
			return
		}
		if msg.BusinessId == "" || msg.ReferenceType == "" {
			config.LogError(logger, "server.go", "walletPubSubHandler", "Invalid pubsub message (missing required fields)", msg, fmt.Errorf("business_id/reference_type required"))
			c.Status(http.StatusNoContent)
			return
		}

		correlationID := msg.CorrelationId
		if correlationID == "" {
			correlationID = push.Message.ID
		}

		var lock *redislock.Lock
		if redisLock != nil {
			lock, err = redisLock.Obtain(c.Request.Context(), fmt.Sprintf("lock:%s", msg.BusinessId), 30*time.Second, nil)
			if err != nil {
				logger.WithFields(logrus.Fields{
					"field":       "walletPubSubHandler",
					"business_id": msg.BusinessId,
					"message_id":  push.Message.ID,
				}).Warn("could not obtain redis lock; proceeding without it")
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"field":       "walletPubSubHandler",
					"business_id": msg.BusinessId,
					"message_id":  push.Message.ID,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		ctx, span := tracer.Start(c.Request.Context(), "pubsub.wallet_event")
		defer span.End()
		ctx = utils.SetBusinessIdInContext(ctx, msg.BusinessId)
		ctx = utils.SetCorrelationIdInContext(ctx, correlationID)
		notifier := workflow.NewLogNotifier(logger)
		if err := workflow.HandleWalletEvent(ctx, config.GetDB(), notifier, msg); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "walletPubSubHandler",
				"business_id":    msg.BusinessId,
				"reference_id":   msg.ReferenceId,
				"message_id":     push.Message.ID,
				"correlation_id": correlationID,
			}).Error("pubsub processing failed: " + err.Error())
			// non-2xx asks Pub/Sub to retry
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type outboxReplayRequest struct {
	BusinessId string `json:"business_id"`
	RecordId   int    `json:"record_id"`
}

// outboxReplayHandler re-queues DEAD outbox rows: one record when record_id
// is given, otherwise every DEAD row of the business.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := requireAdmin(c); !ok {
			return
		}
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.BusinessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}
		db := config.GetDB()

		if req.RecordId > 0 {
			now := time.Now().UTC()
			err := db.WithContext(c.Request.Context()).
				Model(&models.WalletEventRecord{}).
				Where("id = ? AND business_id = ?", req.RecordId, req.BusinessId).
				Updates(map[string]interface{}{
					"publish_status":  models.OutboxPublishStatusFailed,
					"next_attempt_at": &now,
					"locked_at":       nil,
					"locked_by":       nil,
					"last_error":      nil,
				}).Error
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"business_id": req.BusinessId, "record_id": req.RecordId})
			return
		}

		count, err := models.RequeueDeadWalletEvents(c.Request.Context(), db, req.BusinessId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"business_id": req.BusinessId, "requeued": count})
	}
}

func registerBookingRoutes(root *gin.Engine) {
	r := root.Group("/", middlewares.RequireSession())
	r.POST("/bookings", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewParcelBooking
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		booking, err := models.CreateParcelBooking(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, booking)
	})

	r.GET("/bookings", func(c *gin.Context) {
		session, ok := middlewares.SessionFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		senderId, _ := strconv.Atoi(c.Query("sender_id"))
		if session.Role == models.UserRoleCustomer {
			senderId = session.CustomerId
		}
		var cursor *string
		if v := c.Query("cursor"); v != "" {
			cursor = &v
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		bookings, pageInfo, err := models.GetParcelBookings(c.Request.Context(), senderId, cursor, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"bookings": bookings, "page_info": pageInfo})
	})

	r.GET("/bookings/:id", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
			return
		}
		booking, err := models.GetParcelBooking(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, booking)
	})

	r.PUT("/bookings/items/:id", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
			return
		}
		var input models.UpdateParcelItemInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		item, err := models.UpdateParcelItem(c.Request.Context(), id, input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	})

	r.POST("/bookings/items/:id/status", func(c *gin.Context) {
		session, ok := middlewares.SessionFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
			return
		}
		var input struct {
			Status   models.ParcelItemStatus `json:"status" binding:"required"`
			DriverId int                     `json:"driver_id"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
			return
		}
		actorDriverId := input.DriverId
		if session.Role == models.UserRoleDriver {
			actorDriverId = session.DriverId
		}
		item, err := models.UpdateParcelItemStatus(c.Request.Context(), id, input.Status, actorDriverId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, item)
	})
}

func registerConfigRoutes(root *gin.Engine) {
	r := root.Group("/", middlewares.RequireSession())
	r.POST("/accounts", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewAccount
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		account, err := models.CreateAccount(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, account)
	})

	r.GET("/accounts", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var name *string
		if n := c.Query("name"); n != "" {
			name = &n
		}
		accounts, err := models.GetAccounts(c.Request.Context(), name)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, accounts)
	})

	r.GET("/accounts/:id", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}
		account, err := models.GetAccount(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, account)
	})

	r.PUT("/accounts/:id", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}
		var input models.NewAccount
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		account, err := models.UpdateAccount(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, account)
	})

	r.DELETE("/accounts/:id", func(c *gin.Context) {
		if _, ok := requireAdmin(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
			return
		}
		if _, err := models.DeleteAccount(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/settings/settlement-accounts", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewSettlementAccountSetting
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		setting, err := models.UpsertSettlementAccountSetting(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, setting)
	})

	r.POST("/commission-rules", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewCommissionRule
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		rule, err := models.CreateCommissionRule(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rule)
	})

	r.GET("/commission-rules", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		rules, err := models.GetCommissionRules(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rules)
	})

	r.POST("/exchange-rates", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewCurrencyExchange
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		exchange, err := models.CreateCurrencyExchange(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, exchange)
	})

	r.PUT("/exchange-rates/:id", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exchange rate id"})
			return
		}
		var input models.NewCurrencyExchange
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		exchange, err := models.UpdateCurrencyExchange(c.Request.Context(), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, exchange)
	})

	r.GET("/exchange-rates/current", func(c *gin.Context) {
		rate, err := models.GetCurrentExchangeRate(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rate": rate})
	})

	r.POST("/drivers", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewDriver
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		driver, err := models.CreateDriver(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, driver)
	})

	r.GET("/drivers", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var zone *string
		if z := c.Query("zone"); z != "" {
			zone = &z
		}
		drivers, err := models.GetDrivers(c.Request.Context(), zone)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, drivers)
	})

	r.POST("/customers", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewCustomer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	})
}

func registerWalletRoutes(root *gin.Engine) {
	r := root.Group("/", middlewares.RequireSession())
	r.GET("/wallet/ledger", walletLedgerHandler())
	r.GET("/wallet/ledger/export", walletLedgerExportHandler())
	r.GET("/wallet/balance", outstandingBalanceHandler())
	r.POST("/wallet/settlements", submitSettlementHandler())
	r.POST("/wallet/settlements/:id/approve", approveSettlementHandler())
	r.POST("/wallet/settlements/:id/reject", rejectSettlementHandler())
	r.GET("/wallet/settlements/:id/journal-preview", journalPreviewHandler())

	r.POST("/wallet/transactions", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		var input models.NewManualWalletTransaction
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		record, err := models.CreateManualWalletTransaction(c.Request.Context(), input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	})

	r.GET("/wallet/transactions/:id", func(c *gin.Context) {
		if _, ok := requireOperator(c); !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}
		record, err := models.GetWalletTransaction(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		response := gin.H{"transaction": record}
		if record.ProofURL != "" {
			// the stored value is the GCS object name; hand out a short-lived link
			signed, err := utils.SignedProofURL(c.Request.Context(), record.ProofURL, 15*time.Minute)
			if err != nil {
				_ = c.Error(err)
			} else {
				response["proof_url"] = signed
			}
		}
		if record.Status == models.WalletTransactionStatusApproved {
			journal, err := models.GetJournalForTransaction(c.Request.Context(), id)
			if err == nil {
				response["journal"] = journal
			} else if !errors.Is(err, utils.ErrorRecordNotFound) {
				respondError(c, err)
				return
			}
		}
		c.JSON(http.StatusOK, response)
	})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the startup probe passes. Until DB and
	// redis are ready, app endpoints return 503.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())
	r.POST("/auth/logout", logoutHandler())
	r.POST("/pubsub", walletPubSubHandler())
	r.POST("/internal/ops/outbox/replay", outboxReplayHandler())
	registerWalletRoutes(r)
	registerBookingRoutes(r)
	registerConfigRoutes(r)
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a
	// separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Publish AFTER commit.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port)

	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}
	c.Next()
}
