package models_test

// Regression test for a lost-update window in MarkParcelItemDelivered: two
// concurrent deliver calls for the same item could both read OUT_FOR_DELIVERY
// and both commit, double-writing commission earnings. The status flip now
// re-checks the pre-read status in the same UPDATE, so exactly one of the two
// racing calls may succeed.
//
// Requires a reachable MySQL and redis; gated the same way as the other
// integration tests.

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/dsadvance/parcel_backend/config"
	"github.com/dsadvance/parcel_backend/models"
	"github.com/dsadvance/parcel_backend/utils"
	"github.com/shopspring/decimal"
)

func TestMarkParcelItemDelivered_ConcurrentCallsSingleWinner(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires mysql and redis)")
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	models.MigrateTable()

	ctx := context.Background()
	business, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Delivery Race Test"})
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, business.ID.String())

	sender, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Race Sender"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	driver, err := models.CreateDriver(ctx, &models.NewDriver{Name: "Race Driver"})
	if err != nil {
		t.Fatalf("create driver: %v", err)
	}

	booking, err := models.CreateParcelBooking(ctx, models.NewParcelBooking{
		SenderId:       sender.ID,
		PickupDriverId: driver.ID,
		FeeCurrency:    models.CurrencyUSD,
		Items: []models.NewParcelItem{{
			Description:    "race item",
			CodAmount:      decimal.RequireFromString("25"),
			CodCurrency:    models.CurrencyUSD,
			DeliveryFeeUSD: decimal.RequireFromString("2"),
		}},
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	itemId := booking.Items[0].ID

	for _, status := range []models.ParcelItemStatus{
		models.ParcelItemStatusPickedUp,
		models.ParcelItemStatusInTransit,
		models.ParcelItemStatusOutForDelivery,
	} {
		if _, err := models.UpdateParcelItemStatus(ctx, itemId, status, driver.ID); err != nil {
			t.Fatalf("move item to %s: %v", status, err)
		}
	}

	const callers = 2
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = models.MarkParcelItemDelivered(ctx, itemId, driver.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !utils.IsConsistencyError(err) && !utils.IsValidationError(err) {
			t.Fatalf("caller %d: unexpected error kind: %v", i, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one deliver call to win, got %d", succeeded)
	}

	item, err := utils.FetchModel[models.ParcelItem](ctx, business.ID.String(), itemId)
	if err != nil {
		t.Fatalf("refetch item: %v", err)
	}
	if item.Status != models.ParcelItemStatusDelivered {
		t.Fatalf("item status = %s, want %s", item.Status, models.ParcelItemStatusDelivered)
	}
	if item.DeliveredAt == nil {
		t.Fatalf("delivered item has no delivered_at")
	}
}
