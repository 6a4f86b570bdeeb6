package models

import "testing"

func TestPaginateBookings(t *testing.T) {
	// over-fetched page: 3 rows for a limit of 2
	bookings := []ParcelBooking{{ID: 30}, {ID: 20}, {ID: 10}}

	page, info := paginateBookings(bookings, 2)
	if len(page) != 2 {
		t.Fatalf("expected 2 bookings, got %d", len(page))
	}
	if info.HasNextPage == nil || !*info.HasNextPage {
		t.Fatalf("expected a next page")
	}
	end, err := DecodeCursor(&info.EndCursor)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if end != "20" {
		t.Fatalf("end cursor should point at the last row of the page, got %q", end)
	}
}

func TestPaginateBookings_LastPage(t *testing.T) {
	page, info := paginateBookings([]ParcelBooking{{ID: 5}}, 2)
	if len(page) != 1 {
		t.Fatalf("expected 1 booking, got %d", len(page))
	}
	if info.HasNextPage == nil || *info.HasNextPage {
		t.Fatalf("expected no next page")
	}
}

func TestDecodeCursor_RejectsGarbage(t *testing.T) {
	garbage := "%%%not-base64%%%"
	if _, err := DecodeCursor(&garbage); err == nil {
		t.Fatalf("expected an error for a malformed cursor")
	}
}
