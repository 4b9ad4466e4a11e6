package feed

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"restaurant-orders-api/config"
	"restaurant-orders-api/models"
	"restaurant-orders-api/store"

	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.Default()
	cfg.DBDSN = filepath.Join(t.TempDir(), "orders.db")
	db, err := config.OpenDB(cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	var mu sync.Mutex
	now := time.Date(2026, 5, 2, 11, 0, 0, 0, time.UTC)
	return store.New(db, store.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(1500 * time.Microsecond)
		return now
	}))
}

func create(t *testing.T, s *store.Store, id string) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:              id,
		CustomerName:    "Mike Wilson",
		CustomerPhone:   "+1-555-0789",
		DeliveryAddress: "789 Elm Drive",
		TotalAmount:     decimal.RequireFromString("8.99"),
		Items:           []models.OrderItem{{Name: "Caesar Salad", Quantity: 1, Price: decimal.RequireFromString("8.99")}},
	}
	if err := s.Create(context.Background(), o); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return o
}

func TestListEmptyStoreHasNoTag(t *testing.T) {
	g := NewGateway(newTestStore(t))
	res, err := g.List(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ETag != "" || res.LastModified != nil || res.NotModified {
		t.Fatalf("expected no tag for an empty store, got %+v", res)
	}
	if res.Orders == nil || len(res.Orders) != 0 {
		t.Fatalf("expected empty non-nil page, got %v", res.Orders)
	}
	res, _ = g.List(context.Background(), Query{IfNoneMatch: "*"})
	if res.NotModified {
		t.Fatalf("an empty store must never answer not-modified")
	}
}

func TestTagStableUntilWrite(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	create(t, s, "A")

	first, _ := g.List(ctx, Query{})
	second, _ := g.List(ctx, Query{})
	if first.ETag == "" || first.ETag != second.ETag {
		t.Fatalf("expected identical tags without writes, got %q and %q", first.ETag, second.ETag)
	}

	create(t, s, "B")
	afterCreate, _ := g.List(ctx, Query{})
	if afterCreate.ETag == second.ETag {
		t.Fatalf("create did not change the tag")
	}

	a, _ := s.Get(ctx, "A")
	if _, err := s.UpdateStatus(ctx, a, store.StatusUpdate{Status: models.StatusAccepted, UpdatedAt: s.Now()}); err != nil {
		t.Fatal(err)
	}
	afterUpdate, _ := g.List(ctx, Query{})
	if afterUpdate.ETag == afterCreate.ETag {
		t.Fatalf("status update did not change the tag")
	}
	if afterUpdate.LastModified == nil || !afterUpdate.LastModified.After(*afterCreate.LastModified) {
		t.Fatalf("expected last-modified to advance")
	}
}

func TestListNotModified(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	create(t, s, "A")
	full, _ := g.List(ctx, Query{})

	res, err := g.List(ctx, Query{IfNoneMatch: full.ETag})
	if err != nil {
		t.Fatal(err)
	}
	if !res.NotModified || res.Orders != nil {
		t.Fatalf("expected not-modified without body, got %+v", res)
	}

	res, _ = g.List(ctx, Query{IfNoneMatch: `"stale"`})
	if res.NotModified || len(res.Orders) != 1 {
		t.Fatalf("expected full page for a stale tag, got %+v", res)
	}
}

func TestListDelta(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	t1 := create(t, s, "T1")
	create(t, s, "T2")
	create(t, s, "T3")

	res, err := g.List(ctx, Query{Since: &t1.UpdatedAt})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Orders) != 2 || res.Orders[0].ID != "T3" || res.Orders[1].ID != "T2" {
		t.Fatalf("expected T3, T2 after T1, got %+v", res.Orders)
	}

	full, _ := g.List(ctx, Query{})
	if res.ETag != full.ETag {
		t.Fatalf("delta tag must be computed over the whole dataset")
	}

	// A matching tag short-circuits the delta query too.
	cached, _ := g.List(ctx, Query{Since: &t1.UpdatedAt, IfNoneMatch: full.ETag})
	if !cached.NotModified {
		t.Fatalf("expected not-modified for a delta poll with a current tag")
	}
}

func TestListStatusFilter(t *testing.T) {
	s := newTestStore(t)
	g := NewGateway(s)
	ctx := context.Background()
	create(t, s, "A")
	b := create(t, s, "B")
	if _, err := s.UpdateStatus(ctx, b, store.StatusUpdate{Status: models.StatusDelayed, UpdatedAt: s.Now()}); err != nil {
		t.Fatal(err)
	}
	res, _ := g.List(ctx, Query{Status: models.StatusDelayed})
	if len(res.Orders) != 1 || res.Orders[0].ID != "B" {
		t.Fatalf("expected only delayed B, got %+v", res.Orders)
	}
	counts, err := g.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.StatusPending] != 1 || counts[models.StatusDelayed] != 1 {
		t.Fatalf("unexpected summary %v", counts)
	}
}

func TestTagIsDeterministic(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if Tag(ts, 3) != Tag(ts.In(time.FixedZone("X", 3600)), 3) {
		t.Fatalf("tag must not depend on the time zone")
	}
	if Tag(ts, 3) == Tag(ts, 4) || Tag(ts, 3) == Tag(ts.Add(time.Microsecond), 3) {
		t.Fatalf("tag must change with count and time")
	}
}

func TestMatches(t *testing.T) {
	tag := `"abc"`
	cases := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc"`, true},
		{"abc", true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{"*", true},
		{`"abd"`, false},
	}
	for _, tc := range cases {
		if got := Matches(tc.header, tag); got != tc.want {
			t.Fatalf("Matches(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}
