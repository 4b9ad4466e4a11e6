// Package feed serves the order list to polling clients with delta
// filtering and conditional-GET tags.
package feed

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"restaurant-orders-api/metrics"
	"restaurant-orders-api/models"
	"restaurant-orders-api/store"
)

// Query is one poll.
type Query struct {
	Since       *time.Time
	Status      models.OrderStatus
	IfNoneMatch string
}

// Result is either NotModified or a page of orders. ETag and LastModified
// are empty/nil when the store holds no orders.
type Result struct {
	NotModified  bool
	ETag         string
	LastModified *time.Time
	Orders       []models.Order
}

// Snapshotter reads the dataset consistently.
type Snapshotter interface {
	Snapshot(ctx context.Context, f store.Filter) (*store.Snapshot, error)
	StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error)
}

type Gateway struct {
	store Snapshotter
}

func NewGateway(s Snapshotter) *Gateway {
	return &Gateway{store: s}
}

// List answers a poll. The tag always describes the whole dataset, so a
// delta query is invalidated by any change, filtered out or not.
func (g *Gateway) List(ctx context.Context, q Query) (*Result, error) {
	snap, err := g.store.Snapshot(ctx, store.Filter{Since: q.Since, Status: q.Status})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if snap.LatestUpdate != nil {
		res.ETag = Tag(*snap.LatestUpdate, snap.Count)
		res.LastModified = snap.LatestUpdate
	}

	if res.ETag != "" && Matches(q.IfNoneMatch, res.ETag) {
		res.NotModified = true
		metrics.PollsTotal.WithLabelValues("not_modified").Inc()
		return res, nil
	}

	res.Orders = snap.Orders
	if q.Since != nil {
		metrics.PollsTotal.WithLabelValues("delta").Inc()
	} else {
		metrics.PollsTotal.WithLabelValues("full").Inc()
	}
	return res, nil
}

// Summary returns per-status counts for the display tabs.
func (g *Gateway) Summary(ctx context.Context) (map[models.OrderStatus]int64, error) {
	return g.store.StatusCounts(ctx)
}

// Tag fingerprints the dataset from its latest modification and size.
// The result is a quoted strong entity tag.
func Tag(latest time.Time, count int64) string {
	sum := md5.Sum([]byte(latest.UTC().Format(time.RFC3339Nano) + "-" + strconv.FormatInt(count, 10)))
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// Matches implements If-None-Match comparison: "*", comma separated lists
// and weak tags are accepted.
func Matches(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" || etag == "" {
		return false
	}
	if header == "*" {
		return true
	}
	want := opaque(etag)
	for _, candidate := range strings.Split(header, ",") {
		if opaque(candidate) == want {
			return true
		}
	}
	return false
}

func opaque(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}
