package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"restaurant-orders-api/metrics"

	"github.com/golang-jwt/jwt/v5"
)

// StatusPath is the backend endpoint receiving status changes.
const StatusPath = "/webhook/order-status"

const (
	lockStripes = 64
	maxTracked  = 4096
)

// StatusClaims is the signed payload attached when a webhook secret is set.
type StatusClaims struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	jwt.RegisteredClaims
}

// Webhook posts each notification to the backend synchronously, bounded by
// a timeout. Deliveries for one order are serialized and a notification never
// overtakes a newer one for the same order.
type Webhook struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	secret  []byte
	log     *slog.Logger
	now     func() time.Time

	stripes   [lockStripes]sync.Mutex
	mu        sync.Mutex
	delivered map[string]int64
	tracked   []string // ring of order ids in insertion order
	next      int
}

type WebhookOption func(*Webhook)

func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithSecret signs every request with an HS256 bearer token.
func WithSecret(secret string) WebhookOption {
	return func(w *Webhook) {
		if secret != "" {
			w.secret = []byte(secret)
		}
	}
}

func WithLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.log = l }
}

func WithClock(now func() time.Time) WebhookOption {
	return func(w *Webhook) { w.now = now }
}

func NewWebhook(baseURL string, timeout time.Duration, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   timeout,
		client:    &http.Client{},
		log:       slog.Default(),
		now:       time.Now,
		delivered: make(map[string]int64, maxTracked),
		tracked:   make([]string, maxTracked),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Notify never reports failure; outcomes end up in logs and metrics.
// Suppressed notifications still advance the order's version, so an older
// staff change cannot be delivered after a newer external one.
func (w *Webhook) Notify(ctx context.Context, n Notification) {
	stripe := &w.stripes[stripeFor(n.OrderID)]
	stripe.Lock()
	defer stripe.Unlock()

	fresh := w.claim(n)
	if Suppressed(n) {
		w.log.Debug("notification suppressed for externally originated change",
			"order_id", n.OrderID, "status", n.Status)
		return
	}
	if !fresh {
		metrics.NotificationsTotal.WithLabelValues("stale").Inc()
		w.log.Info("dropping stale notification",
			"order_id", n.OrderID, "status", n.Status, "version", n.Version)
		return
	}

	start := time.Now()
	err := w.deliver(context.WithoutCancel(ctx), n)
	metrics.NotificationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		w.log.Warn("failed to notify fulfillment backend",
			"order_id", n.OrderID, "status", n.Status, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	w.log.Info("notified fulfillment backend", "order_id", n.OrderID, "status", n.Status)
}

// claim records n as the newest notification for its order and reports
// whether it is newer than anything seen before. Notifications without a
// version are always fresh. Once the tracker is full the oldest tracked
// order is forgotten first.
func (w *Webhook) claim(n Notification) bool {
	if n.Version == 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.delivered[n.OrderID]
	if ok && n.Version <= last {
		return false
	}
	if !ok {
		if len(w.delivered) >= len(w.tracked) {
			delete(w.delivered, w.tracked[w.next])
		}
		w.tracked[w.next] = n.OrderID
		w.next = (w.next + 1) % len(w.tracked)
	}
	w.delivered[n.OrderID] = n.Version
	return true
}

func (w *Webhook) deliver(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("order_id", n.OrderID)
	q.Set("status", string(n.Status))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+StatusPath+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if w.secret != nil {
		token, err := w.sign(n)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) sign(n Notification) (string, error) {
	now := w.now()
	claims := StatusClaims{
		OrderID: n.OrderID,
		Status:  string(n.Status),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(w.secret)
}

// ParseStatusToken verifies a token produced by a Webhook with secret.
func ParseStatusToken(token, secret string) (*StatusClaims, error) {
	claims := &StatusClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func stripeFor(orderID string) uint32 {
	return shardOf(orderID, lockStripes)
}

func shardOf(orderID string, n int) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return h.Sum32() % uint32(n)
}
