// Package lifecycle applies status transitions to stored orders.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"restaurant-orders-api/metrics"
	"restaurant-orders-api/models"
	"restaurant-orders-api/notify"
	"restaurant-orders-api/statemachine"
	"restaurant-orders-api/store"
)

var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid transition")
)

// TransitionError explains a move the state graph does not allow.
type TransitionError struct {
	From  models.OrderStatus
	To    models.OrderStatus
	Valid []models.OrderStatus
	cause error
}

func (e *TransitionError) Error() string { return e.cause.Error() }

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// OrderStore is the persistence the engine needs.
type OrderStore interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	UpdateStatus(ctx context.Context, current *models.Order, upd store.StatusUpdate) (*models.Order, error)
	Now() time.Time
}

type Engine struct {
	store    OrderStore
	machine  statemachine.Machine
	notifier notify.Dispatcher
	log      *slog.Logger
}

func NewEngine(s OrderStore, machine statemachine.Machine, notifier notify.Dispatcher, log *slog.Logger) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: s, machine: machine, notifier: notifier, log: log}
}

// Machine exposes the transition rules in force.
func (e *Engine) Machine() statemachine.Machine { return e.machine }

// Apply moves order id to requested and notifies the fulfillment backend
// once the write has committed.
func (e *Engine) Apply(ctx context.Context, id string, requested models.OrderStatus, origin models.Origin) (*models.Order, error) {
	if !requested.IsValid() {
		metrics.TransitionsTotal.WithLabelValues("invalid", "invalid_status").Inc()
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, requested)
	}

	current, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// The backend repeating a terminal change it already made is a no-op.
	if origin == models.OriginExternal && requested == current.Status && requested.IsTerminal() {
		metrics.TransitionsTotal.WithLabelValues(string(requested), "unchanged").Inc()
		e.log.Info("order already in requested status", "order_id", id, "status", requested, "origin", origin)
		return current, nil
	}

	if err := e.machine.CanTransition(current.Status, requested); err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(requested), "rejected").Inc()
		return nil, &TransitionError{
			From:  current.Status,
			To:    requested,
			Valid: e.machine.ValidTransitionsFrom(current.Status),
			cause: err,
		}
	}

	now := e.store.Now()
	upd := store.StatusUpdate{
		Status:      requested,
		UpdatedAt:   now,
		ReadyAt:     current.ReadyAt,
		CompletedAt: current.CompletedAt,
	}
	if requested == models.StatusReady && current.Status != models.StatusReady && current.ReadyAt == nil {
		upd.ReadyAt = &now
	}
	if requested == models.StatusCompleted && current.Status != models.StatusCompleted && current.CompletedAt == nil {
		upd.CompletedAt = &now
	}

	updated, err := e.store.UpdateStatus(ctx, current, upd)
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(requested), "failed").Inc()
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(requested), "applied").Inc()
	e.log.Info("order status changed",
		"order_id", id,
		"from", current.Status,
		"to", requested,
		"origin", origin,
		"version", updated.Version,
	)

	e.notifier.Notify(ctx, notify.Notification{
		OrderID: updated.ID,
		Status:  updated.Status,
		Origin:  origin,
		Version: updated.Version,
	})
	return updated, nil
}

// Cancel handles a cancel request sent by the fulfillment backend.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Order, error) {
	return e.Apply(ctx, id, models.StatusCancelled, models.OriginExternal)
}
