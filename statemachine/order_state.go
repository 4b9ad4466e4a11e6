package statemachine

import (
	"fmt"
	"strings"

	"restaurant-orders-api/models"
)

// Transition defines a valid status change on the strict graph
type Transition struct {
	From models.OrderStatus `json:"from"`
	To   models.OrderStatus `json:"to"`
}

// validTransitions is the authoritative state machine definition
var validTransitions = []Transition{
	// Kitchen triages a new order
	{From: models.StatusPending, To: models.StatusAccepted},
	{From: models.StatusPending, To: models.StatusRejected},
	{From: models.StatusPending, To: models.StatusDelayed},
	{From: models.StatusPending, To: models.StatusCancelled},
	{From: models.StatusPending, To: models.StatusReady},
	// Accepted orders are prepared
	{From: models.StatusAccepted, To: models.StatusDelayed},
	{From: models.StatusAccepted, To: models.StatusReady},
	{From: models.StatusAccepted, To: models.StatusCancelled},
	{From: models.StatusAccepted, To: models.StatusCompleted},
	// Delayed orders resume
	{From: models.StatusDelayed, To: models.StatusAccepted},
	{From: models.StatusDelayed, To: models.StatusReady},
	{From: models.StatusDelayed, To: models.StatusCancelled},
	{From: models.StatusDelayed, To: models.StatusCompleted},
	// Food is waiting for pickup
	{From: models.StatusReady, To: models.StatusCompleted},
	{From: models.StatusReady, To: models.StatusCancelled},
}

type transitionKey struct {
	From models.OrderStatus
	To   models.OrderStatus
}

var transitionMap = func() map[transitionKey]bool {
	m := make(map[transitionKey]bool)
	for _, t := range validTransitions {
		m[transitionKey{t.From, t.To}] = true
	}
	return m
}()

// Machine validates transitions. A permissive machine accepts any recognized
// target regardless of the current status, matching the legacy service.
type Machine struct {
	Permissive bool
}

// Strict is the default machine.
var Strict = Machine{}

// ValidTransitionsFrom returns all valid next states from a given state
func (m Machine) ValidTransitionsFrom(status models.OrderStatus) []models.OrderStatus {
	if m.Permissive {
		return append([]models.OrderStatus(nil), models.AllStatuses...)
	}
	var nexts []models.OrderStatus
	if !status.IsTerminal() {
		nexts = append(nexts, status)
	}
	for _, t := range validTransitions {
		if t.From == status {
			nexts = append(nexts, t.To)
		}
	}
	return nexts
}

// CanTransition checks whether an order may move from one state to another.
// Re-applying a non-terminal state is allowed; it never restamps milestones.
func (m Machine) CanTransition(from, to models.OrderStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if m.Permissive {
		return nil
	}
	if from == to && !from.IsTerminal() {
		return nil
	}
	if transitionMap[transitionKey{From: from, To: to}] {
		return nil
	}
	return fmt.Errorf("invalid transition: %s → %s. Valid transitions from %s are: %s",
		from, to, from, describeValidFrom(m, from))
}

func describeValidFrom(m Machine, status models.OrderStatus) string {
	nexts := m.ValidTransitionsFrom(status)
	if len(nexts) == 0 {
		return "none (terminal state)"
	}
	names := make([]string, len(nexts))
	for i, s := range nexts {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// GetAllTransitions returns the strict state machine for documentation
func GetAllTransitions() []Transition {
	return validTransitions
}
