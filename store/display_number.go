package store

import (
	"errors"
	"fmt"

	"restaurant-orders-api/models"

	"gorm.io/gorm"
)

var ErrAllocationExhausted = errors.New("every display number is held by an open order")

const displaySpan = models.MaxDisplayNumber - models.MinDisplayNumber + 1

// allocateDisplayNumber picks the number for a new order. It must run in the
// transaction that inserts the order.
func allocateDisplayNumber(tx *gorm.DB) (int, error) {
	var last models.Order
	res := tx.Model(&models.Order{}).
		Select("display_number").
		Order("created_at desc").
		Order("display_number desc").
		Limit(1).
		Find(&last)
	if res.Error != nil {
		return 0, fmt.Errorf("read last display number: %w", res.Error)
	}

	var held []int
	err := tx.Model(&models.Order{}).
		Where("status NOT IN ?", models.TerminalStatuses).
		Pluck("display_number", &held).Error
	if err != nil {
		return 0, fmt.Errorf("read held display numbers: %w", err)
	}

	taken := make(map[int]bool, len(held))
	for _, n := range held {
		taken[n] = true
	}
	return nextFree(last.DisplayNumber, res.RowsAffected > 0, taken)
}

// nextFree returns the first number after last, cycling through
// [MinDisplayNumber, MaxDisplayNumber], that is not taken.
func nextFree(last int, hasLast bool, taken map[int]bool) (int, error) {
	candidate := models.MinDisplayNumber
	if hasLast {
		candidate = wrap(last + 1)
	}
	for i := 0; i < displaySpan; i++ {
		if !taken[candidate] {
			return candidate, nil
		}
		candidate = wrap(candidate + 1)
	}
	return 0, ErrAllocationExhausted
}

func wrap(n int) int {
	if n < models.MinDisplayNumber || n > models.MaxDisplayNumber {
		return models.MinDisplayNumber
	}
	return n
}
