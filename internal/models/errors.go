package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrBuyerNotFound      = errors.New("buyer not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrSaleRecordNotFound = errors.New("sale record not found")
)

// UniquenessConflictError reports which natural key collided so callers can
// return a 409 with a usable description.
type UniquenessConflictError struct {
	Entity string // "buyer" | "sale_record"
	Key    string
}

func (e *UniquenessConflictError) Error() string {
	return fmt.Sprintf("%s already exists for key %s", e.Entity, e.Key)
}

// ReferentialBlockError rejects a destructive operation that would orphan
// dependent rows. Callers either merge or retry with an explicit force.
type ReferentialBlockError struct {
	Entity     string
	ID         uint64
	Dependents string
}

func (e *ReferentialBlockError) Error() string {
	return fmt.Sprintf("%s %d still has dependent %s", e.Entity, e.ID, e.Dependents)
}

func IsUniquenessConflict(err error) bool {
	var target *UniquenessConflictError
	return errors.As(err, &target)
}

func IsReferentialBlock(err error) bool {
	var target *ReferentialBlockError
	return errors.As(err, &target)
}
