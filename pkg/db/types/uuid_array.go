// Package dbtypes holds column types shared by the GORM models.
package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray maps a uuid[] column through pq's array codec. NULL and '{}' stay
// distinct: a nil array means "no restriction" for coupon dish lists.
type UUIDArray []uuid.UUID

func (a *UUIDArray) Scan(src any) error {
	var ids []uuid.UUID
	if err := (pq.GenericArray{A: &ids}).Scan(src); err != nil {
		return fmt.Errorf("scan uuid array: %w", err)
	}
	if ids == nil && src != nil {
		ids = []uuid.UUID{}
	}
	*a = ids
	return nil
}

func (a UUIDArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return pq.GenericArray{A: []uuid.UUID(a)}.Value()
}

func (a UUIDArray) Contains(id uuid.UUID) bool {
	return slices.Contains(a, id)
}
