package option

import (
	"fmt"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type applyFunc func(db *gorm.DB) *gorm.DB

func (f applyFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

func WithLimit(limit int) QueryOption {
	return applyFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// WithSortBy orders by column; direction is "asc" or "desc".
func WithSortBy(column, direction string) QueryOption {
	return applyFunc(func(db *gorm.DB) *gorm.DB {
		if column == "" {
			return db
		}
		if direction != "desc" {
			direction = "asc"
		}
		return db.Order(fmt.Sprintf("%s %s", column, direction))
	})
}

// WithWhere appends a raw predicate.
func WithWhere(query string, args ...any) QueryOption {
	return applyFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}
