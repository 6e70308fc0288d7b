// Package x holds small helpers shared across the ReBAC core that don't
// deserve their own package.
package x

import (
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"
)

// LoggerProvider is implemented by any dependency registry that can hand
// out a configured logger. Components take a LoggerProvider rather than a
// concrete logger so tests can swap in a discard logger cheaply.
type LoggerProvider interface {
	Logger() *logrus.Logger
}

// UUIDs generates n random v4 UUIDs.
func UUIDs(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.Must(uuid.NewV4())
	}
	return out
}

// PaginationOptions holds the default and maximum page sizes for list
// operations.
type PaginationOptions struct {
	DefaultSize int
	MaxSize     int
}

// PaginationOptionSetter mutates PaginationOptions; used as functional
// options to NewPaginationOptions.
type PaginationOptionSetter func(*PaginationOptions)

// WithDefaultPageSize overrides the default page size.
func WithDefaultPageSize(n int) PaginationOptionSetter {
	return func(o *PaginationOptions) { o.DefaultSize = n }
}

// WithMaxPageSize overrides the maximum allowed page size.
func WithMaxPageSize(n int) PaginationOptionSetter {
	return func(o *PaginationOptions) { o.MaxSize = n }
}

// NewPaginationOptions builds PaginationOptions from the given setters,
// defaulting to a 100/500 default/max split.
func NewPaginationOptions(setters ...PaginationOptionSetter) *PaginationOptions {
	opts := &PaginationOptions{DefaultSize: 100, MaxSize: 500}
	for _, s := range setters {
		s(opts)
	}
	return opts
}
