package repository

import (
	"time"

	"github.com/google/uuid"
)

// Option customizes the SQL repositories.
type Option func(*base)

type base struct {
	now   func() time.Time
	newID func() string
}

func newBase(opts []Option) base {
	b := base{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithIDGenerator overrides the row id generator (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(b *base) {
		if fn != nil {
			b.newID = fn
		}
	}
}
