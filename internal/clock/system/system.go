// Package system provides the wall clock used to stamp index snapshots.
package system

import (
	"time"

	"github.com/antonlok/aggregator-threadpool/internal/news"
)

// Clock implements news.Clock using time.Now.
type Clock struct{}

var _ news.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to microseconds so it
// round-trips through Postgres TIMESTAMPTZ unchanged.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
