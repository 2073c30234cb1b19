// Package crontest provides test doubles for the cron package.
package crontest

import (
	"sync/atomic"
	"time"

	"github.com/flemzord/strmsync/internal/cron"
)

// Compile-time interface check.
var _ cron.Sweeper = (*MockSweeper)(nil)

// MockSweeper is a test double for cron.Sweeper.
type MockSweeper struct {
	SweepFunc  func(now time.Time) int
	SweepCalls atomic.Int32
}

// Sweep implements cron.Sweeper.
func (m *MockSweeper) Sweep(now time.Time) int {
	m.SweepCalls.Add(1)
	if m.SweepFunc != nil {
		return m.SweepFunc(now)
	}
	return 0
}
