package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
	}
}

// UpsertBalanceSchedule records the schedule interval.
func (m *MockScheduler) UpsertBalanceSchedule(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.schedules[BalanceScheduleID] = interval
	return nil
}

// DeleteBalanceSchedule removes the recorded schedule.
func (m *MockScheduler) DeleteBalanceSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, exists := m.schedules[BalanceScheduleID]; !exists {
		return fmt.Errorf("schedule %q not found", BalanceScheduleID)
	}
	delete(m.schedules, BalanceScheduleID)
	return nil
}

// SetUpsertError makes UpsertBalanceSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError makes DeleteBalanceSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Interval returns the balance schedule's interval, if it exists.
func (m *MockScheduler) Interval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, exists := m.schedules[BalanceScheduleID]
	return interval, exists
}
