package timeprovider

import (
	"sync"
	"time"
)

// Provider exposes the ability to retrieve the current time.
type Provider interface {
	Now() time.Time
}

// ProviderFunc adapts a function to satisfy the Provider interface.
type ProviderFunc func() time.Time

// Now returns the result of calling the underlying function.
func (f ProviderFunc) Now() time.Time {
	return f()
}

// RealProvider delegates to time.Now.
type RealProvider struct{}

// Now returns the current time using time.Now.
func (RealProvider) Now() time.Time {
	return time.Now()
}

// FixedProvider always returns the provided timestamp.
type FixedProvider struct {
	T time.Time
}

// Now returns the fixed timestamp.
func (f FixedProvider) Now() time.Time {
	return f.T
}

// ManualProvider is a clock that only moves when told to. Safe for
// concurrent use.
type ManualProvider struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual returns a ManualProvider set to t.
func NewManual(t time.Time) *ManualProvider {
	return &ManualProvider{t: t}
}

func (m *ManualProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Set moves the clock to t.
func (m *ManualProvider) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *ManualProvider) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
	return m.t
}
