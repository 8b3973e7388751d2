// Package cronexpr evaluates cron expressions in a named time zone.
package cronexpr

import (
	"errors"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // zone names must resolve on hosts without a zoneinfo database

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidExpression = errors.New("invalid cron expression")
	ErrInvalidTimeZone   = errors.New("invalid time zone")
)

// Evaluator returns the first instant strictly after ref that matches expr,
// evaluated on the wall clock of zone. An empty zone means the local zone.
type Evaluator interface {
	Next(ref time.Time, expr, zone string) (time.Time, error)
}

// parser accepts standard 5-field cron and descriptors like "@hourly".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Standard is the robfig/cron backed Evaluator. Parsed expressions and
// loaded zones are cached. The zero value is ready to use.
type Standard struct {
	mu        sync.RWMutex
	schedules map[string]cron.Schedule
	zones     map[string]*time.Location
}

// NewStandard returns an empty Standard evaluator.
func NewStandard() *Standard { return &Standard{} }

func (s *Standard) Next(ref time.Time, expr, zone string) (time.Time, error) {
	sched, err := s.parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := s.location(zone)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(ref.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrInvalidExpression, expr)
	}
	return next, nil
}

// Validate reports whether expr parses.
func (s *Standard) Validate(expr string) error {
	_, err := s.parse(expr)
	return err
}

func (s *Standard) parse(expr string) (cron.Schedule, error) {
	s.mu.RLock()
	sched, ok := s.schedules[expr]
	s.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidExpression, expr, err)
	}
	s.mu.Lock()
	if s.schedules == nil {
		s.schedules = make(map[string]cron.Schedule)
	}
	s.schedules[expr] = sched
	s.mu.Unlock()
	return sched, nil
}

func (s *Standard) location(zone string) (*time.Location, error) {
	if zone == "" {
		return time.Local, nil
	}
	s.mu.RLock()
	loc, ok := s.zones[zone]
	s.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimeZone, zone, err)
	}
	s.mu.Lock()
	if s.zones == nil {
		s.zones = make(map[string]*time.Location)
	}
	s.zones[zone] = loc
	s.mu.Unlock()
	return loc, nil
}

// Period is the gap between the first two firings of expr after ref.
func Period(e Evaluator, ref time.Time, expr, zone string) (first time.Time, period time.Duration, err error) {
	first, err = e.Next(ref, expr, zone)
	if err != nil {
		return time.Time{}, 0, err
	}
	second, err := e.Next(first, expr, zone)
	if err != nil {
		return time.Time{}, 0, err
	}
	return first, second.Sub(first), nil
}
