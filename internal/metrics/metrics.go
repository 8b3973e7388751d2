package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leasecron"

// Metrics counts scheduling transitions. A nil *Metrics records nothing.
type Metrics struct {
	PolledRows      prometheus.Counter
	Acquired        prometheus.Counter
	AcquireLost     prometheus.Counter
	Finished        prometheus.Counter
	FinishLate      prometheus.Counter
	Retried         prometheus.Counter
	StaleReconciled prometheus.Counter
	StaleFailed     prometheus.Counter
}

// New registers the counters with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return f.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	return &Metrics{
		PolledRows:      counter("polled_rows_total", "Due rows returned by poll."),
		Acquired:        counter("acquired_total", "Rows leased by acquireAll."),
		AcquireLost:     counter("acquire_lost_total", "Candidate rows acquireAll did not end up owning."),
		Finished:        counter("finished_total", "Leases completed and rescheduled."),
		FinishLate:      counter("finish_late_total", "Finish or retry calls that matched no live lease."),
		Retried:         counter("retried_total", "Leases released without rescheduling."),
		StaleReconciled: counter("stale_reconciled_total", "Missed rows fast-forwarded to their next run."),
		StaleFailed:     counter("stale_failed_total", "Missed rows whose next run could not be computed."),
	}
}

func add(c prometheus.Counter, n int) {
	if n > 0 {
		c.Add(float64(n))
	}
}

func (m *Metrics) ObservePoll(n int) {
	if m != nil {
		add(m.PolledRows, n)
	}
}

func (m *Metrics) ObserveAcquire(candidates, owned int) {
	if m == nil {
		return
	}
	add(m.Acquired, owned)
	add(m.AcquireLost, candidates-owned)
}

func (m *Metrics) ObserveFinish(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Finished.Inc()
	} else {
		m.FinishLate.Inc()
	}
}

func (m *Metrics) ObserveRetry(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Retried.Inc()
	} else {
		m.FinishLate.Inc()
	}
}

func (m *Metrics) ObserveStales(reconciled, failed int) {
	if m == nil {
		return
	}
	add(m.StaleReconciled, reconciled)
	add(m.StaleFailed, failed)
}
