package sessionmap

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// sessionMetrics collects the counters of one session map. Prometheus style
// series live in a VictoriaMetrics set, rates and latency percentiles for the
// status endpoint in a go-metrics registry.
type sessionMetrics struct {
	set *vm.Set

	savesRequested *vm.Counter
	savesIssued    *vm.Counter
	savesFolded    *vm.Counter
	savesParked    *vm.Counter
	savesFailed    *vm.Counter
	loads          *vm.Counter
	loadsFailed    *vm.Counter
	bytesWritten   *vm.Counter
	saveDuration   *vm.Histogram

	registry  gometrics.Registry
	saveRate  gometrics.Meter
	saveTimer gometrics.Timer

	// mirrors of the directory state, written on the owner loop
	version   atomic.Uint64
	committed atomic.Uint64
	sessions  atomic.Int64
	waiting   atomic.Int64
}

func newSessionMetrics(rank uint64) *sessionMetrics {
	m := &sessionMetrics{
		set:      vm.NewSet(),
		registry: gometrics.NewRegistry(),
	}

	name := func(metric string, labels ...string) string {
		l := fmt.Sprintf(`rank="%d"`, rank)
		for i := 0; i+1 < len(labels); i += 2 {
			l += fmt.Sprintf(`,%s=%q`, labels[i], labels[i+1])
		}
		return fmt.Sprintf("dmds_sessionmap_%s{%s}", metric, l)
	}

	m.savesRequested = m.set.NewCounter(name("saves_total", "result", "requested"))
	m.savesIssued = m.set.NewCounter(name("saves_total", "result", "issued"))
	m.savesFolded = m.set.NewCounter(name("saves_total", "result", "folded"))
	m.savesParked = m.set.NewCounter(name("saves_total", "result", "parked"))
	m.savesFailed = m.set.NewCounter(name("saves_total", "result", "failed"))
	m.loads = m.set.NewCounter(name("loads_total", "result", "ok"))
	m.loadsFailed = m.set.NewCounter(name("loads_total", "result", "failed"))
	m.bytesWritten = m.set.NewCounter(name("written_bytes_total"))
	m.saveDuration = m.set.NewHistogram(name("save_duration_seconds"))

	m.set.NewGauge(name("version"), func() float64 { return float64(m.version.Load()) })
	m.set.NewGauge(name("committed_version"), func() float64 { return float64(m.committed.Load()) })
	m.set.NewGauge(name("sessions"), func() float64 { return float64(m.sessions.Load()) })
	m.set.NewGauge(name("waiters"), func() float64 { return float64(m.waiting.Load()) })

	m.saveRate = gometrics.NewMeter()
	m.saveTimer = gometrics.NewTimer()
	_ = m.registry.Register("saves", m.saveRate)
	_ = m.registry.Register("save.latency", m.saveTimer)

	return m
}

// observe mirrors the directory state.
func (m *sessionMetrics) observe(d *Directory) {
	m.version.Store(d.Version())
	m.committed.Store(d.Committed())
	m.sessions.Store(int64(d.Len()))
	m.waiting.Store(int64(d.tracker.Waiting()))
}

func (m *sessionMetrics) writeIssued(size int) {
	m.savesIssued.Inc()
	m.bytesWritten.Add(size)
}

func (m *sessionMetrics) writeFinished(start time.Time, err error) {
	if err != nil {
		m.savesFailed.Inc()
		return
	}
	m.saveDuration.UpdateDuration(start)
	m.saveRate.Mark(1)
	m.saveTimer.UpdateSince(start)
}

func (m *sessionMetrics) close() {
	m.registry.UnregisterAll()
}

// Stats is a point-in-time summary of a session map.
type Stats struct {
	Version        uint64        `json:"version"`
	Committed      uint64        `json:"committed"`
	Sessions       int64         `json:"sessions"`
	Waiting        int64         `json:"waiting"`
	SavesIssued    uint64        `json:"saves_issued"`
	SavesFolded    uint64        `json:"saves_folded"`
	SavesParked    uint64        `json:"saves_parked"`
	SavesFailed    uint64        `json:"saves_failed"`
	BytesWritten   uint64        `json:"bytes_written"`
	SavesPerMinute float64       `json:"saves_per_minute"`
	SaveLatencyP50 time.Duration `json:"save_latency_p50"`
	SaveLatencyP99 time.Duration `json:"save_latency_p99"`
}

func (m *sessionMetrics) stats() Stats {
	return Stats{
		Version:        m.version.Load(),
		Committed:      m.committed.Load(),
		Sessions:       m.sessions.Load(),
		Waiting:        m.waiting.Load(),
		SavesIssued:    m.savesIssued.Get(),
		SavesFolded:    m.savesFolded.Get(),
		SavesParked:    m.savesParked.Get(),
		SavesFailed:    m.savesFailed.Get(),
		BytesWritten:   m.bytesWritten.Get(),
		SavesPerMinute: m.saveRate.Rate1() * 60,
		SaveLatencyP50: time.Duration(m.saveTimer.Percentile(0.5)),
		SaveLatencyP99: time.Duration(m.saveTimer.Percentile(0.99)),
	}
}

func (m *sessionMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
