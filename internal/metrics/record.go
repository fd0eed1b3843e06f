// Package metrics implements the per-proxy MetricsRecord: invocation
// counters, a fixed-bucket latency histogram, a ring buffer of recent
// dispatch outcomes, and a per-message-name breakdown of the same
// aggregate counters, per the dispatch metrics rules in the bridge's proxy
// contract.
//
// Grounded on hcsshim's internal/log duration formatting conventions for the
// millisecond-bucketing idiom. Record itself stays a plain counted struct
// rather than a prometheus.Collector because its primary consumer is the
// ABI's proxy.get_metrics-style snapshot; collector.go adapts a set of these
// records onto github.com/prometheus/client_golang for hosts that also want
// to scrape them.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// bucketBoundsMs are the fixed latency histogram bucket upper bounds in
// milliseconds. A sample falls into the first bucket whose bound is >= the
// sample; anything larger falls into the terminal overflow bucket.
var bucketBoundsMs = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

// RecentEntry is one ring-buffer slot: the outcome of a single dispatch.
type RecentEntry struct {
	Message    string
	Success    bool
	DurationMs float64
	Timestamp  time.Time
	Error      string
}

// Record is a proxy's dispatch metrics. All fields are mutated only through
// Observe, which applies the full arithmetic in one atomic update (guarded
// by mu) so readers never see a partially-updated snapshot, and through
// SetRecentLimit, which resizes the ring buffer under the same lock.
type Record struct {
	mu sync.Mutex

	invocations int64
	failures    int64

	cumulativeDurationMs float64
	lastDurationMs       float64
	minDurationMs        *float64
	maxDurationMs        float64

	successStreak int64

	lastOutcomeSuccess bool
	lastTimestamp      time.Time
	lastError          string

	buckets   []int64 // parallel to bucketBoundsMs
	overflow  int64   // >1000ms bucket
	recent    []RecentEntry
	recentCap int

	perMessage map[string]*messageCounter
}

// messageCounter is the per-message mirror of Record's aggregate counters,
// keyed by message name so a caller can tell "get" apart from "set" instead
// of only seeing the proxy-wide total.
type messageCounter struct {
	invocations          int64
	failures             int64
	cumulativeDurationMs float64
	lastDurationMs       float64
}

// NewRecord returns a zeroed Record with the given recent-entry ring buffer
// capacity. recentCap <= 0 is treated as the spec default of 16.
func NewRecord(recentCap int) *Record {
	if recentCap <= 0 {
		recentCap = 16
	}
	return &Record{
		buckets:    make([]int64, len(bucketBoundsMs)),
		recentCap:  recentCap,
		perMessage: make(map[string]*messageCounter),
	}
}

// SetRecentLimit changes the ring buffer capacity, trimming existing entries
// if shrinking. This is the setter the spec's open questions call for since
// the original source never exposed one.
func (r *Record) SetRecentLimit(n int) {
	if n <= 0 {
		n = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentCap = n
	if len(r.recent) > n {
		r.recent = append([]RecentEntry(nil), r.recent[len(r.recent)-n:]...)
	}
}

// Observe records one dispatch outcome: message name, whether it succeeded,
// its duration, and an error string (ignored when success is true).
func (r *Record) Observe(message string, success bool, duration time.Duration, errMsg string) {
	durationMs := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.invocations++
	if !success {
		r.failures++
		r.successStreak = 0
	} else {
		r.successStreak++
	}

	r.cumulativeDurationMs += durationMs
	r.lastDurationMs = durationMs
	if r.minDurationMs == nil || durationMs < *r.minDurationMs {
		m := durationMs
		r.minDurationMs = &m
	}
	if durationMs > r.maxDurationMs {
		r.maxDurationMs = durationMs
	}

	r.attributeBucket(durationMs)

	r.lastOutcomeSuccess = success
	r.lastTimestamp = time.Now()
	if !success {
		r.lastError = errMsg
	} else {
		r.lastError = ""
	}

	entry := RecentEntry{
		Message:    message,
		Success:    success,
		DurationMs: durationMs,
		Timestamp:  r.lastTimestamp,
		Error:      errMsg,
	}
	r.pushRecent(entry)

	mc, ok := r.perMessage[message]
	if !ok {
		mc = &messageCounter{}
		r.perMessage[message] = mc
	}
	mc.invocations++
	if !success {
		mc.failures++
	}
	mc.cumulativeDurationMs += durationMs
	mc.lastDurationMs = durationMs
}

func (r *Record) attributeBucket(durationMs float64) {
	for i, bound := range bucketBoundsMs {
		if durationMs <= bound {
			r.buckets[i]++
			return
		}
	}
	r.overflow++
}

func (r *Record) pushRecent(e RecentEntry) {
	if len(r.recent) >= r.recentCap {
		drop := len(r.recent) - r.recentCap + 1
		r.recent = r.recent[drop:]
	}
	r.recent = append(r.recent, e)
}

// Snapshot is an immutable point-in-time view of a Record's counters,
// returned by Record.Snapshot so callers (status calls, tests) never race
// with concurrent Observe calls.
type Snapshot struct {
	Invocations          int64
	Failures             int64
	SuccessRate          float64
	FailureRate          float64
	CumulativeDurationMs float64
	AverageDurationMs    float64
	LastDurationMs       float64
	MinDurationMs        float64
	HasMin               bool
	MaxDurationMs        float64
	SuccessStreak        int64
	LastOutcomeSuccess   bool
	LastTimestamp        time.Time
	LastError            string
	Buckets              map[string]int64
	Recent               []RecentEntry
	PerMessage           map[string]MessageSnapshot
}

// MessageSnapshot mirrors Snapshot's aggregate counters but scoped to a
// single message name, per the spec's "per-message sub-records mirror the
// aggregate counters" rule.
type MessageSnapshot struct {
	Invocations          int64
	Failures             int64
	SuccessRate          float64
	FailureRate          float64
	CumulativeDurationMs float64
	AverageDurationMs    float64
	LastDurationMs       float64
}

// bucketLabel renders a bucket's upper bound the conventional way: integer
// milliseconds, since every fixed bound in bucketBoundsMs is a whole number.
func bucketLabel(bound float64) string {
	return "<=" + strconv.FormatInt(int64(bound), 10) + "ms"
}

// Snapshot returns a copy of the record's current state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var failureRate float64
	if r.invocations > 0 {
		failureRate = float64(r.failures) / float64(r.invocations)
	}
	if failureRate > 1 {
		failureRate = 1
	}
	if failureRate < 0 {
		failureRate = 0
	}

	var avg float64
	if r.invocations > 0 {
		avg = r.cumulativeDurationMs / float64(r.invocations)
	}

	buckets := make(map[string]int64, len(bucketBoundsMs)+1)
	for i, bound := range bucketBoundsMs {
		buckets[bucketLabel(bound)] = r.buckets[i]
	}
	buckets[">1000ms"] = r.overflow

	recentCopy := make([]RecentEntry, len(r.recent))
	copy(recentCopy, r.recent)

	perMessage := make(map[string]MessageSnapshot, len(r.perMessage))
	for name, mc := range r.perMessage {
		var mFailureRate float64
		if mc.invocations > 0 {
			mFailureRate = float64(mc.failures) / float64(mc.invocations)
		}
		var mAvg float64
		if mc.invocations > 0 {
			mAvg = mc.cumulativeDurationMs / float64(mc.invocations)
		}
		perMessage[name] = MessageSnapshot{
			Invocations:          mc.invocations,
			Failures:             mc.failures,
			SuccessRate:          1 - mFailureRate,
			FailureRate:          mFailureRate,
			CumulativeDurationMs: mc.cumulativeDurationMs,
			AverageDurationMs:    mAvg,
			LastDurationMs:       mc.lastDurationMs,
		}
	}

	snap := Snapshot{
		Invocations:          r.invocations,
		Failures:             r.failures,
		SuccessRate:          1 - failureRate,
		FailureRate:          failureRate,
		CumulativeDurationMs: r.cumulativeDurationMs,
		AverageDurationMs:    avg,
		LastDurationMs:       r.lastDurationMs,
		MaxDurationMs:        r.maxDurationMs,
		SuccessStreak:        r.successStreak,
		LastOutcomeSuccess:   r.lastOutcomeSuccess,
		LastTimestamp:        r.lastTimestamp,
		LastError:            r.lastError,
		Buckets:              buckets,
		Recent:               recentCopy,
		PerMessage:           perMessage,
	}
	if r.minDurationMs != nil {
		snap.MinDurationMs = *r.minDurationMs
		snap.HasMin = true
	}
	return snap
}

// BucketTotal sums every bucket count including the overflow bucket, which
// must equal Invocations per the histogram invariant.
func (s Snapshot) BucketTotal() int64 {
	var total int64
	for _, v := range s.Buckets {
		total += v
	}
	return total
}
