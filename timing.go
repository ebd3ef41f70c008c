package slotstat

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Timing slots, relative to the node.
const (
	TimingSum = iota
	TimingCount
	TimingMin
	TimingMax
	TimingAvg // float64 bits
	timingSlots
)

// Timing aggregates duration samples. Samples roll up into the nearest
// Timing ancestor, or into a Timing marked AsAggregator under a plain
// ancestor group, as resolved when the tree is assembled.
//
// Avg is smoothed towards the latest sample, avg = (avg + d) / 2; it is not
// sum/count.
type Timing struct {
	nodeBase
	unit time.Duration
	mu   sync.Mutex
	up   *Timing

	aggregator bool
}

// TimingSnapshot is a consistent read of a Timing.
type TimingSnapshot struct {
	Sum   time.Duration
	Count int64
	Min   time.Duration
	Max   time.Duration
	Avg   float64 // nanoseconds
}

// NewTiming creates a timing node rendered in microseconds
func NewTiming(name string) *Timing {
	return NewTimingUnit(name, time.Microsecond)
}

// NewTimingUnit creates a timing node rendered in the given unit
// (time.Nanosecond, time.Microsecond, time.Millisecond or time.Second).
func NewTimingUnit(name string, unit time.Duration) *Timing {
	if unit <= 0 {
		unit = time.Microsecond
	}
	t := &Timing{unit: unit}
	t.init(t, name, timingSlots)
	return t
}

// AsAggregator lets samples of timings elsewhere under the same ancestor
// group roll up into t. It must be called before assembly.
func (t *Timing) AsAggregator() *Timing {
	t.aggregator = true
	return t
}

func isTiming(n Node) bool {
	_, ok := n.(*Timing)
	return ok
}

func isTimingAggregator(n Node) bool {
	t, ok := n.(*Timing)
	return ok && t.aggregator
}

func (t *Timing) resolve() {
	if up, ok := t.rollupTarget(isTiming, isTimingAggregator).(*Timing); ok {
		t.up = up
	}
}

func (t *Timing) rollup() Node {
	if t.up == nil {
		return nil
	}
	return t.up
}

func (t *Timing) cut() { t.up = nil }

// OnDuration records one sample. Non-positive durations carry no signal
// and are dropped.
func (t *Timing) OnDuration(d time.Duration) {
	if t == nil || d <= 0 {
		return
	}
	defer t.up.OnDuration(d)
	t.record(d)
}

func (t *Timing) record(d time.Duration) {
	s := t.store()
	if s == nil {
		return
	}
	base := t.offset
	v := int64(d)

	t.mu.Lock()
	defer t.mu.Unlock()
	if recordHook != nil {
		recordHook(t)
	}

	count := s.Load(base + TimingCount)
	if count == 0 {
		s.Set(base+TimingSum, v)
		s.Set(base+TimingMin, v)
		s.Set(base+TimingMax, v)
		s.Set(base+TimingAvg, int64(math.Float64bits(float64(v))))
		s.Set(base+TimingCount, 1)
		return
	}
	s.Add(base+TimingSum, v)
	if v < s.Load(base+TimingMin) {
		s.Set(base+TimingMin, v)
	}
	if v > s.Load(base+TimingMax) {
		s.Set(base+TimingMax, v)
	}
	avg := math.Float64frombits(uint64(s.Load(base + TimingAvg)))
	s.Set(base+TimingAvg, int64(math.Float64bits((avg+float64(v))/2)))
	s.Add(base+TimingCount, 1)
}

// Since records the time elapsed since start
func (t *Timing) Since(start time.Time) {
	t.OnDuration(time.Since(start))
}

// Snapshot reads all aggregates under the node's lock
func (t *Timing) Snapshot() TimingSnapshot {
	if t == nil {
		return TimingSnapshot{}
	}
	s := t.store()
	if s == nil {
		return TimingSnapshot{}
	}
	base := t.offset

	t.mu.Lock()
	defer t.mu.Unlock()
	return TimingSnapshot{
		Sum:   time.Duration(s.Load(base + TimingSum)),
		Count: s.Load(base + TimingCount),
		Min:   time.Duration(s.Load(base + TimingMin)),
		Max:   time.Duration(s.Load(base + TimingMax)),
		Avg:   math.Float64frombits(uint64(s.Load(base + TimingAvg))),
	}
}

// Label names the sum slot only; the other slots are folded into its dump.
func (t *Timing) Label(slot int) (string, bool) {
	if slot != TimingSum || t.tree == nil {
		return "", false
	}
	return t.path, true
}

// Significant reports whether at least one sample was recorded.
func (t *Timing) Significant(slot int) bool {
	return slot == TimingSum && t.Value(TimingCount) > 0
}

// Dump renders name=sum(min/avg/max)unit, or name=sumunit for a single
// sample. compact uses the short name instead of the path.
func (t *Timing) Dump(slot int, compact bool) string {
	if slot != TimingSum || t.tree == nil {
		return ""
	}
	snap := t.Snapshot()

	b := bytebufferpool.Get()
	defer bytebufferpool.Put(b)
	if compact {
		_, _ = b.WriteString(t.name)
	} else {
		_, _ = b.WriteString(t.path)
	}
	_ = b.WriteByte('=')
	_, _ = b.WriteString(t.format(float64(snap.Sum)))
	if snap.Count > 1 {
		_ = b.WriteByte('(')
		_, _ = b.WriteString(t.format(float64(snap.Min)))
		_ = b.WriteByte('/')
		_, _ = b.WriteString(t.format(snap.Avg))
		_ = b.WriteByte('/')
		_, _ = b.WriteString(t.format(float64(snap.Max)))
		_ = b.WriteByte(')')
	}
	_, _ = b.WriteString(unitSuffix(t.unit))
	return b.String()
}

func (t *Timing) format(ns float64) string {
	return strconv.FormatFloat(ns/float64(t.unit), 'f', -1, 64)
}

func unitSuffix(unit time.Duration) string {
	switch unit {
	case time.Nanosecond:
		return "ns"
	case time.Microsecond:
		return "us"
	case time.Millisecond:
		return "ms"
	case time.Second:
		return "s"
	default:
		return unit.String()
	}
}
