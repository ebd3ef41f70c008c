package report

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nikiz24/slotstat"
)

// Collector defines a metrics collector that can provide multiple metrics
type Collector interface {
	Collect() []Metric
	Name() string
}

// Metric represents a single metric data point
type Metric struct {
	Name       string
	Value      float64
	Labels     map[string]string
	MetricType MetricType
	Timestamp  time.Time
}

// MetricType represents the type of a metric
type MetricType int

const (
	Counter MetricType = iota
	Gauge
)

// BaseCollector provides basic collector functionality
type BaseCollector struct {
	name   string
	logger *zap.Logger
}

// Name implements Collector interface
func (b *BaseCollector) Name() string {
	return b.name
}

// NewBaseCollector creates a base collector
func NewBaseCollector(name string, logger *zap.Logger) BaseCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseCollector{
		name:   name,
		logger: logger,
	}
}

// TreeCollector turns the valid slots of an assembled tree into metrics.
//
// A counter slot becomes one metric named after its label. A timing slot
// becomes five: _sum, _min, _max and _avg in seconds, and _count.
type TreeCollector struct {
	BaseCollector
	tree *slotstat.Tree
	mu   sync.Mutex // serializes polls of the same tree
}

// NewTreeCollector creates a collector over tree
func NewTreeCollector(name string, tree *slotstat.Tree, logger *zap.Logger) *TreeCollector {
	return &TreeCollector{
		BaseCollector: NewBaseCollector(name, logger),
		tree:          tree,
	}
}

// Tree returns the polled tree
func (c *TreeCollector) Tree() *slotstat.Tree { return c.tree }

// Collect implements Collector interface
func (c *TreeCollector) Collect() []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var metrics []Metric
	c.tree.Walk(func(i int, n slotstat.Node, slot int) {
		name := MetricName(c.tree.Label(i))
		t, ok := n.(*slotstat.Timing)
		if !ok {
			metrics = append(metrics, Metric{
				Name:       name,
				Value:      float64(c.tree.Value(i)),
				Labels:     map[string]string{"tree": c.name},
				MetricType: Counter,
				Timestamp:  now,
			})
			return
		}

		snap := t.Snapshot()
		for _, m := range []struct {
			suffix string
			value  float64
			typ    MetricType
		}{
			{"_sum", snap.Sum.Seconds(), Counter},
			{"_count", float64(snap.Count), Counter},
			{"_min", snap.Min.Seconds(), Gauge},
			{"_max", snap.Max.Seconds(), Gauge},
			{"_avg", snap.Avg / float64(time.Second), Gauge},
		} {
			metrics = append(metrics, Metric{
				Name:       name + "_seconds" + m.suffix,
				Value:      m.value,
				Labels:     map[string]string{"tree": c.name},
				MetricType: m.typ,
				Timestamp:  now,
			})
		}
	})
	if len(metrics) == 0 {
		c.logger.Debug("Tree has no significant slots", zap.String("collector", c.name))
	}
	return metrics
}

// MetricName maps a dotted slot label onto the Prometheus metric name
// alphabet. Every other character becomes an underscore.
func MetricName(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for i, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
