package slotstat

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Schema is the ordered list of events counted by a Counters node. Two
// Counters nodes are compatible when they share the same *Schema.
type Schema struct {
	name   string
	events []string
}

// NewSchema declares a schema; event i is counted in slot i.
func NewSchema(name string, events ...string) *Schema {
	return &Schema{name: name, events: append([]string(nil), events...)}
}

func (s *Schema) Name() string { return s.name }

func (s *Schema) Len() int { return len(s.events) }

// Event returns the name of event i
func (s *Schema) Event(i int) string {
	if i < 0 || i >= len(s.events) {
		return ""
	}
	return s.events[i]
}

// Counters counts discrete events, one slot per schema event. Events roll
// up like Timing samples, into same-schema ancestors or aggregators.
type Counters struct {
	nodeBase
	schema  *Schema
	touched atomic.Int64 // unix nanos of the last event
	up      *Counters

	aggregator bool
}

// NewCounters creates a counters node for schema
func NewCounters(name string, schema *Schema) *Counters {
	c := &Counters{schema: schema}
	c.init(c, name, schema.Len())
	return c
}

func (c *Counters) Schema() *Schema { return c.schema }

// AsAggregator lets events of same-schema counters elsewhere under the
// same ancestor group roll up into c. It must be called before assembly.
func (c *Counters) AsAggregator() *Counters {
	c.aggregator = true
	return c
}

func (c *Counters) compatible(n Node) bool {
	o, ok := n.(*Counters)
	return ok && o.schema == c.schema
}

func (c *Counters) aggregates(n Node) bool {
	o, ok := n.(*Counters)
	return ok && o.schema == c.schema && o.aggregator
}

func (c *Counters) resolve() {
	if up, ok := c.rollupTarget(c.compatible, c.aggregates).(*Counters); ok {
		c.up = up
	}
}

func (c *Counters) rollup() Node {
	if c.up == nil {
		return nil
	}
	return c.up
}

func (c *Counters) cut() { c.up = nil }

// OnEvent counts one occurrence of event ev here and in every compatible
// ancestor.
func (c *Counters) OnEvent(ev int) {
	if c == nil {
		return
	}
	defer c.up.OnEvent(ev)
	i := c.slot(ev)
	if i < 0 {
		return
	}
	if recordHook != nil {
		recordHook(c)
	}
	c.touched.Store(time.Now().UnixNano())
	c.tree.store.Add(i, 1)
}

// Count returns the value of event ev
func (c *Counters) Count(ev int) int64 {
	if c == nil || ev < 0 || ev >= c.own {
		return 0
	}
	return c.Value(ev)
}

// LastTouched returns the time of the last recorded event, or the zero time.
func (c *Counters) LastTouched() time.Time {
	if c == nil {
		return time.Time{}
	}
	ns := c.touched.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Counters) Label(slot int) (string, bool) {
	if c.tree == nil || slot < 0 || slot >= c.own {
		return "", false
	}
	return c.path + "." + c.schema.events[slot], true
}

// Significant reports whether the node has seen any event yet.
func (c *Counters) Significant(slot int) bool {
	return slot >= 0 && slot < c.own && c.touched.Load() != 0
}

// Dump renders label=value. compact drops the path prefix.
func (c *Counters) Dump(slot int, compact bool) string {
	label, ok := c.Label(slot)
	if !ok {
		return ""
	}
	if compact {
		label = c.schema.events[slot]
	}
	return label + "=" + strconv.FormatInt(c.Value(slot), 10)
}
