// Package otelexport publishes the valid slots of a slotstat tree as
// OpenTelemetry observable gauges.
package otelexport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nikiz24/slotstat"
)

var (
	ErrNilMeter = errors.New("nil meter")
	ErrNilTree  = errors.New("nil statistics tree")
)

// Exporter observes a tree on every collection of the meter's reader.
// Counter slots are reported on the slotstat.counter gauge with a slot
// attribute; timings on slotstat.timing, in seconds, with slot and stat
// attributes.
type Exporter struct {
	tree         *slotstat.Tree
	registration metric.Registration
	counters     metric.Int64ObservableGauge
	timings      metric.Float64ObservableGauge
}

func New(meter metric.Meter, tree *slotstat.Tree) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if tree == nil {
		return nil, ErrNilTree
	}

	e := &Exporter{tree: tree}

	var err error
	e.counters, err = meter.Int64ObservableGauge("slotstat.counter",
		metric.WithDescription("Event counter slots of a statistics tree."))
	if err != nil {
		return nil, fmt.Errorf("create counter gauge: %w", err)
	}
	e.timings, err = meter.Float64ObservableGauge("slotstat.timing",
		metric.WithDescription("Timing aggregates of a statistics tree."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create timing gauge: %w", err)
	}

	e.registration, err = meter.RegisterCallback(e.observe, e.counters, e.timings)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	e.tree.Walk(func(i int, n slotstat.Node, _ int) {
		slot := attribute.String("slot", e.tree.Label(i))

		t, ok := n.(*slotstat.Timing)
		if !ok {
			observer.ObserveInt64(e.counters, e.tree.Value(i), metric.WithAttributes(slot))
			return
		}

		snap := t.Snapshot()
		for _, s := range []struct {
			stat  string
			value float64
		}{
			{"sum", snap.Sum.Seconds()},
			{"count", float64(snap.Count)},
			{"min", snap.Min.Seconds()},
			{"max", snap.Max.Seconds()},
			{"avg", snap.Avg / float64(time.Second)},
		} {
			observer.ObserveFloat64(e.timings, s.value,
				metric.WithAttributes(slot, attribute.String("stat", s.stat)))
		}
	})
	return nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
