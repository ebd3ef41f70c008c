package slotstat_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikiz24/slotstat"
)

func TestCountersRollUpThroughNestedAncestors(t *testing.T) {
	const depth = 4

	leaf := slotstat.NewDBCounters("leaf")
	ancestors := make([]slotstat.DBCounters, depth)
	var child slotstat.Node = leaf
	for k := depth - 1; k >= 0; k-- {
		ancestors[k] = slotstat.NewDBCounters("level")
		// A plain group in between must not break the chain.
		g, err := slotstat.NewGroup("", child)
		require.NoError(t, err)
		require.NoError(t, ancestors[k].Add(g))
		child = ancestors[k]
	}
	_, err := slotstat.Assemble(child)
	require.NoError(t, err)

	leaf.OnUnget()

	assert.Equal(t, int64(1), leaf.Count(slotstat.DBUnget))
	for k, a := range ancestors {
		assert.Equal(t, int64(1), a.Count(slotstat.DBUnget), "ancestor %d", k)
		assert.Equal(t, int64(0), a.Count(slotstat.DBGet), "ancestor %d", k)
	}
}

func TestCountersIgnoreIncompatibleAncestors(t *testing.T) {
	runner := slotstat.NewRunnerCounters("runner")
	db := slotstat.NewDBCounters("db")
	require.NoError(t, runner.Add(db))
	_, err := slotstat.Assemble(runner)
	require.NoError(t, err)

	db.OnGet()

	assert.Equal(t, int64(1), db.Count(slotstat.DBGet))
	for ev := 0; ev < slotstat.RunnerEvents.Len(); ev++ {
		assert.Equal(t, int64(0), runner.Count(ev))
	}
}

func TestCountersRollUpToSiblingAggregator(t *testing.T) {
	total := slotstat.NewDBCounters("total")
	total.AsAggregator()
	a := slotstat.NewDBCounters("a")
	b := slotstat.NewDBCounters("b")
	nested, err := slotstat.NewGroup("nested", b)
	require.NoError(t, err)
	root, err := slotstat.NewGroup("root", total, a, nested)
	require.NoError(t, err)
	_, err = slotstat.Assemble(root)
	require.NoError(t, err)

	a.OnGet()
	b.OnGet()
	b.OnCreate()

	assert.Equal(t, int64(2), total.Count(slotstat.DBGet))
	assert.Equal(t, int64(1), total.Count(slotstat.DBCreate))
	assert.Equal(t, int64(1), a.Count(slotstat.DBGet))
	assert.Equal(t, int64(1), b.Count(slotstat.DBGet))
}

func TestCountersAggregatorInsideItsTarget(t *testing.T) {
	parent := slotstat.NewDBCounters("parent")
	child := slotstat.NewDBCounters("child")
	child.AsAggregator()
	require.NoError(t, parent.Add(child))
	root, err := slotstat.NewGroup("root", parent)
	require.NoError(t, err)
	_, err = slotstat.Assemble(root)
	require.NoError(t, err)

	parent.OnGet()
	child.OnGet()

	assert.Equal(t, int64(2), parent.Count(slotstat.DBGet))
	assert.Equal(t, int64(1), child.Count(slotstat.DBGet))
}

func TestCountersSiblingAggregatorsDoNotLoop(t *testing.T) {
	first := slotstat.NewDBCounters("first")
	first.AsAggregator()
	second := slotstat.NewDBCounters("second")
	second.AsAggregator()
	nested, err := slotstat.NewGroup("nested", second)
	require.NoError(t, err)
	root, err := slotstat.NewGroup("root", first, nested)
	require.NoError(t, err)
	_, err = slotstat.Assemble(root)
	require.NoError(t, err)

	first.OnGot()
	second.OnGot()

	assert.Equal(t, int64(2), first.Count(slotstat.DBGot))
	assert.Equal(t, int64(1), second.Count(slotstat.DBGot))
}

func TestRunnerCloseAndCheckAreDistinct(t *testing.T) {
	runner := slotstat.NewRunnerCounters("runner")
	_, err := slotstat.Assemble(runner)
	require.NoError(t, err)

	runner.OnClose()
	runner.OnCheck()
	runner.OnCheck()

	assert.Equal(t, int64(1), runner.Count(slotstat.RunnerClose))
	assert.Equal(t, int64(2), runner.Count(slotstat.RunnerCheck))
	assert.Equal(t, "close", slotstat.RunnerEvents.Event(slotstat.RunnerClose))
	assert.Equal(t, "check", slotstat.RunnerEvents.Event(slotstat.RunnerCheck))
}

func TestCountersSignificantAfterTouch(t *testing.T) {
	db := slotstat.NewDBCounters("db")
	_, err := slotstat.Assemble(db)
	require.NoError(t, err)

	assert.False(t, db.Significant(slotstat.DBGet))
	assert.True(t, db.LastTouched().IsZero())

	db.OnEvent(99) // unknown events are dropped
	assert.False(t, db.Significant(slotstat.DBGet))

	db.OnGot()
	assert.True(t, db.Significant(slotstat.DBGet))
	assert.False(t, db.LastTouched().IsZero())
}

func TestCountersConcurrentEvents(t *testing.T) {
	parent := slotstat.NewRunnerCounters("parent")
	child := slotstat.NewRunnerCounters("child")
	require.NoError(t, parent.Add(child))
	_, err := slotstat.Assemble(parent)
	require.NoError(t, err)

	const cycle = 1000
	const amount = 100
	wg := sync.WaitGroup{}
	wg.Add(amount)
	for range [amount]struct{}{} {
		go func() {
			defer wg.Done()
			for range [cycle]struct{}{} {
				child.OnRead()
				child.OnWrite()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(cycle*amount), child.Count(slotstat.RunnerRead))
	assert.Equal(t, int64(cycle*amount), parent.Count(slotstat.RunnerWrite))
}
