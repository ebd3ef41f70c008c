package pool

import (
	"time"

	"github.com/nikiz24/slotstat"
)

// Instruments is the statistics subtree a pool reports into. Attach Group
// to a larger tree, or assemble it on its own, before the pool is used.
type Instruments struct {
	Group   *slotstat.Group
	Events  slotstat.DBCounters
	Create  *slotstat.Timing // NewFunc duration
	Wait    *slotstat.Timing // Acquire call to checkout
	Exec    *slotstat.Timing // checkout to release
	Dealloc *slotstat.Timing // DestroyFunc duration of checked-out resources
}

// NewInstruments builds the subtree for a pool called name.
func NewInstruments(name string) *Instruments {
	in := &Instruments{
		Events:  slotstat.NewDBCounters("events"),
		Create:  slotstat.NewTiming("create"),
		Wait:    slotstat.NewTiming("wait"),
		Exec:    slotstat.NewTiming("exec"),
		Dealloc: slotstat.NewTiming("dealloc"),
	}
	// Fresh nodes cannot fail to attach.
	in.Group, _ = slotstat.NewGroup(name, in.Events, in.Create, in.Wait, in.Exec, in.Dealloc)
	return in
}

// The helpers below tolerate a nil *Instruments so a pool without
// statistics needs no special casing.

func (in *Instruments) onGet() {
	if in != nil {
		in.Events.OnGet()
	}
}

func (in *Instruments) onGot() {
	if in != nil {
		in.Events.OnGot()
	}
}

func (in *Instruments) onCreate() {
	if in != nil {
		in.Events.OnCreate()
	}
}

func (in *Instruments) onUnget() {
	if in != nil {
		in.Events.OnUnget()
	}
}

func (in *Instruments) onClose() {
	if in != nil {
		in.Events.OnClose()
	}
}

func (in *Instruments) createTime(start time.Time) {
	if in != nil {
		in.Create.Since(start)
	}
}

func (in *Instruments) waitTime(start time.Time) {
	if in != nil {
		in.Wait.Since(start)
	}
}

func (in *Instruments) execTime(start time.Time) {
	if in != nil {
		in.Exec.Since(start)
	}
}

func (in *Instruments) deallocTime(start time.Time) {
	if in != nil {
		in.Dealloc.Since(start)
	}
}
