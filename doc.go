// Package slotstat provides a composable runtime statistics engine in which
// independently written components contribute named counters and timings to
// one shared slot array.
//
// Design goals:
//   - One flat array of atomic slots per tree, sized once at assembly
//   - Lock-free counter increments; per-node locking for timing aggregates
//   - Roll-up of every event into compatible ancestors, resolved once
//   - A polling query surface for reporters (IsValidSlot, Label, Dump)
//
// Basic usage:
//
//	db := slotstat.NewDBCounters("db")
//	wait := slotstat.NewTiming("wait")
//	root, _ := slotstat.NewGroup("app", db, wait)
//
//	tree, err := slotstat.Assemble(root)
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	db.OnGet()
//	wait.OnDuration(3 * time.Millisecond)
//
//	for i := 0; i < tree.Len(); i++ {
//	  if tree.IsValidSlot(i) {
//	    fmt.Println(tree.Dump(i, false))
//	  }
//	}
package slotstat
