package table

import (
	"fmt"
	"sync"
)

// EventKind enumerates notifications raised by a table.
type EventKind int

const (
	// ItemAdded is raised by every successful Insert.
	ItemAdded EventKind = iota + 1
	// Overrun is raised when Insert evicts the oldest record of a full table.
	Overrun
	// Underrun is raised when Remove or Peek is called on an empty table.
	Underrun
	// HighWater is raised once as an Insert brings the record count up to
	// (or past) the table's high-water level.
	HighWater
	// LowWater is raised once as a Remove brings the record count down to
	// (or below) the table's low-water level.
	LowWater
)

func (k EventKind) String() string {
	switch k {
	case ItemAdded:
		return "ItemAdded"
	case Overrun:
		return "Overrun"
	case Underrun:
		return "Underrun"
	case HighWater:
		return "HighWater"
	case LowWater:
		return "LowWater"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a notification of a table state change.
type Event struct {
	// Table is the name of the raising table.
	Table string
	Kind  EventKind
	// Count of records in the table immediately after the event.
	Count int
}

// observers is a set of subscribed event callbacks. Callbacks are invoked
// after the table lock has been released, so they may call back into the table.
type observers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (o *observers) subscribe(fn func(Event)) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[int]func(Event))
	}
	var id = o.next
	o.next++
	o.fns[id] = fn

	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	var fns = make([]func(Event), 0, len(o.fns))
	for id := 0; id != o.next; id++ {
		if fn, ok := o.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
