package event

// Sink receives committed events. Implementations must not block the
// engine; slow consumers should buffer or drop.
type Sink interface {
	Publish(ev Event)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}

// Recorder accumulates events in order, for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.Events = append(r.Events, ev)
}

// OfType returns the recorded events with the given type name.
func (r *Recorder) OfType(name string) []Event {
	var out []Event
	for _, ev := range r.Events {
		if ev.Type() == name {
			out = append(out, ev)
		}
	}
	return out
}
