package emit

// NullEmitter discards all events. Used when observability is disabled and
// as the default so callers never need a nil check before Emit.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter by doing nothing.
func (n *NullEmitter) Emit(_ Event) {}
