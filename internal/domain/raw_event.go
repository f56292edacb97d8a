package domain

// RawEvent is one decoded event delivery from the source adapter, before
// normalization. Kind is the source's event name verbatim; Fields is the
// decoded payload bag. The same signature may be delivered more than once.
type RawEvent struct {
	Kind      string
	Fields    map[string]any
	Signature string
	Slot      int64
}
