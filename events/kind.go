package events

import "strings"

// Kind is the kind of an event router call. Filters and routing use the base
// kinds; the Specific kinds only label metrics and logs.
type Kind string

const (
	KindOnBroadcast        Kind = "onBroadcast"
	KindEmitBroadcast      Kind = "emitBroadcast"
	KindOnEvent            Kind = "onEvent"
	KindEmitEvent          Kind = "emitEvent"
	KindOnReturnableEvent  Kind = "onReturnableEvent"
	KindEmitEventAndReturn Kind = "emitEventAndReturn"
	KindReceiveStream      Kind = "receiveStream"
	KindSendStream         Kind = "sendStream"

	KindOnEventSpecific            Kind = "onEventSpecific"
	KindEmitEventSpecific          Kind = "emitEventSpecific"
	KindOnReturnableEventSpecific  Kind = "onReturnableEventSpecific"
	KindEmitEventAndReturnSpecific Kind = "emitEventAndReturnSpecific"
)

// BaseKinds are the kinds a filter can name.
var BaseKinds = []Kind{
	KindOnBroadcast, KindEmitBroadcast,
	KindOnEvent, KindEmitEvent,
	KindOnReturnableEvent, KindEmitEventAndReturn,
	KindReceiveStream, KindSendStream,
}

// AllKinds are every kind the router instruments.
var AllKinds = append(append([]Kind(nil), BaseKinds...),
	KindOnEventSpecific, KindEmitEventSpecific,
	KindOnReturnableEventSpecific, KindEmitEventAndReturnSpecific,
)

// Base returns the kind used for routing.
func (k Kind) Base() Kind {
	switch k {
	case KindOnEventSpecific:
		return KindOnEvent
	case KindEmitEventSpecific:
		return KindEmitEvent
	case KindOnReturnableEventSpecific:
		return KindOnReturnableEvent
	case KindEmitEventAndReturnSpecific:
		return KindEmitEventAndReturn
	}
	return k
}

// Key addresses an event: the plugin owning it, the event name and, for
// point-to-point delivery, the target server id.
type Key struct {
	Plugin   string
	Event    string
	ServerID string
}

// EventName returns the event name, suffixed with -{ServerID} when targeted.
func (k Key) EventName() string {
	if k.ServerID == "" {
		return k.Event
	}
	return k.Event + "-" + k.ServerID
}

// Topic returns the composite name "{plugin}-{event}[-{serverId}]" backends
// deliver on.
func (k Key) Topic() string {
	var b strings.Builder
	b.Grow(len(k.Plugin) + len(k.Event) + len(k.ServerID) + 2)
	b.WriteString(k.Plugin)
	b.WriteByte('-')
	b.WriteString(k.EventName())
	return b.String()
}
