package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-lynx/servicebase/plugins"
)

var (
	// ErrNoBackendFound is returned when no backend binding accepts a call.
	// It is a configuration error.
	ErrNoBackendFound = fmt.Errorf("%w: no events backend found", plugins.ErrConfiguration)

	// ErrTimeout is returned when a returnable event gets no answer in time.
	ErrTimeout = errors.New("Timeout") //nolint:staticcheck // message is part of the wire contract

	// ErrStreamNotFound is returned when sending to an unknown or expired stream id.
	ErrStreamNotFound = errors.New("stream not found")
)

// DefaultTimeout applies to returnable events and stream receivers when no
// timeout is given.
const DefaultTimeout = 5 * time.Second

// Listener handles events and broadcasts. args are the values given to the emit call.
type Listener func(ctx context.Context, traceID string, args []any) error

// ReturnableListener answers a returnable event.
type ReturnableListener func(ctx context.Context, traceID string, args []any) (any, error)

// StreamListener receives a stream. err is ErrTimeout when nothing was sent
// before the receiver expired, r is nil then.
type StreamListener func(ctx context.Context, err error, r io.Reader) error

// Backend is the events backend contract the router dispatches to. Keys are
// routed already; a backend only delivers on Key.Topic().
type Backend interface {
	OnBroadcast(ctx context.Context, key Key, listener Listener) error
	EmitBroadcast(ctx context.Context, key Key, traceID string, args []any) error

	OnEvent(ctx context.Context, key Key, listener Listener) error
	EmitEvent(ctx context.Context, key Key, traceID string, args []any) error

	OnReturnableEvent(ctx context.Context, key Key, listener ReturnableListener) error
	EmitEventAndReturn(ctx context.Context, key Key, traceID string, timeout time.Duration, args []any) (any, error)

	// ReceiveStream registers a one-shot stream receiver and returns its id.
	ReceiveStream(ctx context.Context, key Key, listener StreamListener, timeout time.Duration) (string, error)
	// SendStream hands r to the receiver registered under streamID.
	SendStream(ctx context.Context, key Key, streamID string, r io.Reader) error
}

// ParseFilter parses an events backend filter keyed by base event kinds.
func ParseFilter(raw any) (*plugins.Filter, error) {
	known := make([]string, len(BaseKinds))
	for i, k := range BaseKinds {
		known[i] = string(k)
	}
	return plugins.ParseFilter(raw, known)
}
