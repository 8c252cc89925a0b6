package session

import (
	"context"

	"gatepass/internal/notify"
)

// Handlers receive callbacks from an established realtime channel.
// Implementations must tolerate handlers being called from any goroutine.
type Handlers struct {
	// OnConnect fires on every (re)connect of the underlying transport.
	OnConnect func()
	// OnDisconnect fires on every drop of the underlying transport.
	OnDisconnect func()
	// OnNotification fires for each application event pushed to the viewer.
	OnNotification func(n notify.Notification)
}

// Channel is an established realtime connection for one viewer.
// Close must disconnect and detach all handlers; after Close returns no
// handler may fire again.
type Channel interface {
	Close() error
}

// Dialer establishes a realtime channel for the given viewer. The transport
// implementation (and its own reconnect policy) lives with the collaborator;
// the session manager only owns the channel's lifetime.
type Dialer func(ctx context.Context, viewerID string, h Handlers) (Channel, error)
