// Package pubsub defines transports connecting the event bridge with remote
// stream clients, on both the server and the client side.
package pubsub

import (
	"context"
	"net/http"
	"net/url"
)

// DefaultClientIDHeader is the trusted request header resolving a session.
const DefaultClientIDHeader = "X-Client-Id"

// Ctx describes a received message.
type Ctx struct {
	Event string
	// ID is the last message id seen on the stream.
	ID string
}

// Session is the server side handle of one connected stream.
type Session interface {
	// ID is the server-assigned client id.
	ID() string
	Protocol() string
	// Send delivers event to this session only.
	Send(event string, data any) error
	Close()
	// Serve streams to the remote party until the session ends. Must be
	// called from the goroutine which serves the connect request.
	Serve(ctx context.Context) error
}

// ConnectOptions of a server side connect.
type ConnectOptions struct {
	Request  *http.Request
	Response http.ResponseWriter
	// Events is the initial subscription filter, nil to receive everything.
	Events []string
}

// ServerTransport is a server side pub/sub transport.
type ServerTransport interface {
	Name() string
	Protocol() string
	Connect(opts ConnectOptions) (Session, error)
	// SessionFromRequest resolves a session using the trusted client id
	// header only. Returns nil when there is none.
	SessionFromRequest(r *http.Request) Session
	Subscribe(s Session, events []string) error
	Unsubscribe(s Session, events []string) error
	// Publish broadcasts event to matching sessions or, when targets are
	// given, to those sessions only.
	Publish(event string, data any, targets ...string) error
	OnConnection(fn func(s Session))
	OnDisconnect(fn func(s Session))
}

// ReadyState of a client stream.
type ReadyState int32

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Listener receives decoded message data.
type Listener func(data any, ctx Ctx)

// Handle owns one listener registration on a client stream.
type Handle struct {
	event    string
	listener Listener
}

// Event the handle listens to.
func (h *Handle) Event() string {
	return h.event
}

// ClientStream is the client side handle of an open stream.
type ClientStream interface {
	ClientID() string
	Protocol() string
	ReadyState() ReadyState
	On(event string, l Listener) *Handle
	// Off removes exactly the registration returned by On.
	Off(h *Handle) bool
	Close()
}

// ClientTransport is a client side pub/sub transport.
type ClientTransport interface {
	SetAPIRoot(root string)
	// Connect opens a stream and waits until the server assigns a client id.
	Connect(ctx context.Context, address string, params url.Values) (ClientStream, error)
	Disconnect(s ClientStream)
}
