// Package eventserver forwards events between the server local bus and
// remote stream clients.
package eventserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/eventbus"
	"github.com/centrifugal/evbridge/internal/pubsub"
	"github.com/centrifugal/evbridge/internal/sse"

	"github.com/rs/zerolog/log"
)

// ClientEventPrefix is prepended to client-originated events re-emitted on
// the local bus, so listeners of a bare event name never receive them.
const ClientEventPrefix = "client:"

// ClientEventMeta is the last argument of a re-emitted client event.
type ClientEventMeta struct {
	// Event is the original event name.
	Event string
	// Sender is the session resolved from the trusted header, nil when the
	// publish came without a known session.
	Sender pubsub.Session
}

// SenderID returns trusted id of the sender or empty string.
func (m ClientEventMeta) SenderID() string {
	if m.Sender == nil {
		return ""
	}
	return m.Sender.ID()
}

// Config of Server.
type Config struct {
	// AutoInjectToLocalBus enables re-emitting client-published events on the
	// local bus under ClientEventPrefix. Off by default.
	AutoInjectToLocalBus bool
}

// Server exposes list, sub, unsub and publish operations.
type Server struct {
	bus        eventbus.Emitter
	transport  pubsub.ServerTransport
	autoInject atomic.Bool

	mu       sync.Mutex
	forwards map[string]*eventbus.Subscription
}

// New creates Server. Transport may be nil, then stream operations fail
// with apiproto.ErrorNotImplemented.
func New(bus eventbus.Emitter, transport pubsub.ServerTransport, cfg Config) *Server {
	s := &Server{
		bus:       bus,
		transport: transport,
		forwards:  make(map[string]*eventbus.Subscription),
	}
	s.autoInject.Store(cfg.AutoInjectToLocalBus)
	return s
}

// SetAutoInjectToLocalBus toggles re-emitting client events on the local bus.
func (s *Server) SetAutoInjectToLocalBus(enabled bool) {
	s.autoInject.Store(enabled)
}

// AutoInjectToLocalBus reports whether client events are re-emitted locally.
func (s *Server) AutoInjectToLocalBus() bool {
	return s.autoInject.Load()
}

// Transport returns configured transport, may be nil.
func (s *Server) Transport() pubsub.ServerTransport {
	return s.transport
}

// List connects a stream client and blocks until its stream ends.
func (s *Server) List(w http.ResponseWriter, r *http.Request, events []string) error {
	if s.transport == nil {
		return apiproto.ErrorNotImplemented.WithMessage("pubsub transport not available")
	}
	session, err := s.transport.Connect(pubsub.ConnectOptions{Request: r, Response: w, Events: events})
	if err != nil {
		return err
	}
	return session.Serve(r.Context())
}

// Forward starts forwarding local bus events to the transport. Each event
// gets one forwarding listener no matter how many times it is forwarded.
func (s *Server) Forward(events ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		if _, ok := s.forwards[event]; ok {
			continue
		}
		s.forwards[event] = s.bus.On(event, s.forwardListener)
	}
}

// Unforward detaches forwarding listeners of events. Unknown events are
// ignored.
func (s *Server) Unforward(events ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		sub, ok := s.forwards[event]
		if !ok {
			continue
		}
		s.bus.Off(sub)
		delete(s.forwards, event)
	}
}

// IsForwarded reports whether local bus event is forwarded.
func (s *Server) IsForwarded(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.forwards[event]
	return ok
}

func (s *Server) forwardListener(e eventbus.Event) {
	if s.transport == nil {
		return
	}
	if err := s.transport.Publish(e.Name, e.Args); err != nil {
		log.Debug().Err(err).Str("event", e.Name).Msg("error forwarding local event")
	}
}

// PublishServerEvent sends event to stream clients directly, to targets only
// when given.
func (s *Server) PublishServerEvent(event string, data any, targets ...string) error {
	if s.transport == nil {
		return apiproto.ErrorNotImplemented.WithMessage("pubsub transport not available")
	}
	return s.transport.Publish(event, data, targets...)
}

// Sub forwards events to stream clients and narrows the filter of the
// caller's session when it can be resolved.
func (s *Server) Sub(r *http.Request, events []string) (*apiproto.SubResult, error) {
	if s.transport == nil {
		return nil, apiproto.ErrorNotImplemented.WithMessage("pubsub transport not available")
	}
	if len(events) == 0 {
		return nil, apiproto.ErrorInvalidArgument.WithMessage("event is required")
	}
	s.Forward(events...)

	session := s.transport.SessionFromRequest(r)
	if session == nil {
		log.Debug().Strs("event", events).Msg("sub: no session found for request")
		return &apiproto.SubResult{Forward: true, Event: events}, nil
	}
	if err := s.transport.Subscribe(session, events); err != nil {
		return nil, fmt.Errorf("error subscribing session: %w", err)
	}
	subscribed := true
	return &apiproto.SubResult{
		Forward:    true,
		Subscribed: &subscribed,
		Event:      events,
		ClientID:   session.ID(),
	}, nil
}

// Unsub reverts Sub.
func (s *Server) Unsub(r *http.Request, events []string) (*apiproto.SubResult, error) {
	if s.transport == nil {
		return nil, apiproto.ErrorNotImplemented.WithMessage("pubsub transport not available")
	}
	if len(events) == 0 {
		return nil, apiproto.ErrorInvalidArgument.WithMessage("event is required")
	}
	s.Unforward(events...)

	session := s.transport.SessionFromRequest(r)
	if session == nil {
		log.Debug().Strs("event", events).Msg("unsub: no session found for request")
		return &apiproto.SubResult{Forward: false, Event: events}, nil
	}
	if err := s.transport.Unsubscribe(session, events); err != nil {
		return nil, fmt.Errorf("error unsubscribing session: %w", err)
	}
	subscribed := false
	return &apiproto.SubResult{
		Forward:    false,
		Subscribed: &subscribed,
		Event:      events,
		ClientID:   session.ID(),
	}, nil
}

// Publish re-broadcasts client-published events to stream clients. The
// sender is resolved from the trusted header only. When auto-inject is on
// each event is also emitted on the local bus as ClientEventPrefix+event
// with data and ClientEventMeta as arguments.
func (s *Server) Publish(r *http.Request, events []string, data any) (*apiproto.PublishResult, error) {
	if len(events) == 0 || isEmptyData(data) {
		return nil, apiproto.ErrorInvalidArgument.WithMessage("event and data are required")
	}
	for _, event := range events {
		if !sse.ValidEventName(event) {
			return nil, apiproto.ErrorInvalidArgument.WithMessage("event name must not contain line breaks")
		}
	}
	var session pubsub.Session
	if s.transport != nil {
		session = s.transport.SessionFromRequest(r)
	}
	autoInject := s.autoInject.Load()

	for _, event := range events {
		if autoInject {
			s.bus.Emit(ClientEventPrefix+event, localValue(data), ClientEventMeta{Event: event, Sender: session})
		}
		if s.transport == nil {
			continue
		}
		if err := s.transport.Publish(event, data); err != nil {
			return nil, err
		}
	}

	res := &apiproto.PublishResult{Event: events}
	if session != nil {
		res.SenderID = session.ID()
	}
	return res, nil
}

func isEmptyData(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case apiproto.Raw:
		return v.IsEmpty() || string(v) == `""`
	case json.RawMessage:
		return len(v) == 0 || string(v) == "null" || string(v) == `""`
	case string:
		return v == ""
	default:
		return false
	}
}

func localValue(data any) any {
	var raw []byte
	switch v := data.(type) {
	case apiproto.Raw:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		return data
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	return value
}
