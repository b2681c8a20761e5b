// Package eventclient mirrors events between a local emitter and a remote
// event server: server events flow in over a stream, forwarded local events
// flow out through publish calls.
package eventclient

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/eventbus"
	"github.com/centrifugal/evbridge/internal/pubsub"
	"github.com/centrifugal/evbridge/internal/sse"

	"github.com/rs/zerolog/log"
)

// Config of Client.
type Config struct {
	// Address of the event stream, absolute or relative to the transport API root.
	Address string
	// CallTimeout bounds remote calls made in the background: publishing
	// forwarded events and re-subscribing after reconnect.
	CallTimeout time.Duration
}

// Client is the client side of the event bridge.
type Client struct {
	config    Config
	emitter   eventbus.Emitter
	transport pubsub.ClientTransport
	caller    Caller

	// opMu serializes stream lifecycle operations.
	opMu sync.Mutex

	mu            sync.RWMutex
	stream        pubsub.ClientStream
	streamEvents  []string
	knownClientID string
	welcome       *pubsub.Handle
	sseListeners  map[string]*pubsub.Handle
	forwardEvents map[string]*eventbus.Subscription
}

// New creates Client.
func New(emitter eventbus.Emitter, transport pubsub.ClientTransport, caller Caller, cfg Config) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Client{
		config:        cfg,
		emitter:       emitter,
		transport:     transport,
		caller:        caller,
		sseListeners:  make(map[string]*pubsub.Handle),
		forwardEvents: make(map[string]*eventbus.Subscription),
	}
}

// ClientID is the id assigned by the server to the current stream.
func (c *Client) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stream == nil {
		return ""
	}
	return c.stream.ClientID()
}

// Active reports whether a stream exists and is not closed.
func (c *Client) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeLocked()
}

func (c *Client) activeLocked() bool {
	return c.stream != nil && c.stream.ReadyState() != pubsub.StateClosed
}

// SetActive opens or closes the stream.
func (c *Client) SetActive(ctx context.Context, active bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if active == c.Active() {
		return nil
	}
	if !active {
		c.closeStream()
		return nil
	}
	c.mu.RLock()
	events := c.streamEvents
	c.mu.RUnlock()
	_, err := c.initStream(ctx, events)
	return err
}

// initStream returns the open stream when it already covers events or
// opens a new one. Must be called with opMu held.
func (c *Client) initStream(ctx context.Context, events []string) (pubsub.ClientStream, error) {
	c.mu.RLock()
	stream, current, active := c.stream, c.streamEvents, c.activeLocked()
	c.mu.RUnlock()
	if active {
		if current == nil || (len(events) > 0 && containsAll(current, events)) {
			return stream, nil
		}
		c.closeStream()
	}

	var params url.Values
	if len(events) > 0 {
		params = url.Values{"event": events}
	}
	stream, err := c.transport.Connect(ctx, c.config.Address, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream = stream
	c.streamEvents = nil
	if len(events) > 0 {
		c.streamEvents = slices.Clone(events)
	}
	c.knownClientID = stream.ClientID()
	for event := range c.sseListeners {
		c.sseListeners[event] = stream.On(event, c.streamListener(event))
	}
	c.welcome = stream.On(sse.WelcomeEvent, c.welcomeListener(stream))
	log.Debug().Str("client", c.knownClientID).Strs("event", events).Msg("event stream opened")
	return stream, nil
}

func (c *Client) ensureStream(ctx context.Context) (pubsub.ClientStream, error) {
	c.mu.RLock()
	stream, events, active := c.stream, c.streamEvents, c.activeLocked()
	c.mu.RUnlock()
	if active {
		return stream, nil
	}
	return c.initStream(ctx, events)
}

func (c *Client) closeStream() {
	c.mu.Lock()
	stream := c.stream
	welcome := c.welcome
	c.stream = nil
	c.welcome = nil
	c.mu.Unlock()
	if stream == nil {
		return
	}
	stream.Off(welcome)
	c.transport.Disconnect(stream)
}

// streamListener re-emits stream data locally. Events which are forwarded
// to the server are skipped so the server echo does not loop back out.
func (c *Client) streamListener(event string) pubsub.Listener {
	return func(data any, _ pubsub.Ctx) {
		c.mu.RLock()
		_, forwarded := c.forwardEvents[event]
		c.mu.RUnlock()
		if forwarded {
			return
		}
		switch v := data.(type) {
		case nil:
			c.emitter.Emit(event)
		case []any:
			c.emitter.Emit(event, v...)
		default:
			c.emitter.Emit(event, v)
		}
	}
}

// welcomeListener restores server side subscriptions after the stream
// reconnected with a new client id.
func (c *Client) welcomeListener(stream pubsub.ClientStream) pubsub.Listener {
	return func(any, pubsub.Ctx) {
		clientID := stream.ClientID()
		c.mu.Lock()
		if c.stream != stream || clientID == c.knownClientID {
			c.mu.Unlock()
			return
		}
		c.knownClientID = clientID
		events := make([]string, 0, len(c.sseListeners))
		for event := range c.sseListeners {
			events = append(events, event)
		}
		c.mu.Unlock()
		if len(events) == 0 {
			return
		}
		slices.Sort(events)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.config.CallTimeout)
			defer cancel()
			if _, err := c.caller.Sub(ctx, clientID, events); err != nil {
				log.Info().Err(err).Str("client", clientID).Msg("error restoring subscriptions after reconnect")
			}
		}()
	}
}

// Subscribe makes sure the stream is open, subscribes the stream to events on
// the server and re-emits received events on the local emitter.
func (c *Client) Subscribe(ctx context.Context, events ...string) (*apiproto.SubResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.subscribe(ctx, events)
}

func (c *Client) subscribe(ctx context.Context, events []string) (*apiproto.SubResult, error) {
	if len(events) == 0 {
		return nil, apiproto.ErrorInvalidArgument.WithMessage("event is required")
	}
	if !c.Active() {
		if _, err := c.initStream(ctx, events); err != nil {
			return nil, err
		}
	}
	res, err := c.caller.Sub(ctx, c.ClientID(), events)
	if err != nil {
		return nil, err
	}
	stream, err := c.ensureStream(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range events {
		if _, ok := c.sseListeners[event]; !ok {
			c.sseListeners[event] = stream.On(event, c.streamListener(event))
		}
	}
	return res, nil
}

// Unsubscribe unsubscribes the stream from events on the server and stops
// re-emitting them locally.
func (c *Client) Unsubscribe(ctx context.Context, events ...string) (*apiproto.SubResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if len(events) == 0 {
		return nil, apiproto.ErrorInvalidArgument.WithMessage("event is required")
	}
	res, err := c.caller.Unsub(ctx, c.ClientID(), events)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range events {
		h, ok := c.sseListeners[event]
		if !ok {
			continue
		}
		delete(c.sseListeners, event)
		if c.stream != nil {
			c.stream.Off(h)
		}
	}
	return res, nil
}

// ForwardEvent publishes local emitter events to the server.
func (c *Client) ForwardEvent(events ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range events {
		if _, ok := c.forwardEvents[event]; !ok {
			c.forwardEvents[event] = c.emitter.On(event, c.bridgeListener)
		}
	}
}

// UnforwardEvent stops publishing local events to the server.
func (c *Client) UnforwardEvent(events ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range events {
		if sub, ok := c.forwardEvents[event]; ok {
			delete(c.forwardEvents, event)
			c.emitter.Off(sub)
		}
	}
}

func (c *Client) bridgeListener(e eventbus.Event) {
	data := publishData(c.emitterName(), e.Args)
	ctx, cancel := context.WithTimeout(context.Background(), c.config.CallTimeout)
	defer cancel()
	if _, err := c.caller.Publish(ctx, c.ClientID(), []string{e.Name}, data); err != nil {
		log.Info().Err(err).Str("event", e.Name).Msg("error publishing forwarded event")
	}
}

func (c *Client) emitterName() string {
	if named, ok := c.emitter.(interface{ Name() string }); ok {
		return named.Name()
	}
	return ""
}

// Init closes the current stream, opens a new one and subscribes to events
// if any given.
func (c *Client) Init(ctx context.Context, events ...string) (*apiproto.SubResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.closeStream()
	if _, err := c.initStream(ctx, events); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return c.subscribe(ctx, events)
}

// Publish sends event to the server directly.
func (c *Client) Publish(ctx context.Context, event string, data any) (*apiproto.PublishResult, error) {
	return c.caller.Publish(ctx, c.ClientID(), []string{event}, data)
}

// Close releases the stream. Subscribed events are restored by the next
// stream open. Safe to call many times.
func (c *Client) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.closeStream()
}

func containsAll(set []string, items []string) bool {
	for _, item := range items {
		if !slices.Contains(set, item) {
			return false
		}
	}
	return true
}
