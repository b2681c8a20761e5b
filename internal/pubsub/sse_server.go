package pubsub

import (
	"context"
	"net/http"
	"sync"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/channel"

	"github.com/rs/zerolog/log"
)

const protocolSSE = "sse"

// SSEServerConfig configures SSEServer.
type SSEServerConfig struct {
	// ClientIDHeader is the trusted header carrying client id, defaults to X-Client-Id.
	ClientIDHeader string
}

// SSEServer is a ServerTransport on top of a broadcast channel.
type SSEServer struct {
	channel        *channel.Channel
	clientIDHeader string

	mu       sync.RWMutex
	sessions map[string]*sseSession
	onConn   func(s Session)
	onDis    func(s Session)
}

var _ ServerTransport = (*SSEServer)(nil)

// NewSSEServer creates SSEServer.
func NewSSEServer(ch *channel.Channel, cfg SSEServerConfig) *SSEServer {
	header := cfg.ClientIDHeader
	if header == "" {
		header = DefaultClientIDHeader
	}
	return &SSEServer{
		channel:        ch,
		clientIDHeader: header,
		sessions:       make(map[string]*sseSession),
	}
}

func (t *SSEServer) Name() string {
	return protocolSSE
}

func (t *SSEServer) Protocol() string {
	return protocolSSE
}

// Channel returns the underlying broadcast channel.
func (t *SSEServer) Channel() *channel.Channel {
	return t.channel
}

// Connect implements ServerTransport.
func (t *SSEServer) Connect(opts ConnectOptions) (Session, error) {
	if opts.Request == nil || opts.Response == nil {
		return nil, apiproto.ErrorConfiguration.WithMessage("sse connect requires request and response")
	}
	client, err := t.channel.Connect(opts.Response, opts.Request, opts.Events)
	if err != nil {
		return nil, err
	}
	s := &sseSession{client: client, channel: t.channel}

	t.mu.Lock()
	t.sessions[client.ID()] = s
	onConn := t.onConn
	t.mu.Unlock()

	if onConn != nil {
		onConn(s)
	}

	client.OnClose(func(reason string) {
		t.mu.Lock()
		delete(t.sessions, client.ID())
		onDis := t.onDis
		t.mu.Unlock()
		log.Debug().Str("client", client.ID()).Str("reason", reason).Msg("session closed")
		if onDis != nil {
			onDis(s)
		}
	})
	return s, nil
}

// SessionFromRequest implements ServerTransport.
func (t *SSEServer) SessionFromRequest(r *http.Request) Session {
	if r == nil {
		return nil
	}
	clientID := r.Header.Get(t.clientIDHeader)
	if clientID == "" {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[clientID]
	if !ok {
		return nil
	}
	return s
}

// Subscribe implements ServerTransport.
func (t *SSEServer) Subscribe(s Session, events []string) error {
	if s == nil {
		return nil
	}
	_, err := t.channel.Subscribe(s.ID(), events)
	return err
}

// Unsubscribe implements ServerTransport.
func (t *SSEServer) Unsubscribe(s Session, events []string) error {
	if s == nil {
		return nil
	}
	_, err := t.channel.Unsubscribe(s.ID(), events)
	return err
}

// Publish implements ServerTransport.
func (t *SSEServer) Publish(event string, data any, targets ...string) error {
	_, err := t.channel.Publish(data, event, targets...)
	return err
}

func (t *SSEServer) OnConnection(fn func(s Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConn = fn
}

func (t *SSEServer) OnDisconnect(fn func(s Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDis = fn
}

// NumSessions returns the number of registered sessions.
func (t *SSEServer) NumSessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

type sseSession struct {
	client  *channel.Client
	channel *channel.Channel
}

func (s *sseSession) ID() string {
	return s.client.ID()
}

func (s *sseSession) Protocol() string {
	return protocolSSE
}

func (s *sseSession) Send(event string, data any) error {
	_, err := s.channel.Publish(data, event, s.client.ID())
	return err
}

func (s *sseSession) Close() {
	s.channel.Disconnect(s.client)
}

func (s *sseSession) Serve(ctx context.Context) error {
	return s.client.Run(ctx)
}
