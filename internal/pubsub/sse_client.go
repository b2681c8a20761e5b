package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/centrifugal/evbridge/internal/sse"

	"github.com/rs/zerolog/log"
)

const (
	defaultRetryInterval = time.Second
	defaultMaxFrameSize  = 1024 * 1024
)

// SSEClient is a ClientTransport opening event streams.
type SSEClient struct {
	httpClient   *http.Client
	maxFrameSize int

	mu      sync.RWMutex
	apiRoot string
}

var _ ClientTransport = (*SSEClient)(nil)

// NewSSEClient creates SSEClient. A nil httpClient means a client without
// timeout, since streams are long-lived.
func NewSSEClient(httpClient *http.Client) *SSEClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SSEClient{
		httpClient:   httpClient,
		maxFrameSize: defaultMaxFrameSize,
	}
}

// SetAPIRoot sets the base URL relative addresses are resolved against.
func (t *SSEClient) SetAPIRoot(root string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apiRoot = strings.TrimSuffix(root, "/")
}

// APIRoot returns the configured base URL.
func (t *SSEClient) APIRoot() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.apiRoot
}

// ResolveURL returns address when it is absolute or joins it with the API root.
func (t *SSEClient) ResolveURL(address string) (string, error) {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address, nil
	}
	root := t.APIRoot()
	if root == "" {
		return "", fmt.Errorf("api root must be set to resolve relative address %q", address)
	}
	return root + "/" + strings.TrimPrefix(address, "/"), nil
}

// Connect implements ClientTransport.
func (t *SSEClient) Connect(ctx context.Context, address string, params url.Values) (ClientStream, error) {
	return t.Open(ctx, address, params)
}

// Open is Connect returning the concrete stream type.
func (t *SSEClient) Open(ctx context.Context, address string, params url.Values) (*Stream, error) {
	u, err := t.ResolveURL(address)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		url:          u,
		httpClient:   t.httpClient,
		maxFrameSize: t.maxFrameSize,
		ctx:          streamCtx,
		cancel:       cancel,
		listeners:    make(map[string][]*Handle),
		welcomeCh:    make(chan struct{}),
		failCh:       make(chan error, 1),
		done:         make(chan struct{}),
	}
	s.retry.Store(int64(defaultRetryInterval))
	go s.run()

	select {
	case <-s.welcomeCh:
		return s, nil
	case err := <-s.failCh:
		s.Close()
		return nil, err
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// Disconnect implements ClientTransport.
func (t *SSEClient) Disconnect(s ClientStream) {
	s.Close()
}

// Stream is an event stream reconnecting with Last-Event-ID after transport
// failures using the retry interval announced by the server.
type Stream struct {
	url          string
	httpClient   *http.Client
	maxFrameSize int

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32
	retry atomic.Int64

	mu        sync.RWMutex
	clientID  string
	lastID    string
	listeners map[string][]*Handle

	welcomeOnce sync.Once
	welcomeCh   chan struct{}
	failCh      chan error
	done        chan struct{}
}

var _ ClientStream = (*Stream)(nil)

// ClientID is the id assigned by the server on the latest (re)connect.
func (s *Stream) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

// LastEventID returns the id of the last received message.
func (s *Stream) LastEventID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID
}

func (s *Stream) Protocol() string {
	return protocolSSE
}

func (s *Stream) ReadyState() ReadyState {
	return ReadyState(s.state.Load())
}

// Done is closed after the stream is closed and its reader has stopped.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// On registers listener for event. Data is decoded from JSON, payloads which
// are not valid JSON are passed as string.
func (s *Stream) On(event string, l Listener) *Handle {
	h := &Handle{event: event, listener: l}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], h)
	return h
}

// Off removes the registration returned by On.
func (s *Stream) Off(h *Handle) bool {
	if h == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := s.listeners[h.event]
	idx := slices.Index(handles, h)
	if idx < 0 {
		return false
	}
	handles = slices.Delete(slices.Clone(handles), idx, idx+1)
	if len(handles) == 0 {
		delete(s.listeners, h.event)
	} else {
		s.listeners[h.event] = handles
	}
	return true
}

// Close stops the stream. Safe to call many times.
func (s *Stream) Close() {
	s.state.Store(int32(StateClosed))
	s.cancel()
}

func (s *Stream) run() {
	defer close(s.done)
	defer s.state.Store(int32(StateClosed))

	for {
		err := s.connectOnce()
		if s.ctx.Err() != nil {
			return
		}
		var fatal *fatalError
		if errors.As(err, &fatal) {
			log.Info().Err(err).Str("url", s.url).Msg("event stream failed")
			s.fail(err)
			return
		}
		select {
		case <-s.welcomeCh:
		default:
			// Never established, report to Connect.
			s.fail(err)
			return
		}
		s.state.Store(int32(StateConnecting))
		log.Debug().Err(err).Str("url", s.url).Msg("event stream interrupted, reconnecting")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(time.Duration(s.retry.Load())):
		}
	}
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func (s *Stream) fail(err error) {
	if err == nil {
		err = errors.New("event stream closed before welcome")
	}
	select {
	case s.failCh <- err:
	default:
	}
}

func (s *Stream) connectOnce() error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return &fatalError{err: err}
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")
	if lastID := s.LastEventID(); lastID != "" {
		req.Header.Set(sse.LastEventIDHeader, lastID)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := sse.VerifyResponse(resp); err != nil {
		return &fatalError{err: fmt.Errorf("%w: status %d", err, resp.StatusCode)}
	}
	if s.ctx.Err() == nil {
		s.state.Store(int32(StateOpen))
	}
	return sse.ParseStream(resp.Body, s.maxFrameSize, s.dispatch, func(ms uint64) {
		s.retry.Store(int64(time.Duration(ms) * time.Millisecond))
	})
}

func (s *Stream) dispatch(ev sse.Event) error {
	if s.ctx.Err() != nil {
		return sse.ErrCloseEventStream
	}
	s.mu.Lock()
	if ev.ID != "" {
		s.lastID = ev.ID
	}
	if ev.Event == sse.WelcomeEvent {
		var w sse.Welcome
		if err := json.Unmarshal(ev.Data, &w); err == nil && w.ClientID != "" {
			s.clientID = w.ClientID
		}
	}
	handles := s.listeners[ev.Event]
	s.mu.Unlock()

	if ev.Event == sse.WelcomeEvent {
		s.welcomeOnce.Do(func() { close(s.welcomeCh) })
	}
	if len(handles) == 0 {
		return nil
	}
	data := decodeData(ev.Data)
	ctx := Ctx{Event: ev.Event, ID: ev.ID}
	for _, h := range handles {
		h.listener(data, ctx)
	}
	return nil
}

func decodeData(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
