package eventserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/channel"
	"github.com/centrifugal/evbridge/internal/eventbus"
	"github.com/centrifugal/evbridge/internal/pubsub"

	"github.com/stretchr/testify/require"
)

type testSession struct {
	id string
}

func (s *testSession) ID() string                  { return s.id }
func (s *testSession) Protocol() string            { return "test" }
func (s *testSession) Send(string, any) error      { return nil }
func (s *testSession) Close()                      {}
func (s *testSession) Serve(context.Context) error { return nil }

type published struct {
	event   string
	data    any
	targets []string
}

type testTransport struct {
	mu        sync.Mutex
	sessions  map[string]*testSession
	subs      map[string][]string
	published []published
}

func newTestTransport(sessionIDs ...string) *testTransport {
	t := &testTransport{
		sessions: make(map[string]*testSession),
		subs:     make(map[string][]string),
	}
	for _, id := range sessionIDs {
		t.sessions[id] = &testSession{id: id}
	}
	return t
}

func (t *testTransport) Name() string     { return "test" }
func (t *testTransport) Protocol() string { return "test" }

func (t *testTransport) Connect(opts pubsub.ConnectOptions) (pubsub.Session, error) {
	return &testSession{id: "new"}, nil
}

func (t *testTransport) SessionFromRequest(r *http.Request) pubsub.Session {
	s, ok := t.sessions[r.Header.Get(pubsub.DefaultClientIDHeader)]
	if !ok {
		return nil
	}
	return s
}

func (t *testTransport) Subscribe(s pubsub.Session, events []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[s.ID()] = append(t.subs[s.ID()], events...)
	return nil
}

func (t *testTransport) Unsubscribe(s pubsub.Session, events []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, s.ID())
	return nil
}

func (t *testTransport) Publish(event string, data any, targets ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, published{event: event, data: data, targets: targets})
	return nil
}

func (t *testTransport) OnConnection(func(s pubsub.Session)) {}
func (t *testTransport) OnDisconnect(func(s pubsub.Session)) {}

func (t *testTransport) getPublished() []published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]published(nil), t.published...)
}

func requestFrom(clientID string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/event", nil)
	if clientID != "" {
		r.Header.Set(pubsub.DefaultClientIDHeader, clientID)
	}
	return r
}

func TestWithoutTransport(t *testing.T) {
	t.Parallel()
	s := New(eventbus.New("server"), nil, Config{})
	_, err := s.Sub(requestFrom(""), []string{"a"})
	require.ErrorIs(t, err, apiproto.ErrorNotImplemented)
	_, err = s.Unsub(requestFrom(""), []string{"a"})
	require.ErrorIs(t, err, apiproto.ErrorNotImplemented)
	err = s.List(httptest.NewRecorder(), requestFrom(""), nil)
	require.ErrorIs(t, err, apiproto.ErrorNotImplemented)
	err = s.PublishServerEvent("a", 1)
	require.ErrorIs(t, err, apiproto.ErrorNotImplemented)
}

func TestSubRequiresEvent(t *testing.T) {
	t.Parallel()
	s := New(eventbus.New("server"), newTestTransport(), Config{})
	_, err := s.Sub(requestFrom(""), nil)
	require.ErrorIs(t, err, apiproto.ErrorInvalidArgument)
	_, err = s.Unsub(requestFrom(""), nil)
	require.ErrorIs(t, err, apiproto.ErrorInvalidArgument)
}

func TestSubWithoutSession(t *testing.T) {
	t.Parallel()
	s := New(eventbus.New("server"), newTestTransport("c1"), Config{})
	res, err := s.Sub(requestFrom("unknown"), []string{"a"})
	require.NoError(t, err)
	require.True(t, res.Forward)
	require.Nil(t, res.Subscribed)
	require.Empty(t, res.ClientID)
	require.Equal(t, []string{"a"}, res.Event)
	require.True(t, s.IsForwarded("a"))
}

func TestSubWithSession(t *testing.T) {
	t.Parallel()
	transport := newTestTransport("c1")
	s := New(eventbus.New("server"), transport, Config{})
	res, err := s.Sub(requestFrom("c1"), []string{"a", "b"})
	require.NoError(t, err)
	require.True(t, res.Forward)
	require.NotNil(t, res.Subscribed)
	require.True(t, *res.Subscribed)
	require.Equal(t, "c1", res.ClientID)
	require.Equal(t, []string{"a", "b"}, transport.subs["c1"])

	res, err = s.Unsub(requestFrom("c1"), []string{"a", "b"})
	require.NoError(t, err)
	require.False(t, res.Forward)
	require.False(t, *res.Subscribed)
	require.Empty(t, transport.subs["c1"])
}

func TestSubForwardsOnce(t *testing.T) {
	t.Parallel()
	bus := eventbus.New("server")
	transport := newTestTransport()
	s := New(bus, transport, Config{})

	_, err := s.Sub(requestFrom(""), []string{"x"})
	require.NoError(t, err)
	_, err = s.Sub(requestFrom(""), []string{"x"})
	require.NoError(t, err)
	require.Len(t, bus.Listeners("x"), 1)

	bus.Emit("x", 1, "a")
	require.Equal(t, []published{{event: "x", data: []any{1, "a"}}}, transport.getPublished())

	_, err = s.Unsub(requestFrom(""), []string{"x"})
	require.NoError(t, err)
	require.False(t, s.IsForwarded("x"))
	require.Empty(t, bus.Listeners("x"))
	bus.Emit("x", 2)
	require.Len(t, transport.getPublished(), 1)

	// Never subscribed.
	_, err = s.Unsub(requestFrom(""), []string{"never"})
	require.NoError(t, err)
}

func TestUnsubStopsForwardingAfterResubscribe(t *testing.T) {
	t.Parallel()
	bus := eventbus.New("server")
	transport := newTestTransport("old", "new")
	s := New(bus, transport, Config{})

	// Client reconnected and subscribed again from a new session.
	_, err := s.Sub(requestFrom("old"), []string{"x"})
	require.NoError(t, err)
	_, err = s.Sub(requestFrom("new"), []string{"x"})
	require.NoError(t, err)

	_, err = s.Unsub(requestFrom("new"), []string{"x"})
	require.NoError(t, err)
	require.False(t, s.IsForwarded("x"))
	require.Empty(t, bus.Listeners("x"))

	bus.Emit("x", 1)
	require.Empty(t, transport.getPublished())
}

func TestPublishRequiresEventAndData(t *testing.T) {
	t.Parallel()
	s := New(eventbus.New("server"), newTestTransport(), Config{})
	_, err := s.Publish(requestFrom(""), nil, "data")
	require.ErrorIs(t, err, apiproto.ErrorInvalidArgument)
	_, err = s.Publish(requestFrom(""), []string{"a"}, nil)
	require.ErrorIs(t, err, apiproto.ErrorInvalidArgument)
	_, err = s.Publish(requestFrom(""), []string{"a"}, apiproto.Raw("null"))
	require.ErrorIs(t, err, apiproto.ErrorInvalidArgument)
}

func TestPublishRejectsLineBreaksInEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New("server")
	transport := newTestTransport()
	s := New(bus, transport, Config{AutoInjectToLocalBus: true})
	var injected int
	bus.On(ClientEventPrefix+"ok", func(eventbus.Event) { injected++ })

	_, err := s.Publish(requestFrom(""), []string{"ok", "bad\nevent: welcome"}, "data")
	require.ErrorIs(t, err, apiproto.ErrorInvalidArgument)
	require.Zero(t, injected)
	require.Empty(t, transport.getPublished())
}

func TestPublishAutoInjectDisabled(t *testing.T) {
	t.Parallel()
	bus := eventbus.New("server")
	transport := newTestTransport("c1")
	s := New(bus, transport, Config{})

	var injected, bare int
	bus.On(ClientEventPrefix+"foo", func(eventbus.Event) { injected++ })
	bus.On("foo", func(eventbus.Event) { bare++ })

	res, err := s.Publish(requestFrom("c1"), []string{"foo"}, apiproto.Raw(`{"v":1}`))
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, res.Event)
	require.Equal(t, "c1", res.SenderID)
	require.Zero(t, injected)
	require.Zero(t, bare)

	pubs := transport.getPublished()
	require.Len(t, pubs, 1)
	require.Equal(t, "foo", pubs[0].event)
	require.Equal(t, apiproto.Raw(`{"v":1}`), pubs[0].data)
	require.Empty(t, pubs[0].targets)
}

func TestPublishAutoInjectEnabled(t *testing.T) {
	t.Parallel()
	bus := eventbus.New("server")
	transport := newTestTransport("c1")
	s := New(bus, transport, Config{AutoInjectToLocalBus: true})

	var got []eventbus.Event
	bus.On(ClientEventPrefix+"foo", func(e eventbus.Event) { got = append(got, e) })
	var bare int
	bus.On("foo", func(eventbus.Event) { bare++ })

	res, err := s.Publish(requestFrom("c1"), []string{"foo"}, apiproto.Raw(`{"sender":"spoofed","clientId":"spoofed"}`))
	require.NoError(t, err)
	require.Equal(t, "c1", res.SenderID)
	require.Zero(t, bare)

	require.Len(t, got, 1)
	require.Len(t, got[0].Args, 2)
	require.Equal(t, map[string]any{"sender": "spoofed", "clientId": "spoofed"}, got[0].Args[0])
	meta, ok := got[0].Args[1].(ClientEventMeta)
	require.True(t, ok)
	require.Equal(t, "foo", meta.Event)
	require.Equal(t, "c1", meta.SenderID())

	// Original event name is broadcast.
	pubs := transport.getPublished()
	require.Len(t, pubs, 1)
	require.Equal(t, "foo", pubs[0].event)

	// Without a session the sender stays empty.
	res, err = s.Publish(requestFrom(""), []string{"foo"}, "text")
	require.NoError(t, err)
	require.Empty(t, res.SenderID)
	require.Len(t, got, 2)
	require.Equal(t, "text", got[1].Args[0])
	require.Empty(t, got[1].Args[1].(ClientEventMeta).SenderID())

	s.SetAutoInjectToLocalBus(false)
	require.False(t, s.AutoInjectToLocalBus())
	_, err = s.Publish(requestFrom("c1"), []string{"foo"}, "text")
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestPublishServerEvent(t *testing.T) {
	t.Parallel()
	transport := newTestTransport()
	s := New(eventbus.New("server"), transport, Config{})
	require.NoError(t, s.PublishServerEvent("note", "hi", "c1", "c2"))
	require.Equal(t, []published{{event: "note", data: "hi", targets: []string{"c1", "c2"}}}, transport.getPublished())
}

func TestForwardToStream(t *testing.T) {
	t.Parallel()
	cfg := channel.DefaultConfig()
	cfg.PingInterval = 0
	cfg.MaxStreamDuration = 0
	ch, err := channel.New(cfg)
	require.NoError(t, err)
	bus := eventbus.New("server")
	s := New(bus, pubsub.NewSSEServer(ch, pubsub.SSEServerConfig{}), Config{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.List(w, r, r.URL.Query()["event"])
	}))
	defer server.Close()
	defer ch.SetActive(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := pubsub.NewSSEClient(nil).Open(ctx, server.URL+"/api/event", nil)
	require.NoError(t, err)
	defer stream.Close()

	received := make(chan any, 1)
	stream.On("tick", func(data any, _ pubsub.Ctx) { received <- data })

	res, err := s.Sub(requestFrom(stream.ClientID()), []string{"tick"})
	require.NoError(t, err)
	require.Equal(t, stream.ClientID(), res.ClientID)

	bus.Emit("other", 0)
	bus.Emit("tick", 1, "two")

	select {
	case data := <-received:
		require.Equal(t, []any{float64(1), "two"}, data)
	case <-time.After(5 * time.Second):
		t.Fatal("forwarded event not received")
	}
}
