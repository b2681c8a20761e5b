package pubsub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/channel"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type received struct {
	data any
	ctx  Ctx
}

func newTestTransport(t *testing.T) (*SSEServer, *httptest.Server) {
	t.Helper()
	cfg := channel.DefaultConfig()
	cfg.PingInterval = 0
	cfg.MaxStreamDuration = 0
	cfg.ClientRetryInterval = 10 * time.Millisecond
	ch, err := channel.New(cfg)
	require.NoError(t, err)
	transport := NewSSEServer(ch, SSEServerConfig{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := transport.Connect(ConnectOptions{Request: r, Response: w, Events: r.URL.Query()["event"]})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_ = s.Serve(r.Context())
	}))
	t.Cleanup(func() {
		ch.SetActive(false)
		server.Close()
	})
	return transport, server
}

func openStream(t *testing.T, server *httptest.Server, events ...string) *Stream {
	t.Helper()
	client := NewSSEClient(nil)
	client.SetAPIRoot(server.URL + "/")
	var params url.Values
	if len(events) > 0 {
		params = url.Values{"event": events}
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	s, err := client.Open(ctx, "events", params)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func listen(s *Stream, event string) (chan received, *Handle) {
	ch := make(chan received, 16)
	h := s.On(event, func(data any, ctx Ctx) {
		ch <- received{data: data, ctx: ctx}
	})
	return ch, h
}

func waitReceived(t *testing.T, ch chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for message")
	}
	return received{}
}

func TestConnectWelcome(t *testing.T) {
	t.Parallel()
	transport, server := newTestTransport(t)
	s := openStream(t, server, "note")

	require.NotEmpty(t, s.ClientID())
	require.Equal(t, StateOpen, s.ReadyState())
	require.Equal(t, "sse", s.Protocol())
	require.Equal(t, 1, transport.NumSessions())

	r := httptest.NewRequest(http.MethodPost, "/sub", nil)
	require.Nil(t, transport.SessionFromRequest(r))
	r.Header.Set(DefaultClientIDHeader, "unknown")
	require.Nil(t, transport.SessionFromRequest(r))
	r.Header.Set(DefaultClientIDHeader, s.ClientID())
	session := transport.SessionFromRequest(r)
	require.NotNil(t, session)
	require.Equal(t, s.ClientID(), session.ID())
}

func TestPublishDelivers(t *testing.T) {
	t.Parallel()
	transport, server := newTestTransport(t)
	s := openStream(t, server, "note")
	notes, _ := listen(s, "note")
	others, _ := listen(s, "other")

	require.NoError(t, transport.Publish("other", "skipped"))
	require.NoError(t, transport.Publish("note", map[string]int{"a": 1}))

	r := waitReceived(t, notes)
	require.Equal(t, map[string]any{"a": float64(1)}, r.data)
	require.Equal(t, "note", r.ctx.Event)
	require.NotEmpty(t, r.ctx.ID)
	require.Empty(t, others)
}

func TestSubscribeThroughTransport(t *testing.T) {
	t.Parallel()
	transport, server := newTestTransport(t)
	s := openStream(t, server, "note")
	others, _ := listen(s, "other")

	r := httptest.NewRequest(http.MethodPost, "/sub", nil)
	r.Header.Set(DefaultClientIDHeader, s.ClientID())
	session := transport.SessionFromRequest(r)
	require.NoError(t, transport.Subscribe(session, []string{"other"}))
	require.NoError(t, transport.Publish("other", "now"))
	require.Equal(t, "now", waitReceived(t, others).data)

	require.NoError(t, transport.Unsubscribe(session, []string{"other"}))
	require.NoError(t, transport.Subscribe(nil, []string{"other"}))
}

func TestSessionSendTargeted(t *testing.T) {
	t.Parallel()
	transport, server := newTestTransport(t)
	a := openStream(t, server, "note")
	b := openStream(t, server, "note")
	aNotes, _ := listen(a, "note")
	bNotes, _ := listen(b, "note")

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(DefaultClientIDHeader, a.ClientID())
	session := transport.SessionFromRequest(r)
	require.NotNil(t, session)
	require.NoError(t, session.Send("note", "hi"))
	require.NoError(t, transport.Publish("note", "after"))

	require.Equal(t, "hi", waitReceived(t, aNotes).data)
	require.Equal(t, "after", waitReceived(t, aNotes).data)
	require.Equal(t, "after", waitReceived(t, bNotes).data)
}

func TestOffRemovesExactListener(t *testing.T) {
	t.Parallel()
	transport, server := newTestTransport(t)
	s := openStream(t, server)
	first, h1 := listen(s, "note")
	second, _ := listen(s, "note")

	require.True(t, s.Off(h1))
	require.False(t, s.Off(h1))
	require.False(t, s.Off(nil))

	require.NoError(t, transport.Publish("note", "x"))
	require.Equal(t, "x", waitReceived(t, second).data)
	require.Empty(t, first)
}

func TestOnDisconnect(t *testing.T) {
	t.Parallel()
	transport, server := newTestTransport(t)
	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	transport.OnConnection(func(s Session) { connected <- s.ID() })
	transport.OnDisconnect(func(s Session) { disconnected <- s.ID() })

	s := openStream(t, server)
	id := s.ClientID()
	require.Equal(t, id, <-connected)

	NewSSEClient(nil).Disconnect(s)
	require.Equal(t, StateClosed, s.ReadyState())
	select {
	case got := <-disconnected:
		require.Equal(t, id, got)
	case <-time.After(waitTimeout):
		t.Fatal("disconnect callback not called")
	}
	require.Zero(t, transport.NumSessions())
}

func TestReconnectResumes(t *testing.T) {
	t.Parallel()
	transport, server := newTestTransport(t)
	s := openStream(t, server, "note")
	notes, _ := listen(s, "note")
	firstID := s.ClientID()

	require.NoError(t, transport.Publish("note", "1"))
	require.Equal(t, float64(1), waitReceived(t, notes).data)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set(DefaultClientIDHeader, firstID)
	session := transport.SessionFromRequest(r)
	require.NotNil(t, session)
	session.Close()
	require.NoError(t, transport.Publish("note", "2"))

	require.Equal(t, float64(2), waitReceived(t, notes).data)
	require.Eventually(t, func() bool {
		return s.ClientID() != firstID && s.ReadyState() == StateOpen
	}, waitTimeout, 10*time.Millisecond)
}

func TestConnectErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := NewSSEClient(nil).Connect(ctx, "events", nil)
	require.Error(t, err)

	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	_, err = NewSSEClient(nil).Connect(ctx, notFound.URL+"/events", nil)
	require.Error(t, err)

	transport, _ := newTestTransport(t)
	_, err = transport.Connect(ConnectOptions{})
	require.ErrorIs(t, err, apiproto.ErrorConfiguration)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()
	c := NewSSEClient(nil)
	u, err := c.ResolveURL("https://example.com/api/events")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/api/events", u)

	c.SetAPIRoot("http://localhost:8000/api/")
	u, err = c.ResolveURL("/events")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000/api/events", u)
}

func TestDecodeData(t *testing.T) {
	t.Parallel()
	require.Nil(t, decodeData(nil))
	require.Equal(t, "plain text", decodeData([]byte("plain text")))
	require.Equal(t, []any{float64(1), "a"}, decodeData([]byte(`[1,"a"]`)))
	require.Equal(t, true, decodeData([]byte("true")))
}
