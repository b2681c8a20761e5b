package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/channel"
	"github.com/centrifugal/evbridge/internal/eventbus"
	"github.com/centrifugal/evbridge/internal/eventserver"
	"github.com/centrifugal/evbridge/internal/pubsub"

	"github.com/stretchr/testify/require"
)

const prefix = "/api/event"

type testNode struct {
	bus     *eventbus.Bus
	channel *channel.Channel
	server  *eventserver.Server
	http    *httptest.Server
}

func newTestNode(t *testing.T, cfg Config) *testNode {
	t.Helper()
	chCfg := channel.DefaultConfig()
	chCfg.PingInterval = 0
	chCfg.MaxStreamDuration = 0
	ch, err := channel.New(chCfg)
	require.NoError(t, err)
	bus := eventbus.New("server")
	s := eventserver.New(bus, pubsub.NewSSEServer(ch, pubsub.SSEServerConfig{}), eventserver.Config{AutoInjectToLocalBus: true})

	mux := http.NewServeMux()
	handler := http.StripPrefix(prefix, NewHandler(s, cfg))
	mux.Handle(prefix+"/", handler)
	mux.Handle(prefix, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		ch.SetActive(false)
		server.Close()
	})
	return &testNode{bus: bus, channel: ch, server: s, http: server}
}

func (n *testNode) post(t *testing.T, path string, clientID string, body string) (int, *apiproto.Reply) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, n.http.URL+prefix+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if clientID != "" {
		req.Header.Set(pubsub.DefaultClientIDHeader, clientID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var reply apiproto.Reply
	require.NoError(t, json.Unmarshal(data, &reply), string(data))
	return resp.StatusCode, &reply
}

func (n *testNode) openStream(t *testing.T, query string) *pubsub.Stream {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := pubsub.NewSSEClient(nil).Open(ctx, n.http.URL+prefix+query, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestAPIHandlerErrors(t *testing.T) {
	t.Parallel()
	n := newTestNode(t, Config{})

	testCases := []struct {
		name   string
		path   string
		body   string
		status int
		code   uint32
	}{
		{"malformed json", "/sub", "{", http.StatusBadRequest, apiproto.ErrorBadRequest.Code},
		{"not an object", "/sub", "[]", http.StatusBadRequest, apiproto.ErrorBadRequest.Code},
		{"sub without event", "/sub", "{}", http.StatusBadRequest, apiproto.ErrorInvalidArgument.Code},
		{"unsub without event", "/unsub", `{"event":[]}`, http.StatusBadRequest, apiproto.ErrorInvalidArgument.Code},
		{"publish without data", "/publish", `{"event":"a"}`, http.StatusBadRequest, apiproto.ErrorInvalidArgument.Code},
		{"publish null data", "/publish", `{"event":"a","data":null}`, http.StatusBadRequest, apiproto.ErrorInvalidArgument.Code},
		{"publish empty string data", "/publish", `{"event":"a","data":""}`, http.StatusBadRequest, apiproto.ErrorInvalidArgument.Code},
		{"unknown act", "", `{"act":"nope","event":"a"}`, http.StatusBadRequest, apiproto.ErrorBadRequest.Code},
		{"publish event with line break", "/publish", `{"event":"a\ndata: x","data":1}`, http.StatusBadRequest, apiproto.ErrorInvalidArgument.Code},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, reply := n.post(t, tc.path, "", tc.body)
			require.Equal(t, tc.status, status)
			require.NotNil(t, reply.Error)
			require.Equal(t, tc.code, reply.Error.Code)
		})
	}
}

func TestAPISubWithoutSession(t *testing.T) {
	t.Parallel()
	n := newTestNode(t, Config{})
	status, reply := n.post(t, "/sub", "", `{"event":"a"}`)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	require.JSONEq(t, `{"forward":true,"event":["a"]}`, string(reply.Result))
}

func TestAPIStreamAndPublish(t *testing.T) {
	t.Parallel()
	n := newTestNode(t, Config{})

	a := n.openStream(t, "?event=chat")
	b := n.openStream(t, "?event=chat")
	received := make(chan any, 1)
	b.On("chat", func(data any, _ pubsub.Ctx) { received <- data })

	var injected []eventbus.Event
	done := make(chan struct{})
	n.bus.On(eventserver.ClientEventPrefix+"chat", func(e eventbus.Event) {
		injected = append(injected, e)
		close(done)
	})

	status, reply := n.post(t, "/publish", a.ClientID(), `{"event":"chat","data":{"text":"hi","senderId":"spoofed"}}`)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	var res apiproto.PublishResult
	require.NoError(t, json.Unmarshal(reply.Result, &res))
	require.Equal(t, a.ClientID(), res.SenderID)
	require.Equal(t, []string{"chat"}, res.Event)

	select {
	case data := <-received:
		require.Equal(t, map[string]any{"text": "hi", "senderId": "spoofed"}, data)
	case <-time.After(5 * time.Second):
		t.Fatal("published event not received")
	}
	<-done
	require.Len(t, injected, 1)
	require.Equal(t, a.ClientID(), injected[0].Args[1].(eventserver.ClientEventMeta).SenderID())
}

func TestAPICombinedAct(t *testing.T) {
	t.Parallel()
	n := newTestNode(t, Config{})
	s := n.openStream(t, "")

	status, reply := n.post(t, "", s.ClientID(), `{"act":"sub","event":["x","y"]}`)
	require.Equal(t, http.StatusOK, status)
	var res apiproto.SubResult
	require.NoError(t, json.Unmarshal(reply.Result, &res))
	require.True(t, res.Forward)
	require.NotNil(t, res.Subscribed)
	require.True(t, *res.Subscribed)
	require.Equal(t, s.ClientID(), res.ClientID)
	require.True(t, n.server.IsForwarded("x"))

	c, ok := n.channel.Client(s.ClientID())
	require.True(t, ok)
	require.Equal(t, []string{"x", "y"}, c.Patterns())

	status, reply = n.post(t, "", s.ClientID(), `{"act":"unsub","event":"x"}`)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
	require.Equal(t, []string{"y"}, c.Patterns())
	require.False(t, n.server.IsForwarded("x"))

	status, reply = n.post(t, "", s.ClientID(), `{"act":"pub","event":"y","data":1}`)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, reply.Error)
}

func TestAPIPublishRateLimit(t *testing.T) {
	t.Parallel()
	n := newTestNode(t, Config{PublishRateLimit: 0.001, PublishBurst: 1})
	status, _ := n.post(t, "/publish", "c1", `{"event":"a","data":1}`)
	require.Equal(t, http.StatusOK, status)
	status, reply := n.post(t, "/publish", "c1", `{"event":"a","data":1}`)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, apiproto.ErrorLimitExceeded.Code, reply.Error.Code)
	// Other client has its own limiter.
	status, _ = n.post(t, "/publish", "c2", `{"event":"a","data":1}`)
	require.Equal(t, http.StatusOK, status)
}

func TestAPIStreamOnClosedChannel(t *testing.T) {
	t.Parallel()
	n := newTestNode(t, Config{})
	n.channel.SetActive(false)
	resp, err := http.Get(n.http.URL + prefix)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPIMethodNotAllowed(t *testing.T) {
	t.Parallel()
	n := newTestNode(t, Config{})
	resp, err := http.Get(n.http.URL + prefix + "/sub")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
