// Package channel implements the broadcast engine behind event streams:
// client registry, bounded history with replay, keep-alive and per-client
// subscription filtering.
package channel

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/filter"
	"github.com/centrifugal/evbridge/internal/metrics"
	"github.com/centrifugal/evbridge/internal/sse"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrChannelClosed returned for operations on an inactive channel.
var ErrChannelClosed = apiproto.ErrorChannelClosed

// Message retained in channel history.
type Message struct {
	ID    uint64
	Event string
	Data  []byte
	frame []byte
}

// Channel fans out published messages to connected stream clients.
type Channel struct {
	config Config

	mu       sync.Mutex
	active   bool
	nextID   uint64
	history  []Message
	clients  map[string]*Client
	stopPing chan struct{}
}

// New creates an active Channel.
func New(cfg Config) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apiproto.ErrorConfiguration.WithMessage(err.Error())
	}
	ch := &Channel{
		config:  cfg,
		nextID:  cfg.StartID,
		clients: make(map[string]*Client),
	}
	ch.SetActive(true)
	return ch, nil
}

// Config returns channel configuration.
func (ch *Channel) Config() Config {
	return ch.config
}

// Active reports whether the channel accepts operations.
func (ch *Channel) Active() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.active
}

// SetActive starts or stops the channel. Stopping cancels keep-alive and
// disconnects every client, starting again re-arms keep-alive.
func (ch *Channel) SetActive(active bool) {
	ch.mu.Lock()
	if ch.active == active {
		ch.mu.Unlock()
		return
	}
	ch.active = active
	var clients []*Client
	if active {
		if ch.config.PingInterval > 0 {
			ch.stopPing = make(chan struct{})
			go ch.runPing(ch.stopPing, ch.config.PingInterval)
		}
	} else {
		if ch.stopPing != nil {
			close(ch.stopPing)
			ch.stopPing = nil
		}
		for _, c := range ch.clients {
			clients = append(clients, c)
		}
		clear(ch.clients)
	}
	ch.mu.Unlock()

	for _, c := range clients {
		ch.finish(c, reasonShutdown)
	}
	log.Debug().Bool("active", active).Int("num_disconnected", len(clients)).Msg("channel state changed")
}

func (ch *Channel) runPing(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, _ = ch.Publish(nil, "")
		}
	}
}

// Publish sends data as event to every client whose filter matches the
// event name or, when targets are given, only to the clients with those ids.
// Publishing without data and event name sends a keep-alive frame which gets
// no id and is not retained. Strings and byte slices are sent as is, other
// values are encoded to JSON. Returns the id of the published message.
func (ch *Channel) Publish(data any, event string, targets ...string) (uint64, error) {
	if err := checkEventNames(event); err != nil {
		return 0, err
	}
	payload, err := encodeData(data)
	if err != nil {
		return 0, apiproto.ErrorInvalidArgument.WithMessage(fmt.Sprintf("error encoding data: %v", err))
	}
	ch.mu.Lock()
	if !ch.active {
		ch.mu.Unlock()
		return 0, ErrChannelClosed
	}
	id, dropped := ch.publishLocked(payload, event, targets)
	ch.mu.Unlock()

	for _, c := range dropped {
		log.Info().Str("client", c.id).Msg("client queue is full, disconnecting slow client")
		ch.disconnect(c, reasonSlow)
	}
	return id, nil
}

func (ch *Channel) publishLocked(payload []byte, event string, targets []string) (uint64, []*Client) {
	var dropped []*Client

	if len(payload) == 0 && event == "" {
		if len(ch.clients) == 0 {
			return 0, nil
		}
		metrics.IncPublished("ping")
		for _, c := range ch.clients {
			if !c.enqueue(sse.KeepAlive) {
				dropped = append(dropped, c)
			}
		}
		return 0, dropped
	}

	id := ch.nextID
	ch.nextID++
	frame := sse.Frame{ID: id, Event: event, Data: payload}.Bytes()

	if len(targets) > 0 {
		// Addressed messages are private to their targets and never replayed.
		metrics.IncPublished("targeted")
		for _, target := range targets {
			c, ok := ch.clients[target]
			if ok && !c.enqueue(frame) {
				dropped = append(dropped, c)
			}
		}
		return id, dropped
	}

	metrics.IncPublished("broadcast")
	ch.history = append(ch.history, Message{ID: id, Event: event, Data: payload, frame: frame})
	if over := len(ch.history) - ch.config.HistorySize; over > 0 {
		ch.history = slices.Delete(ch.history, 0, over)
	}
	metrics.HistorySize.Set(float64(len(ch.history)))

	for _, c := range ch.clients {
		if event == "" || c.filter.Match(event) {
			if !c.enqueue(frame) {
				dropped = append(dropped, c)
			}
		}
	}
	return id, dropped
}

// Subscribe adds patterns to the client filter. Returns false if client
// is not connected.
func (ch *Channel) Subscribe(clientID string, patterns []string) (bool, error) {
	if err := checkEventNames(patterns...); err != nil {
		return false, err
	}
	matchers, err := filter.ParseAll(patterns)
	if err != nil {
		return false, apiproto.ErrorInvalidArgument.WithMessage(err.Error())
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.active {
		return false, ErrChannelClosed
	}
	c, ok := ch.clients[clientID]
	if !ok {
		return false, nil
	}
	if c.filter == nil {
		c.filter = filter.NewSet()
	}
	c.filter.Add(matchers...)
	return true, nil
}

// Unsubscribe removes patterns from the client filter. Returns false if
// client is not connected.
func (ch *Channel) Unsubscribe(clientID string, patterns []string) (bool, error) {
	if err := checkEventNames(patterns...); err != nil {
		return false, err
	}
	matchers, err := filter.ParseAll(patterns)
	if err != nil {
		return false, apiproto.ErrorInvalidArgument.WithMessage(err.Error())
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.active {
		return false, ErrChannelClosed
	}
	c, ok := ch.clients[clientID]
	if !ok {
		return false, nil
	}
	if c.filter != nil {
		c.filter.Remove(matchers...)
	}
	return true, nil
}

// Connect registers a new stream client. It writes response headers and the
// retry preamble, queues replayed history followed by the welcome frame
// carrying the client id and returns the client. The id is always generated
// here. The caller must then call Client.Run from the same goroutine to
// drain frames into w.
func (ch *Channel) Connect(w http.ResponseWriter, r *http.Request, patterns []string) (*Client, error) {
	if w == nil || r == nil {
		return nil, apiproto.ErrorConfiguration.WithMessage("request and response are required to connect")
	}
	if !ch.Active() {
		return nil, ErrChannelClosed
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, apiproto.ErrorConfiguration.WithMessage("response writer does not support flushing")
	}
	var fs *filter.Set
	if len(patterns) > 0 {
		if err := checkEventNames(patterns...); err != nil {
			return nil, err
		}
		matchers, err := filter.ParseAll(patterns)
		if err != nil {
			return nil, apiproto.ErrorInvalidArgument.WithMessage(err.Error())
		}
		fs = filter.NewSet(matchers...)
	}

	c := &Client{
		id:       uuid.NewString(),
		remoteIP: remoteIP(r),
		channel:  ch,
		filter:   fs,
		w:        w,
		flusher:  flusher,
		closeCh:  make(chan struct{}),
	}

	ch.writeHeaders(w)
	if _, err := w.Write(sse.Retry(ch.config.ClientRetryInterval.Milliseconds())); err != nil {
		return nil, fmt.Errorf("error writing stream preamble: %w", err)
	}
	flusher.Flush()

	lastID, resume := lastEventID(r)

	ch.mu.Lock()
	if !ch.active {
		ch.mu.Unlock()
		return nil, ErrChannelClosed
	}
	replay := ch.replayLocked(fs, lastID, resume)
	c.messages = make(chan []byte, len(replay)+1+ch.config.ClientQueueSize)
	for _, m := range replay {
		c.messages <- m.frame
	}
	ch.clients[c.id] = c
	metrics.ClientsConnected.Inc()
	welcome, _ := json.Marshal(sse.Welcome{ClientID: c.id})
	_, _ = ch.publishLocked(welcome, sse.WelcomeEvent, []string{c.id})
	if ch.config.MaxStreamDuration > 0 {
		c.mu.Lock()
		c.timer = time.AfterFunc(ch.config.MaxStreamDuration, func() {
			ch.disconnect(c, reasonExpired)
		})
		c.mu.Unlock()
	}
	ch.mu.Unlock()

	log.Debug().Str("client", c.id).Int("num_replayed", len(replay)).Msg("client connected")
	return c, nil
}

// Serve connects a client and streams to it until the request is done or
// the client is disconnected.
func (ch *Channel) Serve(w http.ResponseWriter, r *http.Request, patterns []string) error {
	c, err := ch.Connect(w, r, patterns)
	if err != nil {
		return err
	}
	return c.Run(r.Context())
}

func (ch *Channel) writeHeaders(w http.ResponseWriter) {
	cacheControl := "max-age=0, stale-while-revalidate=0, stale-if-error=0, no-transform"
	if ch.config.MaxStreamDuration > 0 {
		cacheControl += ", s-maxage=" + strconv.FormatInt(int64(ch.config.MaxStreamDuration/time.Second)-1, 10)
	}
	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", cacheControl)
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	if ch.config.CORS {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	w.WriteHeader(http.StatusOK)
}

// replayLocked picks retained messages for a connecting client. A resuming
// client gets every matching message with id above lastID. History ids are
// not contiguous since addressed messages consume ids too. A fresh client
// gets the last Rewind matching messages.
func (ch *Channel) replayLocked(fs *filter.Set, lastID uint64, resume bool) []Message {
	if resume {
		var res []Message
		for _, m := range ch.history {
			if m.ID > lastID && (m.Event == "" || fs.Match(m.Event)) {
				res = append(res, m)
			}
		}
		return res
	}
	n := ch.config.Rewind
	if n <= 0 {
		return nil
	}
	matching := make([]Message, 0, len(ch.history))
	for _, m := range ch.history {
		if m.Event == "" || fs.Match(m.Event) {
			matching = append(matching, m)
		}
	}
	if len(matching) > n {
		matching = matching[len(matching)-n:]
	}
	return matching
}

// Disconnect ends client stream and removes it from the channel. Safe to
// call many times.
func (ch *Channel) Disconnect(c *Client) {
	ch.disconnect(c, reasonRequested)
}

func (ch *Channel) disconnect(c *Client, reason string) {
	ch.mu.Lock()
	if existing, ok := ch.clients[c.id]; ok && existing == c {
		delete(ch.clients, c.id)
	}
	ch.mu.Unlock()
	ch.finish(c, reason)
}

func (ch *Channel) finish(c *Client, reason string) {
	callbacks, ok := c.close(reason)
	if !ok {
		return
	}
	metrics.ClientsConnected.Dec()
	metrics.IncDisconnect(reason)
	log.Debug().Str("client", c.id).Str("reason", reason).Msg("client disconnected")
	for _, cb := range callbacks {
		cb(reason)
	}
}

// Client returns a connected client by id.
func (ch *Channel) Client(id string) (*Client, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	c, ok := ch.clients[id]
	return c, ok
}

// ClientCount returns the number of connected clients.
func (ch *Channel) ClientCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.clients)
}

// ListClients returns number of connected clients per remote IP.
func (ch *Channel) ListClients() map[string]int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	res := make(map[string]int)
	for _, c := range ch.clients {
		res[c.remoteIP]++
	}
	return res
}

// History returns a copy of retained messages, oldest first.
func (ch *Channel) History() []Message {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return slices.Clone(ch.history)
}

// NextID returns the id the next published message will get.
func (ch *Channel) NextID() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.nextID
}

func checkEventNames(names ...string) error {
	for _, name := range names {
		if !sse.ValidEventName(name) {
			return apiproto.ErrorInvalidArgument.WithMessage(fmt.Sprintf("event name %q contains line breaks", name))
		}
	}
	return nil
}

func encodeData(data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case apiproto.Raw:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func lastEventID(r *http.Request) (uint64, bool) {
	v := strings.TrimSpace(r.Header.Get(sse.LastEventIDHeader))
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
