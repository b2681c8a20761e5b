package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/eventserver"
	"github.com/centrifugal/evbridge/internal/metrics"
	"github.com/centrifugal/evbridge/internal/pubsub"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	methodList    = "list"
	methodSub     = "sub"
	methodUnsub   = "unsub"
	methodPublish = "publish"
)

// Keep at most this many publish limiters before starting over.
const maxLimiters = 65536

// Config configures Handler.
type Config struct {
	// ClientIDHeader is the trusted header carrying the caller client id.
	ClientIDHeader string
	// PublishRateLimit is a per client publish rate per second. Zero disables.
	PublishRateLimit float64
	// PublishBurst is a limiter burst, at least 1 when rate limit is on.
	PublishBurst int
	// MaxBodySize limits request body size in bytes. Zero means 1MB.
	MaxBodySize int64
}

// Handler is responsible for processing event commands over HTTP. Mount it
// under the API prefix with http.StripPrefix.
type Handler struct {
	mux    *http.ServeMux
	server *eventserver.Server
	config Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHandler creates new Handler.
func NewHandler(s *eventserver.Server, c Config) *Handler {
	if c.ClientIDHeader == "" {
		c.ClientIDHeader = pubsub.DefaultClientIDHeader
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = 1024 * 1024
	}
	if c.PublishBurst < 1 {
		c.PublishBurst = 1
	}
	m := http.NewServeMux()
	h := &Handler{
		mux:      m,
		server:   s,
		config:   c,
		limiters: make(map[string]*rate.Limiter),
	}
	m.HandleFunc("GET /{$}", h.handleList)
	m.HandleFunc("POST /{$}", h.handleAct)
	m.HandleFunc("POST /sub", h.handleSub)
	m.HandleFunc("POST /unsub", h.handleUnsub)
	m.HandleFunc("POST /publish", h.handlePublish)
	return h
}

func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "" {
		// Request to the prefix itself after http.StripPrefix.
		r.URL.Path = "/"
		r.URL.RawPath = ""
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	err := s.server.List(w, r, r.URL.Query()["event"])
	if err == nil {
		return
	}
	var apiErr *apiproto.Error
	if errors.As(err, &apiErr) {
		// Failed before the stream started.
		metrics.IncAPIError(methodList, apiErr.Code)
		s.writeError(w, methodList, apiErr)
		return
	}
	log.Debug().Err(err).Msg("stream ended with error")
}

func (s *Handler) handleAct(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	switch req.Act {
	case apiproto.ActSub:
		s.sub(w, r, req)
	case apiproto.ActUnsub:
		s.unsub(w, r, req)
	case apiproto.ActPub:
		s.publish(w, r, req)
	default:
		s.writeError(w, "act", apiproto.ErrorBadRequest.WithMessage("unknown act: "+req.Act))
	}
}

func (s *Handler) handleSub(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	s.sub(w, r, req)
}

func (s *Handler) handleUnsub(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	s.unsub(w, r, req)
}

func (s *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	s.publish(w, r, req)
}

func (s *Handler) sub(w http.ResponseWriter, r *http.Request, req *apiproto.EventRequest) {
	defer metrics.ObserveAPICommand(time.Now(), methodSub)
	res, err := s.server.Sub(r, req.Event)
	s.writeResult(w, methodSub, res, err)
}

func (s *Handler) unsub(w http.ResponseWriter, r *http.Request, req *apiproto.EventRequest) {
	defer metrics.ObserveAPICommand(time.Now(), methodUnsub)
	res, err := s.server.Unsub(r, req.Event)
	s.writeResult(w, methodUnsub, res, err)
}

func (s *Handler) publish(w http.ResponseWriter, r *http.Request, req *apiproto.EventRequest) {
	defer metrics.ObserveAPICommand(time.Now(), methodPublish)
	if !s.allowPublish(r) {
		s.writeResult(w, methodPublish, nil, apiproto.ErrorLimitExceeded)
		return
	}
	var data any
	if !req.Data.IsEmpty() {
		data = req.Data
	}
	res, err := s.server.Publish(r, req.Event, data)
	s.writeResult(w, methodPublish, res, err)
}

func (s *Handler) allowPublish(r *http.Request) bool {
	if s.config.PublishRateLimit <= 0 {
		return true
	}
	key := r.Header.Get(s.config.ClientIDHeader)
	if key == "" {
		key = remoteIP(r)
	}
	s.mu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		if len(s.limiters) >= maxLimiters {
			clear(s.limiters)
		}
		limiter = rate.NewLimiter(rate.Limit(s.config.PublishRateLimit), s.config.PublishBurst)
		s.limiters[key] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func (s *Handler) readRequest(w http.ResponseWriter, r *http.Request) (*apiproto.EventRequest, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodySize))
	if err != nil {
		s.handleReadDataErr(w, err)
		return nil, false
	}
	req, err := apiproto.DecodeEventRequest(data)
	if err != nil {
		s.handleUnmarshalError(w, err)
		return nil, false
	}
	return req, true
}

func (s *Handler) writeResult(w http.ResponseWriter, method string, res any, err error) {
	if err != nil {
		var apiErr *apiproto.Error
		if !errors.As(err, &apiErr) {
			log.Error().Err(err).Str("method", method).Msg("error processing API command")
			apiErr = apiproto.ErrorInternal
		}
		metrics.IncAPIError(method, apiErr.Code)
		s.writeError(w, method, apiErr)
		return
	}
	result, err := json.Marshal(res)
	if err != nil {
		s.handleMarshalError(w, err)
		return
	}
	s.writeReply(w, http.StatusOK, &apiproto.Reply{Result: result})
}

func (s *Handler) writeError(w http.ResponseWriter, method string, apiErr *apiproto.Error) {
	log.Debug().Str("method", method).Uint32("code", apiErr.Code).Str("error", apiErr.Message).Msg("API command error")
	s.writeReply(w, apiproto.HTTPStatus(apiErr), &apiproto.Reply{Error: apiErr})
}

func (s *Handler) writeReply(w http.ResponseWriter, status int, reply *apiproto.Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.handleMarshalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Handler) handleReadDataErr(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeReply(w, http.StatusRequestEntityTooLarge, &apiproto.Reply{Error: apiproto.ErrorBadRequest.WithMessage("request body too large")})
		return
	}
	log.Error().Err(err).Msg("error reading API request body")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func (s *Handler) handleUnmarshalError(w http.ResponseWriter, err error) {
	log.Info().Err(err).Msg("error decoding API data")
	var apiErr *apiproto.Error
	if !errors.As(err, &apiErr) {
		apiErr = apiproto.ErrorBadRequest
	}
	s.writeReply(w, http.StatusBadRequest, &apiproto.Reply{Error: apiErr})
}

func (s *Handler) handleMarshalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("error encoding API reply")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
