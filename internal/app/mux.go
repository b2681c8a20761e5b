package app

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/centrifugal/evbridge/internal/config"
	"github.com/centrifugal/evbridge/internal/health"
	"github.com/centrifugal/evbridge/internal/middleware"

	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFlag is a bit mask of handlers that must be enabled in mux.
type HandlerFlag int

const (
	// HandlerBridge enables event API: stream, sub, unsub and publish.
	HandlerBridge HandlerFlag = 1 << iota
	// HandlerPrometheus enables Prometheus handler.
	HandlerPrometheus
	// HandlerHealth enables Health check endpoint.
	HandlerHealth
)

var handlerText = map[HandlerFlag]string{
	HandlerBridge:     "bridge",
	HandlerPrometheus: "prometheus",
	HandlerHealth:     "health",
}

func (flags HandlerFlag) String() string {
	flagsOrdered := []HandlerFlag{HandlerBridge, HandlerPrometheus, HandlerHealth}
	var endpoints []string
	for _, flag := range flagsOrdered {
		text, ok := handlerText[flag]
		if !ok {
			continue
		}
		if flags&flag != 0 {
			endpoints = append(endpoints, text)
		}
	}
	return strings.Join(endpoints, ", ")
}

// Mux returns a mux including set of handlers for evbridge server.
func Mux(b *Bridge, cfg config.Config, flags HandlerFlag) *http.ServeMux {
	mux := http.NewServeMux()

	var commonMiddlewares []alice.Constructor

	useLoggingMW := zerolog.GlobalLevel() <= zerolog.DebugLevel
	if useLoggingMW {
		commonMiddlewares = append(commonMiddlewares, middleware.LogRequest)
	}

	instrumented := func(path string) alice.Constructor {
		return func(h http.Handler) http.Handler {
			return middleware.HTTPServerInstrumentation(path, h)
		}
	}

	basicChain := func(path string) alice.Chain {
		basicMiddlewares := append([]alice.Constructor{}, commonMiddlewares...)
		if cfg.Prometheus.Enabled {
			basicMiddlewares = append(basicMiddlewares, instrumented(path))
		}
		basicMiddlewares = append(basicMiddlewares, middleware.Get)
		return alice.New(basicMiddlewares...)
	}

	if flags&HandlerBridge != 0 {
		// register event API endpoints, stream is served on prefix itself.
		bridgePrefix := strings.TrimRight(cfg.Bridge.HandlerPrefix, "/")
		checkOrigin := getCheckOrigin(cfg)

		bridgeMiddlewares := append([]alice.Constructor{}, commonMiddlewares...)
		if cfg.Prometheus.Enabled {
			bridgeMiddlewares = append(bridgeMiddlewares, instrumented(bridgePrefix))
		}
		bridgeMiddlewares = append(bridgeMiddlewares,
			middleware.NewCORS(func(r *http.Request) bool {
				return checkOrigin(r) == nil
			}, cfg.Bridge.ClientIDHeader, "Last-Event-ID").Middleware,
			func(h http.Handler) http.Handler {
				return middleware.CheckOrigin(checkOrigin, h)
			},
		)
		bridgeChain := alice.New(bridgeMiddlewares...)

		handler := bridgeChain.Then(http.StripPrefix(bridgePrefix, b.API))
		mux.Handle(bridgePrefix, handler)
		mux.Handle(bridgePrefix+"/", handler)
	}

	if flags&HandlerPrometheus != 0 {
		// register Prometheus metrics export endpoint.
		prometheusPrefix := strings.TrimRight(cfg.Prometheus.HandlerPrefix, "/")
		if prometheusPrefix == "" {
			prometheusPrefix = "/"
		}
		mux.Handle(prometheusPrefix, basicChain(prometheusPrefix).Then(promhttp.Handler()))
	}

	if flags&HandlerHealth != 0 {
		healthPrefix := strings.TrimRight(cfg.Health.HandlerPrefix, "/")
		if healthPrefix == "" {
			healthPrefix = "/"
		}
		mux.Handle(healthPrefix, basicChain(healthPrefix).Then(health.NewHandler(health.Config{
			Checks: map[string]health.Check{"channel": b.Check},
		})))
	}

	return mux
}

// addrHandlerFlags maps HTTP server address to handlers served on it.
// Internal endpoints share the main address unless configured otherwise.
func addrHandlerFlags(cfg config.Config) map[string]HandlerFlag {
	httpAddress := cfg.HTTP.Address
	httpPort := strconv.Itoa(cfg.HTTP.Port)
	httpInternalAddress := cfg.HTTP.InternalAddress
	httpInternalPort := strconv.Itoa(cfg.HTTP.InternalPort)

	if httpInternalAddress == "" && httpAddress != "" {
		// If custom internal address not explicitly set we try to reuse main
		// address for internal endpoints too.
		httpInternalAddress = httpAddress
	}
	if cfg.HTTP.InternalPort == 0 {
		// If custom internal port not set we use default http port for
		// internal endpoints too.
		httpInternalPort = httpPort
	}

	addrToHandlerFlags := map[string]HandlerFlag{}

	externalAddr := net.JoinHostPort(httpAddress, httpPort)
	addrToHandlerFlags[externalAddr] |= HandlerBridge

	internalAddr := net.JoinHostPort(httpInternalAddress, httpInternalPort)
	var portFlags HandlerFlag
	if cfg.Prometheus.Enabled {
		portFlags |= HandlerPrometheus
	}
	if cfg.Health.Enabled {
		portFlags |= HandlerHealth
	}
	if portFlags != 0 {
		addrToHandlerFlags[internalAddr] |= portFlags
	}
	return addrToHandlerFlags
}

func httpServers(b *Bridge, cfg config.Config) []*http.Server {
	var servers []*http.Server
	for addr, handlerFlags := range addrHandlerFlags(cfg) {
		log.Info().Msgf("serving %s endpoints on %s", handlerFlags, addr)
		servers = append(servers, &http.Server{
			Addr:              addr,
			Handler:           Mux(b, cfg, handlerFlags),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          stdlog.New(&httpErrorLogWriter{Logger: log.Logger}, "", 0),
		})
	}
	return servers
}

// serveHTTP runs server until ctx is done. Shutdown waits for active
// requests, event streams are closed by then.
func serveHTTP(server *http.Server) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			_ = server.Shutdown(context.Background()) // We have a separate timeout goroutine.
			return nil
		}
	}
}
