package app

import (
	"errors"
	"fmt"

	"github.com/centrifugal/evbridge/internal/api"
	"github.com/centrifugal/evbridge/internal/channel"
	"github.com/centrifugal/evbridge/internal/config"
	"github.com/centrifugal/evbridge/internal/eventbus"
	"github.com/centrifugal/evbridge/internal/eventserver"
	"github.com/centrifugal/evbridge/internal/pubsub"

	"github.com/rs/zerolog/log"
)

// Bridge holds server side components wired together: the broadcast
// channel, SSE transport on top of it and event server forwarding the
// local bus to stream clients.
type Bridge struct {
	Bus       *eventbus.Bus
	Channel   *channel.Channel
	Transport *pubsub.SSEServer
	Server    *eventserver.Server
	API       *api.Handler
}

// NewBridge creates Bridge from configuration. Local bus is optional, new
// bus is created when nil.
func NewBridge(cfg config.Config, bus *eventbus.Bus) (*Bridge, error) {
	ch, err := channel.New(cfg.ChannelConfig())
	if err != nil {
		return nil, fmt.Errorf("error creating channel: %w", err)
	}
	if bus == nil {
		bus = eventbus.New("evbridge")
	}
	transport := pubsub.NewSSEServer(ch, pubsub.SSEServerConfig{
		ClientIDHeader: cfg.Bridge.ClientIDHeader,
	})
	transport.OnConnection(func(s pubsub.Session) {
		log.Debug().Str("client", s.ID()).Msg("stream client connected")
	})
	transport.OnDisconnect(func(s pubsub.Session) {
		log.Debug().Str("client", s.ID()).Msg("stream client disconnected")
	})
	server := eventserver.New(bus, transport, eventserver.Config{
		AutoInjectToLocalBus: cfg.Bridge.AutoInjectToLocalBus,
	})
	apiHandler := api.NewHandler(server, api.Config{
		ClientIDHeader:   cfg.Bridge.ClientIDHeader,
		PublishRateLimit: cfg.Bridge.PublishRateLimit,
		PublishBurst:     cfg.Bridge.PublishBurst,
		MaxBodySize:      cfg.Bridge.MaxBodySize,
	})
	return &Bridge{
		Bus:       bus,
		Channel:   ch,
		Transport: transport,
		Server:    server,
		API:       apiHandler,
	}, nil
}

// Reload applies options which can change without restart.
func (b *Bridge) Reload(cfg config.Config) {
	b.Server.SetAutoInjectToLocalBus(cfg.Bridge.AutoInjectToLocalBus)
}

// Check reports whether the bridge accepts stream clients.
func (b *Bridge) Check() error {
	if !b.Channel.Active() {
		return errors.New("channel closed")
	}
	return nil
}

// Shutdown disconnects all stream clients.
func (b *Bridge) Shutdown() {
	b.Channel.SetActive(false)
}
