package app

import (
	"strings"

	"github.com/centrifugal/evbridge/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logStartWarnings(cfg config.Config, cfgMeta config.Meta) {
	if cfg.Channel.CORS {
		log.Warn().Msg("channel.cors enabled, streams are readable from any origin")
	}
	if cfg.Bridge.AutoInjectToLocalBus {
		log.Info().Msg("client publications are emitted on the local bus with client: prefix")
	}
	for _, key := range cfgMeta.UnknownKeys {
		log.Warn().Str("key", key).Msg("unknown key in configuration file")
	}
	for _, key := range cfgMeta.UnknownEnvs {
		log.Warn().Str("var", key).Msg("unknown var in environment")
	}
}

type httpErrorLogWriter struct {
	zerolog.Logger
}

func (w *httpErrorLogWriter) Write(data []byte) (int, error) {
	w.Logger.Warn().Msg(strings.TrimSpace(string(data)))
	return len(data), nil
}
