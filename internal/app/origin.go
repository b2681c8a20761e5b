package app

import (
	"net/http"
	"sync"

	"github.com/centrifugal/evbridge/internal/config"
	"github.com/centrifugal/evbridge/internal/origin"

	"github.com/rs/zerolog/log"
)

var warnAllowedOriginsOnce sync.Once

func getCheckOrigin(cfg config.Config) func(r *http.Request) error {
	allowedOrigins := cfg.AllowedOrigins
	originChecker, err := origin.NewPatternChecker(allowedOrigins)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating origin checker")
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		warnAllowedOriginsOnce.Do(func() {
			log.Warn().Msg("requests from any origin are allowed, consider setting exact list of allowed_origins")
		})
	}
	return func(r *http.Request) error {
		if err := originChecker.Check(r); err != nil {
			log.Info().Str("origin", r.Header.Get("Origin")).Strs("allowed_origins", allowedOrigins).Msg("request Origin is not authorized")
			return err
		}
		return nil
	}
}
