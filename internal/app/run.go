package app

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/centrifugal/evbridge/internal/build"
	"github.com/centrifugal/evbridge/internal/config"
	"github.com/centrifugal/evbridge/internal/logging"
	"github.com/centrifugal/evbridge/internal/metrics"
	"github.com/centrifugal/evbridge/internal/service"
	"github.com/centrifugal/evbridge/internal/tools"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

func Run(cmd *cobra.Command, configFile string) {
	dotEnvUsed := false
	if tools.FileExists(".env") {
		err := godotenv.Load()
		if err != nil {
			log.Fatal().Err(err).Msg("error loading .env file")
		}
		dotEnvUsed = true
	}
	cfg, cfgMeta, err := config.GetConfig(cmd, configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error getting config")
	}

	ctx, serviceCancel := context.WithCancel(context.Background())
	defer serviceCancel()

	logCloseFn := logging.Setup(cfg.Log)
	defer logCloseFn()

	if cfgMeta.FileNotFound {
		log.Warn().Msg("config file not found, continue using environment and flag options")
	} else {
		absConfPath, _ := filepath.Abs(configFile)
		log.Info().Str("path", absConfPath).Msg("using config file")
		if dotEnvUsed {
			log.Info().Msg("environment variables have been loaded from .env file")
		}
	}
	err = tools.WritePidFile(cfg.PidFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error writing PID")
	}
	_, _ = maxprocs.Set(maxprocs.Logger(func(s string, i ...interface{}) {
		log.Info().Msgf(strings.ToLower(s), i...)
	}))

	log.Info().
		Str("version", build.Version).
		Str("runtime", runtime.Version()).
		Int("pid", os.Getpid()).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Msg("starting evbridge")

	if build.Version == "0.0.0" {
		log.Warn().Msg("running a development build of evbridge (version 0.0.0), ensure to use release build in production")
	}

	err = cfg.Validate()
	if err != nil {
		log.Fatal().Err(err).Msg("error validating config")
	}

	if cfg.Prometheus.Enabled {
		if err := metrics.Init(metrics.Config{}); err != nil {
			log.Fatal().Err(err).Msg("error initializing metrics")
		}
	}

	bridge, err := NewBridge(cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating bridge")
	}

	// HTTP servers are stopped on service context cancel.
	serviceManager := service.NewManager()
	for _, srv := range httpServers(bridge, cfg) {
		serviceManager.Register("http "+srv.Addr, service.Func(serveHTTP(srv)))
	}
	serviceManager.Run(ctx)

	logStartWarnings(cfg, cfgMeta)

	handleSignals(cmd, configFile, cfg, bridge, serviceManager, serviceCancel)
}

func handleSignals(
	cmd *cobra.Command, configFile string, cfg config.Config, bridge *Bridge,
	serviceManager *service.Manager, serviceCancel context.CancelFunc,
) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, os.Interrupt, syscall.SIGTERM)
	servicesDone := make(chan error, 1)
	go func() {
		servicesDone <- serviceManager.Wait()
	}()
	for {
		select {
		case err := <-servicesDone:
			tools.RemovePidFile(cfg.PidFile)
			log.Fatal().Err(err).Msg("service stopped unexpectedly")
		case sig := <-sigCh:
			log.Info().Msgf("signal received: %v", sig)
			switch sig {
			case syscall.SIGHUP:
				// Reload application configuration on SIGHUP.
				// Only log level and auto inject flag can be changed without restart.
				log.Info().Msg("reloading configuration")
				newCfg, _, err := config.GetConfig(cmd, configFile)
				if err != nil {
					log.Err(err).Msg("error reading config")
					continue
				}
				if err = newCfg.Validate(); err != nil {
					log.Error().Msgf("error validating config: %v", err)
					continue
				}
				logging.SetLevel(newCfg.Log.Level)
				bridge.Reload(newCfg)
				log.Info().Msg("configuration successfully reloaded")
			case syscall.SIGINT, os.Interrupt, syscall.SIGTERM:
				log.Info().Msg("shutting down ...")
				pidFile := cfg.PidFile
				shutdownTimeout := cfg.Shutdown.Timeout
				go time.AfterFunc(shutdownTimeout.ToDuration(), func() {
					tools.RemovePidFile(pidFile)
					log.Fatal().Msg("shutdown timeout reached")
				})

				// Close event streams first so HTTP server shutdown does not
				// wait for them.
				bridge.Shutdown()
				serviceCancel()
				if err := <-servicesDone; err != nil {
					log.Error().Err(err).Msg("error stopping services")
				}

				tools.RemovePidFile(pidFile)
				log.Info().Msg("shutdown completed")
				os.Exit(0)
			}
		}
	}
}
