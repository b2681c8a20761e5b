// Package logging configures the global zerolog logger.
package logging

import (
	"os"
	"runtime"
	"strings"

	"github.com/centrifugal/evbridge/internal/configtypes"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var logLevelMatches = map[string]zerolog.Level{
	"NONE":  zerolog.Disabled,
	"TRACE": zerolog.TraceLevel,
	"DEBUG": zerolog.DebugLevel,
	"INFO":  zerolog.InfoLevel,
	"WARN":  zerolog.WarnLevel,
	"ERROR": zerolog.ErrorLevel,
	"FATAL": zerolog.FatalLevel,
}

// ParseLevel returns zerolog level for a level name, InfoLevel for unknown names.
func ParseLevel(level string) zerolog.Level {
	if l, ok := logLevelMatches[strings.ToUpper(level)]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// SetLevel changes global log level, used on configuration reload.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

func configureConsoleWriter() {
	if isTerminalAttached() {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:                 os.Stdout,
			TimeFormat:          "2006-01-02 15:04:05",
			FormatLevel:         consoleFormatLevel(),
			FormatFieldName:     consoleFormatFieldName(),
			FormatErrFieldName:  consoleFormatErrFieldName(),
			FormatErrFieldValue: consoleFormatErrFieldValue(),
		})
	}
}

func isTerminalAttached() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && runtime.GOOS != "windows"
}

// Setup configures global logger. Returned function closes log file if
// one was opened.
func Setup(cfg configtypes.Log) func() {
	configureConsoleWriter()
	SetLevel(cfg.Level)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatal().Msgf("error opening log file: %v", err)
		}
		log.Logger = log.Output(f)
		return func() {
			_ = f.Close()
		}
	}
	return func() {}
}

// Enabled checks if a specific logging level is enabled
func Enabled(level zerolog.Level) bool {
	return level >= zerolog.GlobalLevel()
}
