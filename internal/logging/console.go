package logging

import (
	"fmt"

	"github.com/rs/zerolog"
)

const (
	colorRed = iota + 31
	colorGreen
	colorYellow
	colorBlue
	colorMagenta
	colorCyan

	colorBold = 1
)

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// consoleFormatLevel returns a colorizer for zerolog console level output.
func consoleFormatLevel() zerolog.Formatter {
	return func(i interface{}) string {
		ll, _ := i.(string)
		switch ll {
		case "trace":
			return colorize("TRC", colorBlue)
		case "debug":
			return colorize("DBG", colorMagenta)
		case "info":
			return colorize("INF", colorGreen)
		case "warn":
			return colorize("WRN", colorYellow)
		case "error":
			return colorize("ERR", colorRed)
		case "fatal":
			return colorize(colorize("FTL", colorRed), colorBold)
		default:
			return colorize("???", colorBold)
		}
	}
}

func consoleFormatFieldName() zerolog.Formatter {
	return func(i interface{}) string {
		return colorize(fmt.Sprintf("%s=", i), colorCyan)
	}
}

func consoleFormatErrFieldName() zerolog.Formatter {
	return func(i interface{}) string {
		return colorize(fmt.Sprintf("%s=", i), colorRed)
	}
}

func consoleFormatErrFieldValue() zerolog.Formatter {
	return func(i interface{}) string {
		return fmt.Sprintf("%s", i)
	}
}
