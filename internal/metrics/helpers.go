package metrics

import (
	"strconv"
	"time"
)

// IncAPIError increments the API error counter with a numeric error code.
func IncAPIError(method string, code uint32) {
	APICommandErrorsTotal.WithLabelValues(method, strconv.FormatUint(uint64(code), 10)).Inc()
}

// ObserveAPICommand observes the duration of an API command.
func ObserveAPICommand(started time.Time, method string) {
	duration := time.Since(started).Seconds()
	APICommandDurationSummary.WithLabelValues(method).Observe(duration)
	APICommandDurationHistogram.WithLabelValues(method).Observe(duration)
}

// IncPublished counts a published message of the given type: broadcast, targeted or ping.
func IncPublished(typ string) {
	MessagesPublishedTotal.WithLabelValues(typ).Inc()
}

// IncDisconnect counts a client disconnect.
func IncDisconnect(reason string) {
	ClientDisconnectsTotal.WithLabelValues(reason).Inc()
}
