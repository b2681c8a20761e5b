// Package sse implements the Server-Sent Events wire format used between
// the broadcast channel and stream clients.
//
// See https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"strconv"
	"strings"
)

const (
	// ContentType of an event stream response.
	ContentType = "text/event-stream"

	// LastEventIDHeader is sent by reconnecting clients to resume a stream.
	LastEventIDHeader = "Last-Event-ID"

	// WelcomeEvent is the reserved event carrying the server-assigned client id.
	WelcomeEvent = "welcome"

	// DefaultEvent is the event type of frames sent without an event name.
	DefaultEvent = "message"
)

const (
	idPrefix    = "id: "
	eventPrefix = "event: "
	dataPrefix  = "data: "
	retryPrefix = "retry: "
)

// KeepAlive is the bare frame sent periodically to keep intermediaries from
// timing the stream out. It carries no id and is never retained.
var KeepAlive = []byte("data: \n\n")

// Welcome is the payload of the welcome frame.
type Welcome struct {
	ClientID string `json:"clientId"`
}

// Frame is one message in an event stream. Zero ID means no id line.
type Frame struct {
	ID    uint64
	Event string
	Data  []byte
}

// ValidEventName reports whether name fits into a single event line.
func ValidEventName(name string) bool {
	return !strings.ContainsAny(name, "\r\n")
}

// Encode appends the wire representation of the frame to buf. Payload is
// split on CR, LF and CRLF into separate data lines.
func (f Frame) Encode(buf []byte) []byte {
	if f.ID != 0 {
		buf = append(buf, idPrefix...)
		buf = strconv.AppendUint(buf, f.ID, 10)
		buf = append(buf, '\n')
	}
	if f.Event != "" {
		buf = append(buf, eventPrefix...)
		buf = append(buf, f.Event...)
		buf = append(buf, '\n')
	}
	data := f.Data
	for {
		buf = append(buf, dataPrefix...)
		i := indexLineBreak(data)
		if i < 0 {
			buf = append(buf, data...)
			buf = append(buf, '\n')
			break
		}
		buf = append(buf, data[:i]...)
		buf = append(buf, '\n')
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			i++
		}
		data = data[i+1:]
	}
	return append(buf, '\n')
}

// Bytes returns the encoded frame.
func (f Frame) Bytes() []byte {
	return f.Encode(make([]byte, 0, len(idPrefix)+20+len(eventPrefix)+len(f.Event)+len(dataPrefix)+len(f.Data)+4))
}

// Retry returns the stream preamble telling clients how long to wait
// before reconnecting.
func Retry(ms int64) []byte {
	buf := make([]byte, 0, len(retryPrefix)+22)
	buf = append(buf, retryPrefix...)
	buf = strconv.AppendInt(buf, ms, 10)
	return append(buf, '\n', '\n')
}

func indexLineBreak(data []byte) int {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i
		}
	}
	return -1
}
