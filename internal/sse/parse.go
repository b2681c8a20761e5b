package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

var (
	ErrHTTPStatusNon200   = errors.New("HTTP status code indicates failure")
	ErrInvalidContentType = errors.New("invalid Content-Type, expected text/event-stream")

	// ErrCloseEventStream is a marker error that can be returned by
	// stream handling func to indicate that the event stream should be
	// closed.
	ErrCloseEventStream = errors.New("close event stream")
)

// Event is a dispatched event parsed from a stream.
type Event struct {
	// ID is the last event id seen on the stream so far.
	ID    string
	Event string
	Data  []byte
}

// VerifyResponse checks that resp is a successful event stream response.
func VerifyResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ErrHTTPStatusNon200
	}
	ctype := resp.Header.Get("Content-Type")
	if mediaType, _, _ := strings.Cut(ctype, ";"); strings.TrimSpace(mediaType) != ContentType {
		return ErrInvalidContentType
	}
	return nil
}

var (
	dataPrefixBytes  = []byte("data:")
	eventPrefixBytes = []byte("event:")
	idPrefixBytes    = []byte("id:")
	retryPrefixBytes = []byte("retry:")
	bomBytes         = []byte{0xEF, 0xBB, 0xBF}
)

// ParseStream reads events from r until EOF or until f returns an error.
// Events without a name are reported with DefaultEvent. retryf, when not nil,
// receives reconnection delays announced by the server.
func ParseStream(r io.Reader, maxSize int, f func(ev Event) error, retryf func(ms uint64)) error {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLinesWithLF)

	// Use a stack-allocated buffer if we can fit lines into it
	var data [512]byte
	scanner.Buffer(data[:], maxSize)

	var lastID, event string
	var dataBuf bytes.Buffer
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if first {
			line = bytes.TrimPrefix(line, bomBytes)
			first = false
		}

		if len(line) == 0 {
			if dataBuf.Len() > 0 {
				name := event
				if name == "" {
					name = DefaultEvent
				}
				payload := make([]byte, dataBuf.Len()-1)
				copy(payload, dataBuf.Bytes())
				if err := f(Event{ID: lastID, Event: name, Data: payload}); err != nil {
					if errors.Is(err, ErrCloseEventStream) {
						err = nil
					}
					return err
				}
			}
			event = ""
			dataBuf.Reset()

		} else if line[0] == ':' {
			// comment

		} else if value, ok := bytes.CutPrefix(line, dataPrefixBytes); ok {
			dataBuf.Write(stripLeadingSpace(value))
			dataBuf.WriteByte('\n')

		} else if value, ok := bytes.CutPrefix(line, eventPrefixBytes); ok {
			event = string(stripLeadingSpace(value))

		} else if value, ok := bytes.CutPrefix(line, idPrefixBytes); ok {
			if bytes.IndexByte(value, 0) < 0 {
				lastID = string(stripLeadingSpace(value))
			}

		} else if value, ok := bytes.CutPrefix(line, retryPrefixBytes); ok {
			ms, err := strconv.ParseUint(string(stripLeadingSpace(value)), 10, 64)
			if err == nil && retryf != nil {
				retryf(ms)
			}
		} // ignore unknown lines
	}
	// incomplete events are discarded
	return scanner.Err()
}

func stripLeadingSpace(data []byte) []byte {
	if len(data) > 0 && data[0] == ' ' {
		return data[1:]
	}
	return data
}

// scanLinesWithLF is like bufio.ScanLines, but accepts CR as a valid
// line separator in addition to LF and CR LF.
func scanLinesWithLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	i := bytes.IndexByte(data, '\n')
	j := bytes.IndexByte(data, '\r')

	if i >= 0 && (j < 0 || i < j) { // LF.
		// LF CR is not a valid separator, so no ambiguity here.
		return i + 1, data[0:i], nil

	} else if j >= 0 { // CR. could be part of CR LF.
		if j+1 < len(data) {
			if data[j+1] == '\n' {
				return j + 2, data[0:j], nil // found CR LF
			}
			return j + 1, data[0:j], nil // found CR
		} else if atEOF {
			return j + 1, data[0:j], nil // found CR <EOF>
		}
		// CR is at end of buffer, can't tell if it is gonna be
		// followed by LF, so ask for more data.
		return 0, nil, nil
	}

	if atEOF {
		return len(data), data, nil // final unterminated line
	}

	return 0, nil, nil
}
