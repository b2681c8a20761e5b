package apiproto

import (
	"github.com/centrifugal/evbridge/internal/sse"

	"github.com/tidwall/gjson"
)

// DecodeEventRequest decodes a sub/unsub/publish request body. A missing body
// decodes into an empty request, argument validation is left to the caller.
func DecodeEventRequest(data []byte) (*EventRequest, error) {
	req := &EventRequest{}
	if len(data) == 0 {
		return req, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, ErrorBadRequest.WithMessage("malformed JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, ErrorBadRequest.WithMessage("request must be a JSON object")
	}
	req.Act = parsed.Get("act").String()

	event := parsed.Get("event")
	switch {
	case event.IsArray():
		for _, item := range event.Array() {
			if item.Type != gjson.String {
				return nil, ErrorBadRequest.WithMessage("event names must be strings")
			}
			if !sse.ValidEventName(item.Str) {
				return nil, ErrorInvalidArgument.WithMessage("event name must not contain line breaks")
			}
			if item.Str != "" {
				req.Event = append(req.Event, item.Str)
			}
		}
	case event.Type == gjson.String:
		if !sse.ValidEventName(event.Str) {
			return nil, ErrorInvalidArgument.WithMessage("event name must not contain line breaks")
		}
		if event.Str != "" {
			req.Event = []string{event.Str}
		}
	case event.Exists() && event.Type != gjson.Null:
		return nil, ErrorBadRequest.WithMessage("event must be a string or an array of strings")
	}

	if d := parsed.Get("data"); d.Exists() {
		req.Data = Raw(d.Raw)
	}
	return req, nil
}
