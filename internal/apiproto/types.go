package apiproto

// Act values accepted in the combined event request.
const (
	ActSub   = "sub"
	ActUnsub = "unsub"
	ActPub   = "pub"
)

// EventRequest is a decoded sub/unsub/publish call. Event may arrive on the
// wire as a single string or as an array of strings.
type EventRequest struct {
	Act   string   `json:"act,omitempty"`
	Event []string `json:"event"`
	Data  Raw      `json:"data,omitempty"`
}

// SubResult is returned from sub and unsub calls. Subscribed and ClientID are
// only set when the caller's session could be resolved.
type SubResult struct {
	Forward    bool     `json:"forward"`
	Subscribed *bool    `json:"subscribed,omitempty"`
	Event      []string `json:"event"`
	ClientID   string   `json:"clientId,omitempty"`
}

// PublishResult is returned from publish calls. SenderID is always the id
// resolved by the server, never a value supplied by the caller.
type PublishResult struct {
	Event    []string `json:"event"`
	SenderID string   `json:"senderId,omitempty"`
}

// Reply wraps a call result or an error.
type Reply struct {
	Error  *Error `json:"error,omitempty"`
	Result Raw    `json:"result,omitempty"`
}
