package eventclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/pubsub"
)

// Caller issues remote calls to the event server. ClientID is sent through
// the trusted header so the server can resolve the caller's stream.
type Caller interface {
	Sub(ctx context.Context, clientID string, events []string) (*apiproto.SubResult, error)
	Unsub(ctx context.Context, clientID string, events []string) (*apiproto.SubResult, error)
	Publish(ctx context.Context, clientID string, events []string, data any) (*apiproto.PublishResult, error)
}

// HTTPCaller calls the event server HTTP API.
type HTTPCaller struct {
	client         *http.Client
	endpoint       string
	clientIDHeader string
}

var _ Caller = (*HTTPCaller)(nil)

// NewHTTPCaller creates HTTPCaller for the API mounted at endpoint, for
// example http://localhost:8000/api/event.
func NewHTTPCaller(endpoint string, client *http.Client) *HTTPCaller {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCaller{
		client:         client,
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		clientIDHeader: pubsub.DefaultClientIDHeader,
	}
}

// WithClientIDHeader overrides the trusted header name.
func (c *HTTPCaller) WithClientIDHeader(header string) *HTTPCaller {
	c.clientIDHeader = header
	return c
}

func (c *HTTPCaller) Sub(ctx context.Context, clientID string, events []string) (*apiproto.SubResult, error) {
	res := &apiproto.SubResult{}
	if err := c.call(ctx, "sub", clientID, &apiproto.EventRequest{Event: events}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *HTTPCaller) Unsub(ctx context.Context, clientID string, events []string) (*apiproto.SubResult, error) {
	res := &apiproto.SubResult{}
	if err := c.call(ctx, "unsub", clientID, &apiproto.EventRequest{Event: events}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *HTTPCaller) Publish(ctx context.Context, clientID string, events []string, data any) (*apiproto.PublishResult, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error encoding publish data: %w", err)
	}
	res := &apiproto.PublishResult{}
	if err := c.call(ctx, "publish", clientID, &apiproto.EventRequest{Event: events, Data: raw}, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *HTTPCaller) call(ctx context.Context, method string, clientID string, req *apiproto.EventRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if clientID != "" {
		httpReq.Header.Set(c.clientIDHeader, clientID)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var reply apiproto.Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("unexpected %s reply with status %d: %w", method, resp.StatusCode, err)
	}
	if reply.Error != nil {
		return reply.Error
	}
	if out == nil || reply.Result.IsEmpty() {
		return nil
	}
	return json.Unmarshal(reply.Result, out)
}
