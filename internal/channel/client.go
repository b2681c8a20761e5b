package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/centrifugal/evbridge/internal/filter"

	"github.com/rs/zerolog/log"
)

// Disconnect reasons reported to metrics and logs.
const (
	reasonRequested = "requested"
	reasonGone      = "gone"
	reasonExpired   = "expired"
	reasonSlow      = "slow"
	reasonWrite     = "write_error"
	reasonShutdown  = "shutdown"
)

// Client is one stream connected to a Channel.
type Client struct {
	id       string
	remoteIP string
	channel  *Channel

	// filter is guarded by channel.mu.
	filter *filter.Set

	w       http.ResponseWriter
	flusher http.Flusher

	messages chan []byte
	closeCh  chan struct{}
	timer    *time.Timer

	mu      sync.Mutex
	closed  bool
	reason  string
	onClose []func(reason string)
}

// ID is the server-assigned client id.
func (c *Client) ID() string {
	return c.id
}

// RemoteIP of the underlying connection.
func (c *Client) RemoteIP() string {
	return c.remoteIP
}

// Patterns returns the client subscription filter in source form. Nil means
// the client receives every event.
func (c *Client) Patterns() []string {
	c.channel.mu.Lock()
	defer c.channel.mu.Unlock()
	return c.filter.Strings()
}

// Done is closed once the client is disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.closeCh
}

// OnClose registers a callback called once after the client is disconnected.
// If the client is already disconnected the callback is called immediately.
func (c *Client) OnClose(fn func(reason string)) {
	c.mu.Lock()
	if c.closed {
		reason := c.reason
		c.mu.Unlock()
		fn(reason)
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// enqueue must be called with channel.mu held so per-client order matches
// publish order. Returns false if the client queue is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.messages <- data:
		return true
	default:
		return false
	}
}

// close marks client as closed and returns registered callbacks.
func (c *Client) close(reason string) ([]func(string), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	c.closed = true
	c.reason = reason
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.closeCh)
	callbacks := c.onClose
	c.onClose = nil
	return callbacks, true
}

// Run writes queued frames to the connection until the client is
// disconnected, ctx is done or a write fails. It must be called from the
// goroutine serving the stream request and blocks for the stream lifetime.
func (c *Client) Run(ctx context.Context) error {
	log.Debug().Str("client", c.id).Str("ip", c.remoteIP).Msg("client stream established")
	defer func(started time.Time) {
		log.Debug().Str("client", c.id).Dur("duration", time.Since(started)).Msg("client stream completed")
	}(time.Now())

	for {
		select {
		case <-ctx.Done():
			c.channel.disconnect(c, reasonGone)
			return nil
		case <-c.closeCh:
			// Flush what was queued before disconnect.
			for {
				select {
				case data := <-c.messages:
					if err := c.write(data); err != nil {
						return nil
					}
				default:
					return nil
				}
			}
		case data := <-c.messages:
			if err := c.write(data); err != nil {
				c.channel.disconnect(c, reasonWrite)
				return err
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	_, err := c.w.Write(data)
	if err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}
