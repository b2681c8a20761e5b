package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/centrifugal/evbridge/internal/apiproto"
	"github.com/centrifugal/evbridge/internal/eventbus"
	"github.com/centrifugal/evbridge/internal/eventclient"
	"github.com/centrifugal/evbridge/internal/pubsub"
	"github.com/centrifugal/evbridge/internal/tools"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

type clientOptions struct {
	url            string
	prefix         string
	clientIDHeader string
}

func (o clientOptions) endpoint() string {
	return strings.TrimSuffix(o.url, "/") + "/" + strings.Trim(o.prefix, "/")
}

func defineClientFlags(cmd *cobra.Command, o *clientOptions) {
	cmd.Flags().StringVarP(&o.url, "url", "u", "http://localhost:8000", "evbridge server URL")
	cmd.Flags().StringVarP(&o.prefix, "prefix", "", "/api/event", "event API path on server")
	cmd.Flags().StringVarP(&o.clientIDHeader, "client_id_header", "", pubsub.DefaultClientIDHeader, "header carrying stream client id")
}

func newEventClient(bus *eventbus.Bus, o clientOptions) *eventclient.Client {
	transport := pubsub.NewSSEClient(nil)
	transport.SetAPIRoot(strings.TrimSuffix(o.url, "/"))
	caller := eventclient.NewHTTPCaller(o.endpoint(), nil).WithClientIDHeader(o.clientIDHeader)
	return eventclient.New(bus, transport, caller, eventclient.Config{Address: strings.Trim(o.prefix, "/")})
}

func Listen() *cobra.Command {
	var opts clientOptions
	var events []string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Subscribe to server events and print them",
		Long:  `Connect to evbridge server, subscribe to events and print every received event as JSON line`,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := listen(ctx, cmd.OutOrStdout(), opts, events); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	defineClientFlags(cmd, &opts)
	cmd.Flags().StringSliceVarP(&events, "event", "e", nil, "event to subscribe to, may be repeated")
	return cmd
}

type printedEvent struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// listen prints events until ctx is done.
func listen(ctx context.Context, out io.Writer, opts clientOptions, events []string) error {
	if len(events) == 0 {
		return errors.New("at least one event required")
	}
	bus := eventbus.New("listen")
	var mu sync.Mutex
	enc := json.NewEncoder(out)
	for _, event := range events {
		bus.On(event, func(e eventbus.Event) {
			mu.Lock()
			defer mu.Unlock()
			if err := enc.Encode(printedEvent{Event: e.Name, Args: e.Args}); err != nil {
				log.Error().Err(err).Str("event", e.Name).Msg("error printing event")
			}
		})
	}

	client := newEventClient(bus, opts)
	defer client.Close()
	res, err := client.Subscribe(ctx, events...)
	if err != nil {
		return fmt.Errorf("error subscribing: %w", err)
	}
	log.Info().Str("url", tools.StripPassword(opts.url)).Str("client", res.ClientID).Strs("event", events).Msg("listening for events")
	<-ctx.Done()
	return nil
}

func Publish() *cobra.Command {
	var opts clientOptions
	var event, data string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish event to server",
		Long:  `Publish event to evbridge server. Data is sent as JSON when valid JSON, as string otherwise`,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := publish(ctx, cmd.OutOrStdout(), opts, event, data); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	defineClientFlags(cmd, &opts)
	cmd.Flags().StringVarP(&event, "event", "e", "", "event to publish")
	cmd.Flags().StringVarP(&data, "data", "d", "", "event data")
	return cmd
}

func publish(ctx context.Context, out io.Writer, opts clientOptions, event string, data string) error {
	if event == "" {
		return errors.New("event required")
	}
	var payload any = data
	if gjson.Valid(data) {
		payload = apiproto.Raw(data)
	}
	caller := eventclient.NewHTTPCaller(opts.endpoint(), nil).WithClientIDHeader(opts.clientIDHeader)
	res, err := caller.Publish(ctx, "", []string{event}, payload)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(res)
}
