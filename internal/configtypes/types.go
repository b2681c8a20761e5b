package configtypes

// HTTPServer configures the HTTP server evbridge listens on.
type HTTPServer struct {
	// Address to bind HTTP server to.
	Address string `mapstructure:"address" json:"address" toml:"address" yaml:"address"`
	// Port to bind HTTP server to.
	Port int `mapstructure:"port" json:"port" toml:"port" yaml:"port" default:"8000"`
	// InternalAddress to bind internal endpoints (metrics, health) to. Empty means same as Address.
	InternalAddress string `mapstructure:"internal_address" json:"internal_address" toml:"internal_address" yaml:"internal_address"`
	// InternalPort for internal endpoints. Zero means same as Port.
	InternalPort int `mapstructure:"internal_port" json:"internal_port" toml:"internal_port" yaml:"internal_port"`
}

type Log struct {
	// Level is a log level: none, trace, debug, info, warn, error or fatal.
	Level string `mapstructure:"level" json:"level" toml:"level" yaml:"level" default:"info"`
	// File is a path to log file. If not set logs go to stdout.
	File string `mapstructure:"file" json:"file" toml:"file" yaml:"file"`
}

// Channel configures the broadcast channel every stream client is attached to.
type Channel struct {
	// PingInterval is an interval of keep-alive frames. Zero disables them.
	PingInterval Duration `mapstructure:"ping_interval" json:"ping_interval" toml:"ping_interval" yaml:"ping_interval" default:"3s"`
	// MaxStreamDuration closes streams after the given time, clients reconnect and
	// resume using Last-Event-ID. Zero means no limit.
	MaxStreamDuration Duration `mapstructure:"max_stream_duration" json:"max_stream_duration" toml:"max_stream_duration" yaml:"max_stream_duration" default:"30s"`
	// ClientRetryInterval is sent to clients in the retry field of the stream preamble.
	ClientRetryInterval Duration `mapstructure:"client_retry_interval" json:"client_retry_interval" toml:"client_retry_interval" yaml:"client_retry_interval" default:"1s"`
	// StartID is the id of the first message.
	StartID uint64 `mapstructure:"start_id" json:"start_id" toml:"start_id" yaml:"start_id" default:"1"`
	// HistorySize is a number of broadcast messages kept for replay.
	HistorySize int `mapstructure:"history_size" json:"history_size" toml:"history_size" yaml:"history_size" default:"100"`
	// Rewind is a number of history messages replayed to clients connecting without Last-Event-ID.
	Rewind int `mapstructure:"rewind" json:"rewind" toml:"rewind" yaml:"rewind"`
	// CORS adds Access-Control-Allow-Origin: * to stream responses.
	CORS bool `mapstructure:"cors" json:"cors" toml:"cors" yaml:"cors"`
	// ClientQueueSize is a number of frames buffered per client before it is
	// disconnected as slow.
	ClientQueueSize int `mapstructure:"client_queue_size" json:"client_queue_size" toml:"client_queue_size" yaml:"client_queue_size" default:"256"`
}

// Bridge configures the event forwarding API.
type Bridge struct {
	// HandlerPrefix is a path of event API. Stream is served with GET on it,
	// sub, unsub and publish calls are served below it.
	HandlerPrefix string `mapstructure:"handler_prefix" json:"handler_prefix" toml:"handler_prefix" yaml:"handler_prefix" default:"/api/event"`
	// AutoInjectToLocalBus emits client publications on the server bus with
	// "client:" prefixed event names.
	AutoInjectToLocalBus bool `mapstructure:"auto_inject_to_local_bus" json:"auto_inject_to_local_bus" toml:"auto_inject_to_local_bus" yaml:"auto_inject_to_local_bus" default:"true"`
	// ClientIDHeader is a request header carrying the stream client id.
	ClientIDHeader string `mapstructure:"client_id_header" json:"client_id_header" toml:"client_id_header" yaml:"client_id_header" default:"X-Client-Id"`
	// PublishRateLimit is a number of publish calls per second allowed for one client. Zero disables limiting.
	PublishRateLimit float64 `mapstructure:"publish_rate_limit" json:"publish_rate_limit" toml:"publish_rate_limit" yaml:"publish_rate_limit"`
	// PublishBurst is a burst of publish calls allowed for one client.
	PublishBurst int `mapstructure:"publish_burst" json:"publish_burst" toml:"publish_burst" yaml:"publish_burst" default:"10"`
	// MaxBodySize limits size of API request body in bytes.
	MaxBodySize int64 `mapstructure:"max_body_size" json:"max_body_size" toml:"max_body_size" yaml:"max_body_size" default:"65536"`
}

type Prometheus struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	HandlerPrefix string `mapstructure:"handler_prefix" json:"handler_prefix" toml:"handler_prefix" yaml:"handler_prefix" default:"/metrics"`
}

type Health struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled" toml:"enabled" yaml:"enabled"`
	HandlerPrefix string `mapstructure:"handler_prefix" json:"handler_prefix" toml:"handler_prefix" yaml:"handler_prefix" default:"/health"`
}

type Shutdown struct {
	Timeout Duration `mapstructure:"timeout" json:"timeout" toml:"timeout" yaml:"timeout" default:"30s"`
}
