// Package config contains evbridge Config and the code to load it.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/centrifugal/evbridge/internal/channel"
	"github.com/centrifugal/evbridge/internal/configtypes"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is a prefix of environment variables evbridge reads options from.
const EnvPrefix = "EVBRIDGE"

type Config struct {
	// HTTP is a configuration for evbridge HTTP server.
	HTTP configtypes.HTTPServer `mapstructure:"http_server" json:"http_server" toml:"http_server" yaml:"http_server"`
	// Log is a configuration for logging.
	Log configtypes.Log `mapstructure:"log" json:"log" toml:"log" yaml:"log"`
	// Channel is a configuration of the broadcast channel: keep-alive, history
	// and per client buffering.
	Channel configtypes.Channel `mapstructure:"channel" json:"channel" toml:"channel" yaml:"channel"`
	// Bridge is a configuration of the event API which streams server events to
	// clients and accepts sub, unsub and publish calls.
	Bridge configtypes.Bridge `mapstructure:"bridge" json:"bridge" toml:"bridge" yaml:"bridge"`
	// AllowedOrigins is a list of allowed origins for browser clients. Supports
	// glob patterns like https://*.example.com. Empty list disables origin check.
	AllowedOrigins configtypes.StringSlice `mapstructure:"allowed_origins" json:"allowed_origins" toml:"allowed_origins" yaml:"allowed_origins"`
	// Prometheus metrics configuration.
	Prometheus configtypes.Prometheus `mapstructure:"prometheus" json:"prometheus" toml:"prometheus" yaml:"prometheus"`
	// Health check endpoint configuration.
	Health configtypes.Health `mapstructure:"health" json:"health" toml:"health" yaml:"health"`
	// Shutdown is a configuration for graceful shutdown.
	Shutdown configtypes.Shutdown `mapstructure:"shutdown" json:"shutdown" toml:"shutdown" yaml:"shutdown"`

	// PidFile is a path to write a file with evbridge process PID.
	PidFile string `mapstructure:"pid_file" json:"pid_file" toml:"pid_file" yaml:"pid_file"`
}

type Meta struct {
	FileNotFound bool
	UnknownKeys  []string
	UnknownEnvs  []string
	KnownEnvVars []string
}

func DefineFlags(rootCmd *cobra.Command) {
	rootCmd.Flags().StringP("pid_file", "", "", "optional path to create PID file")
	rootCmd.Flags().StringP("http_server.address", "a", "", "interface address to listen on")
	rootCmd.Flags().IntP("http_server.port", "p", 8000, "port to bind HTTP server to")
	rootCmd.Flags().StringP("http_server.internal_address", "", "", "custom interface address to listen on for internal endpoints")
	rootCmd.Flags().IntP("http_server.internal_port", "", 0, "custom port for internal endpoints")
	rootCmd.Flags().StringP("log.level", "", "info", "set the log level: trace, debug, info, error, fatal or none")
	rootCmd.Flags().StringP("log.file", "", "", "optional log file - if not specified logs go to STDOUT")
	rootCmd.Flags().StringP("bridge.handler_prefix", "", "/api/event", "path of event API")
	rootCmd.Flags().BoolP("prometheus.enabled", "", false, "enable Prometheus metrics endpoint")
	rootCmd.Flags().BoolP("health.enabled", "", false, "enable health check endpoint")
}

var bindPFlags = []string{
	"pid_file", "http_server.port", "http_server.address", "http_server.internal_port",
	"http_server.internal_address", "log.level", "log.file", "bridge.handler_prefix",
	"prometheus.enabled", "health.enabled",
}

// GetConfig reads Config from file, environment and command flags. Values
// set in environment take precedence over file values.
func GetConfig(cmd *cobra.Command, configFile string) (Config, Meta, error) {
	v := viper.NewWithOptions(viper.WithDecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		configtypes.StringToDurationHookFunc(),
		configtypes.StringToStringSliceHookFunc(),
	)))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	keys := collectKeys(reflect.TypeOf(Config{}), "")
	knownEnvVars := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.defaultValue != "" {
			v.SetDefault(k.path, k.defaultValue)
		}
		_ = v.BindEnv(k.path)
		knownEnvVars = append(knownEnvVars, envName(k.path))
	}

	if cmd != nil {
		for _, flag := range bindPFlags {
			if f := cmd.Flags().Lookup(flag); f != nil {
				_ = v.BindPFlag(flag, f)
			}
		}
	}

	meta := Meta{KnownEnvVars: knownEnvVars}

	if configFile != "" {
		v.SetConfigFile(configFile)
		err := v.ReadInConfig()
		if err != nil {
			var configFileNotFoundError *os.PathError
			if errors.As(err, &configFileNotFoundError) {
				meta.FileNotFound = true
			} else {
				return Config{}, Meta{}, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	conf := &Config{}
	err := v.Unmarshal(conf)
	if err != nil {
		return Config{}, Meta{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	meta.UnknownKeys = findUnknownKeys(v.AllSettings(), conf, "")
	sort.Strings(meta.UnknownKeys)
	meta.UnknownEnvs = checkEnvironmentVars(knownEnvVars, os.Environ())

	return *conf, meta, nil
}

type configKey struct {
	path         string
	defaultValue string
}

// collectKeys returns dotted paths of all leaf options together with values
// of their default tags.
func collectKeys(typ reflect.Type, parent string) []configKey {
	var keys []configKey
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		path := appendKeyPath(parent, tag)
		if field.Type.Kind() == reflect.Struct {
			keys = append(keys, collectKeys(field.Type, path)...)
			continue
		}
		keys = append(keys, configKey{path: path, defaultValue: field.Tag.Get("default")})
	}
	return keys
}

func envName(path string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

func findUnknownKeys(data map[string]interface{}, configStruct interface{}, parentKey string) []string {
	var unknownKeys []string
	val := reflect.ValueOf(configStruct)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	validKeys := make(map[string]reflect.StructField)
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if tag := field.Tag.Get("mapstructure"); tag != "" {
			validKeys[tag] = field
		}
	}

	for key, value := range data {
		field, exists := validKeys[key]
		if !exists {
			unknownKeys = append(unknownKeys, appendKeyPath(parentKey, key))
			continue
		}
		if field.Type.Kind() != reflect.Struct {
			continue
		}
		if nestedMap, ok := value.(map[string]interface{}); ok {
			nested := val.FieldByName(field.Name).Interface()
			unknownKeys = append(unknownKeys, findUnknownKeys(nestedMap, nested, appendKeyPath(parentKey, key))...)
		}
	}
	return unknownKeys
}

func appendKeyPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func checkEnvironmentVars(knownEnvVars []string, environ []string) []string {
	known := make(map[string]struct{}, len(knownEnvVars))
	for _, name := range knownEnvVars {
		known[name] = struct{}{}
	}
	var unknownEnvs []string
	envPrefix := EnvPrefix + "_"
	for _, envVar := range environ {
		envKey, _, _ := strings.Cut(envVar, "=")
		if !strings.HasPrefix(envKey, envPrefix) {
			continue
		}
		// Kubernetes automatically adds some variables which are not used by evbridge
		// itself. We skip warnings about them.
		if isKubernetesEnvVar(envKey) {
			continue
		}
		if _, ok := known[envKey]; !ok {
			unknownEnvs = append(unknownEnvs, envKey)
		}
	}
	return unknownEnvs
}

var k8sEnvRegex = regexp.MustCompile(`^EVBRIDGE(?:_[A-Z]+)?_(PORT|SERVICE_)`)

func isKubernetesEnvVar(envKey string) bool {
	return k8sEnvRegex.MatchString(envKey)
}

// ChannelConfig converts channel options to channel.Config.
func (c Config) ChannelConfig() channel.Config {
	return channel.Config{
		PingInterval:        c.Channel.PingInterval.ToDuration(),
		MaxStreamDuration:   c.Channel.MaxStreamDuration.ToDuration(),
		ClientRetryInterval: c.Channel.ClientRetryInterval.ToDuration(),
		StartID:             c.Channel.StartID,
		HistorySize:         c.Channel.HistorySize,
		Rewind:              c.Channel.Rewind,
		CORS:                c.Channel.CORS,
		ClientQueueSize:     c.Channel.ClientQueueSize,
	}
}

// DefaultConfig is a helper to be used in tests.
func DefaultConfig() Config {
	conf, _, err := GetConfig(nil, "")
	if err != nil {
		panic("error during getting default config: " + err.Error())
	}
	return conf
}
