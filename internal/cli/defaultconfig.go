package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/centrifugal/evbridge/internal/config"
	"github.com/centrifugal/evbridge/internal/tools"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var supportedExtensions = []string{"json", "toml", "yaml", "yml"}

func DefaultConfig() *cobra.Command {
	var defaultConfigFile string
	var defaultConfigCmd = &cobra.Command{
		Use:   "defaultconfig",
		Short: "Generate full configuration file with defaults",
		Long:  `Generate full evbridge configuration file with defaults`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := writeDefaultConfig(defaultConfigFile); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				os.Exit(1)
			}
		},
	}
	defaultConfigCmd.Flags().StringVarP(&defaultConfigFile, "config", "c", "config.json", "path to default config file to generate")
	return defaultConfigCmd
}

func writeDefaultConfig(configFile string) error {
	if tools.FileExists(configFile) {
		return errors.New("target file already exists")
	}
	b, err := marshalDefaultConfig(strings.TrimPrefix(filepath.Ext(configFile), "."))
	if err != nil {
		return err
	}
	return os.WriteFile(configFile, b, 0644)
}

func marshalDefaultConfig(ext string) ([]byte, error) {
	conf := config.DefaultConfig()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	switch ext {
	case "json":
		return json.MarshalIndent(conf, "", "  ")
	case "toml":
		return toml.Marshal(conf)
	case "yaml", "yml":
		return yaml.Marshal(conf)
	default:
		return nil, errors.New("output config file must have one of supported extensions: " + strings.Join(supportedExtensions, ", "))
	}
}
