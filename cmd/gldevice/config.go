package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-device/internal/infrastructure/config"
)

const redacted = "<redacted>"

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(redactConfig(*a.cfg)); err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			return enc.Close()
		},
	}
}

// redactConfig hides keys and tokens. cfg is a copy.
func redactConfig(cfg config.Config) config.Config {
	cfg.Device.ConnectionString = redactConnectionString(cfg.Device.ConnectionString)
	if cfg.InfluxDB.Token != "" {
		cfg.InfluxDB.Token = redacted
	}
	return cfg
}

func redactConnectionString(cs string) string {
	if cs == "" {
		return ""
	}
	parts := strings.Split(cs, ";")
	for i, part := range parts {
		k, _, ok := strings.Cut(part, "=")
		if ok && (k == "SharedAccessKey" || k == "SharedAccessSignature") {
			parts[i] = k + "=" + redacted
		}
	}
	return strings.Join(parts, ";")
}
