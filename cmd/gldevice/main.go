// Gray Logic Device - IoT Hub device agent
//
// gldevice connects a Gray Logic controller to Azure IoT Hub over MQTT. The
// run command keeps a session open and serves direct methods, cloud-to-device
// messages and desired-property updates; the other commands perform a single
// operation and exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-device/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-device/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries state shared by every command once the configuration is loaded.
type app struct {
	configPath string
	envFile    string

	cfg *config.Config
	log *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "gldevice",
		Short: "Gray Logic IoT Hub device agent",
		Long: `gldevice connects this controller to Azure IoT Hub.

Commands:
  gldevice run                   Serve methods, messages and twin updates
  gldevice send <payload>        Send one telemetry message
  gldevice twin get              Print the device twin
  gldevice twin report <json>    Patch reported properties
  gldevice config                Print the effective configuration

The configuration file is taken from --config or GLDEVICE_CONFIG. Variables
in the --env-file (default .env) are loaded first and never override the
existing environment.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (default $GLDEVICE_CONFIG)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the configuration")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newSendCmd(a))
	root.AddCommand(newTwinCmd(a))
	root.AddCommand(newConfigCmd(a))

	return root
}

// load reads the env file, then the configuration, and builds the logger.
func (a *app) load() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", a.envFile, err)
		}
	}

	path := a.configPath
	if path == "" {
		path = os.Getenv("GLDEVICE_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	a.log = logging.New(cfg.Logging, version)

	return nil
}
