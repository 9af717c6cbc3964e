package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		properties  []string
		output      string
		contentType string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <payload>",
		Short: "Send one telemetry message",
		Long: `Send one device-to-cloud message. Use "-" to read the payload from stdin.

Examples:
  gldevice send '{"temperature":21.5}'
  gldevice send -p room=kitchen -p alert=false '{"temperature":21.5}'
  gldevice send --output alerts '{"level":"high"}'     # module identities only
  sensor-dump | gldevice send -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProperties(properties)
			if err != nil {
				return err
			}

			var data []byte
			if args[0] == "-" {
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
			} else {
				data = []byte(args[0])
			}

			msg := pipeline.NewMessage(data)
			msg.ContentType = contentType
			msg.ContentEncoding = "utf-8"
			msg.CustomProperties = props

			return a.withDevice(cmd.Context(), timeout, func(ctx context.Context, dev *device) error {
				if output == "" {
					if err := dev.SendMessage(ctx, msg); err != nil {
						return fmt.Errorf("sending message: %w", err)
					}
				} else {
					if dev.module == nil {
						return errNotModule
					}
					if err := dev.module.SendOutputMessage(ctx, output, msg); err != nil {
						return fmt.Errorf("sending output message: %w", err)
					}
				}
				return writeJSON(cmd, map[string]string{"message_id": msg.MessageID})
			})
		},
	}

	cmd.Flags().StringArrayVarP(&properties, "property", "p", nil, "custom property key=value (repeatable)")
	cmd.Flags().StringVar(&output, "output", "", "module output name")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "payload content type")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time allowed to connect and send")

	return cmd
}

// parseProperties turns key=value pairs into a property map.
func parseProperties(pairs []string) (map[string]string, error) {
	props := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("property %q: want key=value", pair)
		}
		if _, dup := props[k]; dup {
			return nil, fmt.Errorf("property %q given twice", k)
		}
		props[k] = v
	}
	return props, nil
}
