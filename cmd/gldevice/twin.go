package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

func newTwinCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Read the device twin or patch reported properties",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "time allowed to connect and complete")

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the full twin document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDevice(cmd.Context(), timeout, func(ctx context.Context, dev *device) error {
				twin, err := dev.GetTwin(ctx)
				if err != nil {
					return fmt.Errorf("getting twin: %w", err)
				}
				return writeJSON(cmd, twin)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "report <json>",
		Short: "Patch reported properties with a JSON object",
		Example: `  gldevice twin report '{"firmware":"2.1.0","telemetryInterval":30}'
  gldevice twin report '{"schedule":null}'    # removes the property`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parsePatch(args[0])
			if err != nil {
				return err
			}
			return a.withDevice(cmd.Context(), timeout, func(ctx context.Context, dev *device) error {
				if err := dev.PatchTwinReportedProperties(ctx, patch); err != nil {
					return fmt.Errorf("patching reported properties: %w", err)
				}
				return writeJSON(cmd, map[string]any{"reported": patch})
			})
		},
	})

	return cmd
}

// parsePatch decodes a JSON object into a twin patch.
func parsePatch(s string) (pipeline.TwinPatch, error) {
	var patch pipeline.TwinPatch
	if err := json.Unmarshal([]byte(s), &patch); err != nil {
		return nil, fmt.Errorf("reported properties must be a JSON object: %w", err)
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("reported properties patch is empty")
	}
	return patch, nil
}
