package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-device/internal/inbox"
	"github.com/nerrad567/gray-logic-device/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-device/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-device/internal/metrics"
	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Stay connected and serve the cloud until interrupted",
		Long: `Connect to IoT Hub and serve until SIGINT or SIGTERM:

  - cloud-to-device messages are logged
  - direct methods "ping" and "echo" are answered, others get 404
  - desired property updates are acknowledged as reported properties

When metrics are enabled, /metrics and /healthz are served on metrics.listen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context())
		},
	}
}

func (a *app) run(ctx context.Context) error {
	log := a.log
	log.Info("starting Gray Logic Device", "version", version, "commit", commit, "build_date", date)

	provider, err := a.newProvider()
	if err != nil {
		return fmt.Errorf("creating auth provider: %w", err)
	}

	var recorders pipeline.Recorders

	var prom *metrics.Recorder
	if a.cfg.Metrics.Enabled {
		prom = metrics.New()
		recorders = append(recorders, prom)
	}

	if a.cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, a.cfg.InfluxDB)
		if connErr != nil {
			stopProvider(provider)
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, influxdb.NewHistory(influxClient, provider.DeviceID(), provider.ModuleID()))
		log.Info("InfluxDB connected", "url", a.cfg.InfluxDB.URL, "bucket", a.cfg.InfluxDB.Bucket)
	}

	dev, err := a.openDevice(provider, recorders)
	if err != nil {
		return err
	}
	defer a.closeDevice(dev)

	dev.SetOnConnectionStateChange(func(connected bool) {
		log.Info("connection state changed", "connected", connected)
	})

	if err := dev.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to IoT Hub: %w", err)
	}
	log.Info("IoT Hub connected",
		"hostname", provider.Hostname(),
		"device_id", provider.DeviceID(),
		"module_id", provider.ModuleID(),
	)

	g, gctx := errgroup.WithContext(ctx)

	if prom != nil {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Listen,
			Handler:           newRouter(prom, dev.Connected),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error { return serveHTTP(gctx, srv) })
		log.Info("metrics server listening", "addr", a.cfg.Metrics.Listen)
	}

	g.Go(func() error { return serveMessages(gctx, dev, log) })
	g.Go(func() error { return serveMethods(gctx, dev, log) })
	g.Go(func() error { return serveTwin(gctx, dev, log) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	log.Info("shutting down")
	return err
}

type messageReceiver interface {
	ReceiveMessage(ctx context.Context) (*pipeline.Message, error)
}

// serveMessages logs cloud-to-device messages until ctx ends.
func serveMessages(ctx context.Context, dev messageReceiver, log *logging.Logger) error {
	for {
		msg, err := dev.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		log.Info("cloud-to-device message",
			"message_id", msg.MessageID,
			"content_type", msg.ContentType,
			"bytes", len(msg.Data),
			"properties", msg.CustomProperties,
		)
	}
}

type methodServer interface {
	ReceiveMethodRequest(ctx context.Context, name string) (*pipeline.MethodRequest, error)
	SendMethodResponse(ctx context.Context, resp *pipeline.MethodResponse) error
}

// serveMethods answers every direct method until ctx ends.
func serveMethods(ctx context.Context, dev methodServer, log *logging.Logger) error {
	for {
		req, err := dev.ReceiveMethodRequest(ctx, inbox.DefaultMethod)
		if err != nil {
			return err
		}
		status, payload := handleMethod(req)
		log.Info("direct method", "method", req.Name, "request_id", req.RequestID, "status", status)

		if err := dev.SendMethodResponse(ctx, pipeline.NewMethodResponse(req, status, payload)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("method response failed", "method", req.Name, "error", err)
		}
	}
}

// handleMethod implements the built-in direct methods.
func handleMethod(req *pipeline.MethodRequest) (int, any) {
	switch strings.ToLower(req.Name) {
	case "ping":
		return http.StatusOK, map[string]any{"pong": true, "version": version}
	case "echo":
		if len(req.Payload) == 0 {
			return http.StatusOK, nil
		}
		return http.StatusOK, req.Payload
	default:
		return http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown method %q", req.Name)}
	}
}

type twinServer interface {
	ReceiveTwinDesiredPropertiesPatch(ctx context.Context) (pipeline.TwinPatch, error)
	PatchTwinReportedProperties(ctx context.Context, patch pipeline.TwinPatch) error
}

// serveTwin acknowledges desired property updates until ctx ends.
func serveTwin(ctx context.Context, dev twinServer, log *logging.Logger) error {
	for {
		desired, err := dev.ReceiveTwinDesiredPropertiesPatch(ctx)
		if err != nil {
			return err
		}
		reported := reportedFromDesired(desired)
		log.Info("desired properties updated", "version", desired["$version"], "keys", len(reported))
		if len(reported) == 0 {
			continue
		}

		if err := dev.PatchTwinReportedProperties(ctx, reported); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("reporting properties failed", "error", err)
		}
	}
}

// reportedFromDesired copies a desired patch without its metadata keys.
func reportedFromDesired(desired pipeline.TwinPatch) pipeline.TwinPatch {
	reported := make(pipeline.TwinPatch, len(desired))
	for k, v := range desired {
		if strings.HasPrefix(k, "$") {
			continue
		}
		reported[k] = v
	}
	return reported
}

// writeJSON writes v with an indent, the way every command prints results.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
