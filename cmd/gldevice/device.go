package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-device/internal/auth"
	"github.com/nerrad567/gray-logic-device/internal/client"
	"github.com/nerrad567/gray-logic-device/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

const shutdownTimeout = 10 * time.Second

var errNotModule = errors.New("--output needs a module identity")

// device is a connected client. module is nil for device identities.
type device struct {
	*client.Client
	module *client.ModuleClient
}

// newProvider builds the auth provider the device section describes.
func (a *app) newProvider() (pipeline.AuthProvider, error) {
	d := a.cfg.Device

	caCert, err := auth.LoadCACert(d.CAFile)
	if err != nil {
		return nil, err
	}

	if d.ConnectionString != "" {
		return auth.FromConnectionString(d.ConnectionString, auth.Options{
			TokenTTL:        a.cfg.GetTokenTTL(),
			RenewalMargin:   a.cfg.GetTokenRenewalMargin(),
			CACert:          caCert,
			CertFile:        d.X509.CertFile,
			KeyFile:         d.X509.KeyFile,
			GatewayHostname: d.GatewayHostname,
		})
	}

	return auth.NewX509Provider(auth.Identity{
		Hostname:        d.X509.Hostname,
		DeviceID:        d.X509.DeviceID,
		ModuleID:        d.X509.ModuleID,
		GatewayHostname: d.GatewayHostname,
	}, d.X509.CertFile, d.X509.KeyFile, caCert)
}

func (a *app) userAgent() string {
	if a.cfg.Device.UserAgent != "" {
		return a.cfg.Device.UserAgent
	}
	return "graylogic-device/" + version
}

// openDevice builds the client for provider. The provider is stopped if
// the client cannot be built.
func (a *app) openDevice(provider pipeline.AuthProvider, recorder pipeline.Recorder) (*device, error) {
	log := a.log.ForDevice(provider.DeviceID(), provider.ModuleID())
	opts := client.Options{
		MQTT: mqtt.Options{
			Websockets: a.cfg.Device.Websockets,
			KeepAlive:  a.cfg.GetKeepAlive(),
			Logger:     log.Component("mqtt"),
		},
		Logger:    log.Component("pipeline"),
		Recorder:  recorder,
		UserAgent: a.userAgent(),
	}

	if provider.ModuleID() != "" {
		m, err := client.NewModule(provider, opts)
		if err != nil {
			stopProvider(provider)
			return nil, fmt.Errorf("creating module client: %w", err)
		}
		return &device{Client: m.Client, module: m}, nil
	}

	c, err := client.New(provider, opts)
	if err != nil {
		stopProvider(provider)
		return nil, fmt.Errorf("creating device client: %w", err)
	}
	return &device{Client: c}, nil
}

func stopProvider(provider pipeline.AuthProvider) {
	if s, ok := provider.(auth.Stopper); ok {
		s.Stop()
	}
}

// withDevice connects, runs fn, and closes the client.
func (a *app) withDevice(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, dev *device) error) error {
	provider, err := a.newProvider()
	if err != nil {
		return err
	}
	dev, err := a.openDevice(provider, nil)
	if err != nil {
		return err
	}
	defer a.closeDevice(dev)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := dev.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to IoT Hub: %w", err)
	}
	return fn(ctx, dev)
}

func (a *app) closeDevice(dev *device) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dev.Close(ctx); err != nil {
		a.log.Error("error closing device client", "error", err)
	}
}
