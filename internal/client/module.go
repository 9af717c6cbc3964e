package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-device/internal/async"
	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// ModuleClient adds module inputs and outputs to Client.
type ModuleClient struct {
	*Client
}

// NewModule builds a module client. provider must name a module.
func NewModule(provider pipeline.AuthProvider, opts Options) (*ModuleClient, error) {
	if provider.ModuleID() == "" {
		return nil, ErrNotModule
	}
	c, err := New(provider, opts)
	if err != nil {
		return nil, err
	}
	return &ModuleClient{Client: c}, nil
}

// SendOutputMessage sends msg on the named output.
func (m *ModuleClient) SendOutputMessage(ctx context.Context, outputName string, msg *pipeline.Message) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	return async.AwaitErr(ctx, func(done func(error)) {
		m.pipeline.SendOutputMessage(msg, outputName, done)
	})
}

// ReceiveInputMessage waits for a message on the named input.
func (m *ModuleClient) ReceiveInputMessage(ctx context.Context, inputName string) (*pipeline.Message, error) {
	in := m.inboxes.InputInbox(inputName)
	if err := m.ensureFeature(ctx, pipeline.FeatureInput); err != nil {
		return nil, err
	}
	return in.Get(ctx)
}
