package pipeline

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// apiVersion is the IoT Hub MQTT API version sent in the username.
const apiVersion = "2018-06-30"

// converterStage maps IoT Hub operations to MQTT publish, subscribe and
// unsubscribe operations, and inbound MQTT messages to typed events.
type converterStage struct {
	stageBase
	userAgent string
	topics    topics
}

func newConverterStage(userAgent string) *converterStage {
	return &converterStage{
		stageBase: stageBase{name: "IoTHubMQTTConverter"},
		userAgent: userAgent,
	}
}

func (s *converterStage) ExecuteOp(op Operation) {
	switch op := op.(type) {
	case *SetConnectionArgsOp:
		s.topics = topics{deviceID: op.DeviceID, moduleID: op.ModuleID}

		clientID := op.DeviceID
		if op.ModuleID != "" {
			clientID = op.DeviceID + "/" + op.ModuleID
		}
		hostname := op.Hostname
		if op.GatewayHostname != "" {
			hostname = op.GatewayHostname
		}
		username := fmt.Sprintf("%s/%s/?api-version=%s&DeviceClientType=%s",
			op.Hostname, clientID, apiVersion, url.QueryEscape(s.userAgent))

		s.sendOpDown(&SetTransportConnectionArgsOp{
			opState:    newOpState(s.completes(op)),
			ClientID:   clientID,
			Hostname:   hostname,
			Username:   username,
			CACert:     op.CACert,
			SASToken:   op.SASToken,
			ClientCert: op.ClientCert,
		})

	case *SendTelemetryOp:
		s.publish(op, s.topics.telemetry(op.Message), op.Message.Data)

	case *SendOutputMessageOp:
		s.publish(op, s.topics.output(op.Message, op.OutputName), op.Message.Data)

	case *SendMethodResponseOp:
		payload, err := json.Marshal(op.Response.Payload)
		if err != nil {
			s.complete(op, fmt.Errorf("encoding method response: %w", err))
			return
		}
		s.publish(op, s.topics.methodResponse(op.Response.RequestID, op.Response.Status), payload)

	case *SendRequestOp:
		if op.RequestType != requestTypeTwin {
			s.complete(op, fmt.Errorf("%w: request type %q", ErrNotImplemented, op.RequestType))
			return
		}
		s.publish(op, s.topics.twinRequest(op.Method, op.ResourceLocation, op.RequestID), op.Body)

	case *EnableFeatureOp:
		topic, err := s.topics.feature(op.Feature)
		if err != nil {
			s.complete(op, err)
			return
		}
		s.sendOpDown(&SubscribeOp{opState: newOpState(s.completes(op)), Topic: topic})

	case *DisableFeatureOp:
		topic, err := s.topics.feature(op.Feature)
		if err != nil {
			s.complete(op, err)
			return
		}
		s.sendOpDown(&UnsubscribeOp{opState: newOpState(s.completes(op)), Topic: topic})

	default:
		s.sendOpDown(op)
	}
}

func (s *converterStage) publish(orig Operation, topic string, payload []byte) {
	s.sendOpDown(&PublishOp{
		opState: newOpState(s.completes(orig)),
		Topic:   topic,
		Payload: payload,
	})
}

func (s *converterStage) HandleEvent(ev Event) {
	msg, ok := ev.(*IncomingMessageEvent)
	if !ok {
		s.sendEventUp(ev)
		return
	}

	converted, err := s.convert(msg)
	if err != nil {
		s.log.Error("dropping malformed message", "stage", s.name, "topic", msg.Topic, "error", err)
		s.reportFailure(err)
		return
	}
	if converted == nil {
		s.log.Debug("unrecognised topic, passing up", "stage", s.name, "topic", msg.Topic)
		s.sendEventUp(ev)
		return
	}
	s.sendEventUp(converted)
}

// convert returns the typed event for msg, or nil when the topic is not one
// this device handles.
func (s *converterStage) convert(msg *IncomingMessageEvent) (Event, error) {
	switch {
	case s.topics.isC2D(msg.Topic):
		m, err := s.topics.parseC2D(msg.Topic, msg.Payload)
		if err != nil {
			return nil, err
		}
		return &C2DMessageEvent{Message: m}, nil

	case s.topics.isInput(msg.Topic):
		name, m, err := s.topics.parseInput(msg.Topic, msg.Payload)
		if err != nil {
			return nil, err
		}
		return &InputMessageEvent{InputName: name, Message: m}, nil

	case isMethodRequest(msg.Topic):
		name, rid, err := parseMethodRequest(msg.Topic)
		if err != nil {
			return nil, err
		}
		return &MethodRequestEvent{Request: &MethodRequest{
			RequestID: rid,
			Name:      name,
			Payload:   json.RawMessage(msg.Payload),
		}}, nil

	case isTwinResponse(msg.Topic):
		status, rid, err := parseTwinResponse(msg.Topic)
		if err != nil {
			return nil, err
		}
		return &ResponseEvent{RequestID: rid, StatusCode: status, Body: msg.Payload}, nil

	case isTwinPatch(msg.Topic):
		var patch TwinPatch
		if err := json.Unmarshal(msg.Payload, &patch); err != nil {
			return nil, fmt.Errorf("%w: twin patch payload: %w", ErrMalformedTopic, err)
		}
		return &TwinPatchEvent{Patch: patch}, nil

	default:
		return nil, nil
	}
}
