package pipeline

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// IoT Hub MQTT topic prefixes.
const (
	topicMethodsPost    = "$iothub/methods/POST/"
	topicTwinResponse   = "$iothub/twin/res/"
	topicTwinPatch      = "$iothub/twin/PATCH/properties/desired/"
	topicRequestIDParam = "$rid"
)

// System property keys carried in the topic.
const (
	propMessageID       = "$.mid"
	propCorrelationID   = "$.cid"
	propUserID          = "$.uid"
	propContentType     = "$.ct"
	propContentEncoding = "$.ce"
	propOutputName      = "$.on"
)

// topics builds and parses IoT Hub topics for one device or module identity.
//
//	t := topics{deviceID: "thermostat-1"}
//	t.telemetry(msg)
//	// Returns: "devices/thermostat-1/messages/events/%24.ct=application%2Fjson"
type topics struct {
	deviceID string
	moduleID string
}

// =============================================================================
// Outbound Topics
// =============================================================================

// telemetry returns the topic for a device-to-cloud message.
//
// Example: devices/thermostat-1/messages/events/%24.mid=abc&room=kitchen
func (t topics) telemetry(msg *Message) string {
	return fmt.Sprintf("devices/%s/messages/events/%s", t.deviceID, encodeProperties(msg, ""))
}

// output returns the topic for a module output message.
//
// Example: devices/edge-1/modules/filter/messages/events/%24.on=alerts&%24.mid=abc
func (t topics) output(msg *Message, outputName string) string {
	return fmt.Sprintf("devices/%s/modules/%s/messages/events/%s",
		t.deviceID, t.moduleID, encodeProperties(msg, outputName))
}

// methodResponse returns the topic for a direct method response.
//
// Example: $iothub/methods/res/200/?$rid=1
func (topics) methodResponse(requestID string, status int) string {
	return fmt.Sprintf("$iothub/methods/res/%d/?$rid=%s", status, url.QueryEscape(requestID))
}

// twinRequest returns the topic for a twin request.
//
// Example: $iothub/twin/PATCH/properties/reported/?$rid=1
func (topics) twinRequest(method, resource, requestID string) string {
	return fmt.Sprintf("$iothub/twin/%s%s?$rid=%s", method, resource, url.QueryEscape(requestID))
}

// feature returns the subscription topic backing f.
func (t topics) feature(f Feature) (string, error) {
	switch f {
	case FeatureC2D:
		return fmt.Sprintf("devices/%s/messages/devicebound/#", t.deviceID), nil
	case FeatureInput:
		if t.moduleID == "" {
			return "", fmt.Errorf("%w: %q requires a module identity", ErrInvalidFeature, string(f))
		}
		return fmt.Sprintf("devices/%s/modules/%s/inputs/#", t.deviceID, t.moduleID), nil
	case FeatureMethods:
		return topicMethodsPost + "#", nil
	case FeatureTwin:
		return topicTwinResponse + "#", nil
	case FeatureTwinPatches:
		return topicTwinPatch + "#", nil
	default:
		return "", f.Validate()
	}
}

// encodeProperties renders the system and custom properties of msg as the
// url-encoded suffix of a telemetry topic. The output name, when set, comes
// first. Custom properties are sorted by key.
func encodeProperties(msg *Message, outputName string) string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}

	add(propOutputName, outputName)
	add(propMessageID, msg.MessageID)
	add(propCorrelationID, msg.CorrelationID)
	add(propUserID, msg.UserID)
	add(propContentType, msg.ContentType)
	add(propContentEncoding, msg.ContentEncoding)

	keys := make([]string, 0, len(msg.CustomProperties))
	for k := range msg.CustomProperties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, msg.CustomProperties[k])
	}

	return strings.Join(parts, "&")
}

// =============================================================================
// Inbound Topics
// =============================================================================

// c2dPrefix is the prefix of cloud-to-device messages for this device.
func (t topics) c2dPrefix() string {
	return fmt.Sprintf("devices/%s/messages/devicebound/", t.deviceID)
}

// inputPrefix is the prefix of input messages for this module.
func (t topics) inputPrefix() string {
	return fmt.Sprintf("devices/%s/modules/%s/inputs/", t.deviceID, t.moduleID)
}

// isC2D reports whether topic is a cloud-to-device message for this device.
func (t topics) isC2D(topic string) bool {
	return strings.HasPrefix(topic, t.c2dPrefix())
}

// isInput reports whether topic is an input message for this module.
func (t topics) isInput(topic string) bool {
	return t.moduleID != "" && strings.HasPrefix(topic, t.inputPrefix())
}

func isMethodRequest(topic string) bool { return strings.HasPrefix(topic, topicMethodsPost) }
func isTwinResponse(topic string) bool  { return strings.HasPrefix(topic, topicTwinResponse) }
func isTwinPatch(topic string) bool     { return strings.HasPrefix(topic, topicTwinPatch) }

// parseC2D extracts the message properties of a cloud-to-device topic.
//
// Example: devices/thermostat-1/messages/devicebound/%24.ct=text%2Fjson
func (t topics) parseC2D(topic string, payload []byte) (*Message, error) {
	return decodeProperties(strings.TrimPrefix(topic, t.c2dPrefix()), payload)
}

// parseInput extracts the input name and message properties of an input topic.
//
// Example: devices/edge-1/modules/filter/inputs/telemetry/%24.ct=text%2Fjson
func (t topics) parseInput(topic string, payload []byte) (string, *Message, error) {
	rest := strings.TrimPrefix(topic, t.inputPrefix())
	name, props, _ := strings.Cut(rest, "/")
	if name == "" {
		return "", nil, fmt.Errorf("%w: no input name in %q", ErrMalformedTopic, topic)
	}
	msg, err := decodeProperties(props, payload)
	if err != nil {
		return "", nil, err
	}
	msg.InputName = name
	return name, msg, nil
}

// parseMethodRequest extracts the method name and request id.
//
// Example: $iothub/methods/POST/reboot/?$rid=7
func parseMethodRequest(topic string) (name, requestID string, err error) {
	rest := strings.TrimPrefix(topic, topicMethodsPost)
	name, query, _ := strings.Cut(rest, "/")
	requestID, err = requestIDFrom(query)
	if err != nil || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return name, requestID, nil
}

// parseTwinResponse extracts the status code and request id.
//
// Example: $iothub/twin/res/200/?$rid=7&$version=3
func parseTwinResponse(topic string) (status int, requestID string, err error) {
	rest := strings.TrimPrefix(topic, topicTwinResponse)
	code, query, _ := strings.Cut(rest, "/")
	status, err = strconv.Atoi(code)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad status in %q", ErrMalformedTopic, topic)
	}
	requestID, err = requestIDFrom(query)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return status, requestID, nil
}

func requestIDFrom(query string) (string, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return "", err
	}
	rid := values.Get(topicRequestIDParam)
	if rid == "" {
		return "", fmt.Errorf("missing %s", topicRequestIDParam)
	}
	return rid, nil
}

func decodeProperties(encoded string, payload []byte) (*Message, error) {
	msg := NewMessage(payload)
	if encoded == "" {
		return msg, nil
	}

	values, err := url.ParseQuery(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: properties %q: %w", ErrMalformedTopic, encoded, err)
	}
	for key := range values {
		value := values.Get(key)
		switch key {
		case propMessageID:
			msg.MessageID = value
		case propCorrelationID:
			msg.CorrelationID = value
		case propUserID:
			msg.UserID = value
		case propContentType:
			msg.ContentType = value
		case propContentEncoding:
			msg.ContentEncoding = value
		default:
			if !strings.HasPrefix(key, "$.") && !strings.HasPrefix(key, "iothub-") {
				msg.CustomProperties[key] = value
			}
		}
	}
	return msg, nil
}
