package auth

import (
	"fmt"
	"strings"
)

// Connection string keys.
const (
	csHostName              = "HostName"
	csDeviceID              = "DeviceId"
	csModuleID              = "ModuleId"
	csSharedAccessKey       = "SharedAccessKey"
	csSharedAccessKeyName   = "SharedAccessKeyName"
	csSharedAccessSignature = "SharedAccessSignature"
	csGatewayHostName       = "GatewayHostName"
	csX509                  = "x509"
)

// ConnectionString is a parsed IoT Hub connection string.
type ConnectionString struct {
	HostName              string
	DeviceID              string
	ModuleID              string
	SharedAccessKey       string
	SharedAccessKeyName   string
	SharedAccessSignature string
	GatewayHostName       string
	X509                  bool
}

// ParseConnectionString parses a semicolon-separated list of key=value
// pairs. HostName and DeviceId are required, and exactly one of
// SharedAccessKey, SharedAccessSignature or x509=true must be present.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	seen := make(map[string]bool)

	for _, part := range strings.Split(strings.TrimSpace(s), ";") {
		if part == "" {
			continue
		}
		// Values may contain '=' (base64 padding, SAS tokens).
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			return ConnectionString{}, fmt.Errorf("%w: malformed segment %q", ErrInvalidConnectionString, part)
		}
		if seen[key] {
			return ConnectionString{}, fmt.Errorf("%w: duplicate key %s", ErrInvalidConnectionString, key)
		}
		seen[key] = true

		switch key {
		case csHostName:
			cs.HostName = value
		case csDeviceID:
			cs.DeviceID = value
		case csModuleID:
			cs.ModuleID = value
		case csSharedAccessKey:
			cs.SharedAccessKey = value
		case csSharedAccessKeyName:
			cs.SharedAccessKeyName = value
		case csSharedAccessSignature:
			cs.SharedAccessSignature = value
		case csGatewayHostName:
			cs.GatewayHostName = value
		case csX509:
			cs.X509 = strings.EqualFold(value, "true")
		default:
			return ConnectionString{}, fmt.Errorf("%w: unknown key %s", ErrInvalidConnectionString, key)
		}
	}

	if err := cs.validate(); err != nil {
		return ConnectionString{}, err
	}
	return cs, nil
}

func (cs ConnectionString) validate() error {
	var errs []string

	if cs.HostName == "" {
		errs = append(errs, "HostName is required")
	}
	if cs.DeviceID == "" {
		errs = append(errs, "DeviceId is required")
	}

	credentials := 0
	if cs.SharedAccessKey != "" {
		credentials++
	}
	if cs.SharedAccessSignature != "" {
		credentials++
	}
	if cs.X509 {
		credentials++
	}
	if credentials != 1 {
		errs = append(errs, "exactly one of SharedAccessKey, SharedAccessSignature or x509=true is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConnectionString, strings.Join(errs, "; "))
	}
	return nil
}

// Identity returns the identity part of the connection string.
func (cs ConnectionString) Identity() Identity {
	return Identity{
		Hostname:        cs.HostName,
		DeviceID:        cs.DeviceID,
		ModuleID:        cs.ModuleID,
		GatewayHostname: cs.GatewayHostName,
	}
}
