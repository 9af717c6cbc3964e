package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ResourceURI returns the SAS resource URI for a device or module identity.
//
// Example: hub.azure-devices.net/devices/thermostat-1/modules/filter
func ResourceURI(hostname, deviceID, moduleID string) string {
	uri := fmt.Sprintf("%s/devices/%s", hostname, url.PathEscape(deviceID))
	if moduleID != "" {
		uri += "/modules/" + url.PathEscape(moduleID)
	}
	return uri
}

// GenerateSASToken signs a shared access signature for uri that expires at
// expiry. key is the base64-encoded shared access key. keyName is optional.
//
// Format: SharedAccessSignature sr={uri}&sig={signature}&se={expiry}[&skn={keyName}]
func GenerateSASToken(uri, key, keyName string, expiry time.Time) (string, error) {
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	encodedURI := url.QueryEscape(uri)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, rawKey)
	mac.Write([]byte(encodedURI + "\n" + se))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	token := fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s",
		encodedURI, url.QueryEscape(sig), se)
	if keyName != "" {
		token += "&skn=" + url.QueryEscape(keyName)
	}
	return token, nil
}
