// Package auth provides the credentials a Gray Logic device uses to open its
// IoT Hub session.
//
// It implements three providers:
//   - SymmetricKeyProvider: signs its own SAS tokens from a shared access key
//     and renews them before they expire
//   - SASTokenProvider: a fixed, externally issued SAS token
//   - X509Provider: a client certificate and key loaded from disk
//
// All providers satisfy pipeline.AuthProvider; the shared-secret providers
// also satisfy pipeline.SASTokenProvider and the certificate provider
// pipeline.X509Provider, which decides how the pipeline is configured.
//
// Connection strings use the IoT Hub format:
//
//	HostName=hub.azure-devices.net;DeviceId=thermostat-1;SharedAccessKey=<base64>
package auth
