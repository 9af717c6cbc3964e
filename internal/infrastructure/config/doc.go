// Package config handles loading and validating Gray Logic device configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GLDEVICE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Connection strings carry the device key; prefer GLDEVICE_CONNECTION_STRING
//     over writing them into the config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/device.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.UserAgent)
package config
