package pipeline

import "crypto/tls"

// AuthProvider yields the identity and endpoint of the device.
type AuthProvider interface {
	Hostname() string
	DeviceID() string
	// ModuleID is empty for device identities.
	ModuleID() string
	// GatewayHostname, when set, is dialled instead of Hostname.
	GatewayHostname() string
	// CACert is a PEM bundle of trusted roots, or empty for the system pool.
	CACert() string
}

// SASTokenProvider authenticates with a shared-access-signature token.
type SASTokenProvider interface {
	AuthProvider
	SASToken() string
	// SetOnTokenRenewed registers fn to be called with every new token.
	SetOnTokenRenewed(fn func(token string))
}

// X509Provider authenticates with a client certificate.
type X509Provider interface {
	AuthProvider
	Certificate() *tls.Certificate
}

// authOpFor returns the configuration operation matching the credential type
// of provider.
func authOpFor(provider AuthProvider, cb Callback) (Operation, error) {
	switch p := provider.(type) {
	case SASTokenProvider:
		return &SetAuthProviderOp{opState: newOpState(cb), Provider: p}, nil
	case X509Provider:
		return &SetX509AuthProviderOp{opState: newOpState(cb), Provider: p}, nil
	default:
		return nil, ErrInvalidAuthProvider
	}
}
