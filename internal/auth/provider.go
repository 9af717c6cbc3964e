package auth

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-device/internal/pipeline"
)

// Token lifetime defaults.
const (
	DefaultTokenTTL           = time.Hour
	DefaultTokenRenewalMargin = 2 * time.Minute
)

// Compile-time interface checks.
var (
	_ pipeline.SASTokenProvider = (*SymmetricKeyProvider)(nil)
	_ pipeline.SASTokenProvider = (*SASTokenProvider)(nil)
	_ pipeline.X509Provider     = (*X509Provider)(nil)
)

// Identity names the device or module and the hub it belongs to.
type Identity struct {
	Hostname        string
	DeviceID        string
	ModuleID        string
	GatewayHostname string
}

// identity implements the pipeline.AuthProvider accessors shared by every
// provider.
type identity struct {
	id     Identity
	caCert string
}

func (i identity) Hostname() string        { return i.id.Hostname }
func (i identity) DeviceID() string        { return i.id.DeviceID }
func (i identity) ModuleID() string        { return i.id.ModuleID }
func (i identity) GatewayHostname() string { return i.id.GatewayHostname }
func (i identity) CACert() string          { return i.caCert }

// Options tunes provider construction.
type Options struct {
	// TokenTTL is the validity of each generated SAS token.
	TokenTTL time.Duration
	// RenewalMargin is how long before expiry a token is replaced.
	RenewalMargin time.Duration
	// CACert is a PEM bundle of trusted roots.
	CACert string
	// CertFile and KeyFile hold the client certificate for x509=true
	// connection strings.
	CertFile string
	KeyFile  string
	// GatewayHostname replaces the connection string's GatewayHostName.
	GatewayHostname string

	// now is overridden in tests.
	now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TokenTTL <= 0 {
		o.TokenTTL = DefaultTokenTTL
	}
	if o.RenewalMargin <= 0 {
		o.RenewalMargin = DefaultTokenRenewalMargin
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// SymmetricKeyProvider signs SAS tokens with a shared access key and renews
// them RenewalMargin before they expire.
type SymmetricKeyProvider struct {
	identity
	key     string
	keyName string
	ttl     time.Duration
	margin  time.Duration
	now     func() time.Time

	mu        sync.Mutex
	token     string
	expiry    time.Time
	onRenewed func(string)
	timer     *time.Timer
	stopped   bool
}

// NewSymmetricKeyProvider creates a provider and signs its first token.
// Call Stop to cancel the renewal timer.
func NewSymmetricKeyProvider(id Identity, key, keyName string, opts Options) (*SymmetricKeyProvider, error) {
	opts = opts.withDefaults()
	if opts.RenewalMargin >= opts.TokenTTL {
		return nil, fmt.Errorf("auth: renewal margin %s must be shorter than token TTL %s",
			opts.RenewalMargin, opts.TokenTTL)
	}

	p := &SymmetricKeyProvider{
		identity: identity{id: id, caCert: opts.CACert},
		key:      key,
		keyName:  keyName,
		ttl:      opts.TokenTTL,
		margin:   opts.RenewalMargin,
		now:      opts.now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.signLocked(); err != nil {
		return nil, err
	}
	p.scheduleLocked()
	return p, nil
}

// SASToken returns the current token.
func (p *SymmetricKeyProvider) SASToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// Expiry returns when the current token stops being valid.
func (p *SymmetricKeyProvider) Expiry() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expiry
}

// SetOnTokenRenewed registers fn to be called with every renewed token.
func (p *SymmetricKeyProvider) SetOnTokenRenewed(fn func(token string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRenewed = fn
}

// Renew signs a new token immediately, reschedules the timer and notifies
// the renewal hook.
func (p *SymmetricKeyProvider) Renew() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	if err := p.signLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.scheduleLocked()
	token, fn := p.token, p.onRenewed
	p.mu.Unlock()

	if fn != nil {
		fn(token)
	}
	return nil
}

// Stop cancels future renewals.
func (p *SymmetricKeyProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *SymmetricKeyProvider) signLocked() error {
	expiry := p.now().Add(p.ttl)
	uri := ResourceURI(p.id.Hostname, p.id.DeviceID, p.id.ModuleID)
	token, err := GenerateSASToken(uri, p.key, p.keyName, expiry)
	if err != nil {
		return err
	}
	p.token = token
	p.expiry = expiry
	return nil
}

func (p *SymmetricKeyProvider) scheduleLocked() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.ttl-p.margin, func() {
		_ = p.Renew() //nolint:errcheck // key was validated by the first signing
	})
}

// SASTokenProvider serves a token issued elsewhere.
type SASTokenProvider struct {
	identity

	mu        sync.Mutex
	token     string
	onRenewed func(string)
}

// NewSASTokenProvider wraps a pre-signed token.
func NewSASTokenProvider(id Identity, token, caCert string) *SASTokenProvider {
	return &SASTokenProvider{
		identity: identity{id: id, caCert: caCert},
		token:    token,
	}
}

// SASToken returns the current token.
func (p *SASTokenProvider) SASToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// SetOnTokenRenewed registers fn to be called by Update.
func (p *SASTokenProvider) SetOnTokenRenewed(fn func(token string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRenewed = fn
}

// Update replaces the token and notifies the renewal hook.
func (p *SASTokenProvider) Update(token string) {
	p.mu.Lock()
	p.token = token
	fn := p.onRenewed
	p.mu.Unlock()

	if fn != nil {
		fn(token)
	}
}

// X509Provider authenticates with a client certificate.
type X509Provider struct {
	identity
	cert *tls.Certificate
}

// NewX509Provider loads a PEM certificate and key pair from disk.
func NewX509Provider(id Identity, certFile, keyFile, caCert string) (*X509Provider, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertificate, err)
	}
	return NewX509ProviderFromCertificate(id, &cert, caCert), nil
}

// NewX509ProviderFromCertificate wraps an already loaded certificate.
func NewX509ProviderFromCertificate(id Identity, cert *tls.Certificate, caCert string) *X509Provider {
	return &X509Provider{
		identity: identity{id: id, caCert: caCert},
		cert:     cert,
	}
}

// Certificate returns the client certificate.
func (p *X509Provider) Certificate() *tls.Certificate {
	return p.cert
}

// LoadCACert reads a PEM bundle. An empty path yields an empty bundle.
func LoadCACert(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return "", fmt.Errorf("auth: reading CA certificate: %w", err)
	}
	return string(data), nil
}

// FromConnectionString builds the provider a connection string describes.
func FromConnectionString(connectionString string, opts Options) (pipeline.AuthProvider, error) {
	cs, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	id := cs.Identity()
	if opts.GatewayHostname != "" {
		id.GatewayHostname = opts.GatewayHostname
	}

	switch {
	case cs.SharedAccessKey != "":
		return NewSymmetricKeyProvider(id, cs.SharedAccessKey, cs.SharedAccessKeyName, opts)
	case cs.SharedAccessSignature != "":
		return NewSASTokenProvider(id, cs.SharedAccessSignature, opts.CACert), nil
	default:
		if opts.CertFile == "" || opts.KeyFile == "" {
			return nil, fmt.Errorf("%w: x509=true needs a certificate and key file", ErrInvalidConnectionString)
		}
		return NewX509Provider(id, opts.CertFile, opts.KeyFile, opts.CACert)
	}
}

// Stopper is implemented by providers that own background timers.
type Stopper interface {
	Stop()
}
