package providers

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// TLSResult is the tls provider's slice of the report payload.
type TLSResult struct {
	Issuer        string    `json:"issuer"`
	Subject       string    `json:"subject"`
	NotAfter      time.Time `json:"not_after"`
	DaysRemaining int       `json:"days_remaining"`
	SANMatch      bool      `json:"san_match"`
	Version       string    `json:"version"`
}

type tlsProvider struct {
	timeout time.Duration
}

func NewTLS() Provider {
	return &tlsProvider{timeout: 15 * time.Second}
}

func (p *tlsProvider) Name() string    { return "tls" }
func (p *tlsProvider) CostUSD() float64 { return 0 }

func (p *tlsProvider) Analyze(ctx context.Context, domain string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: p.timeout},
		Config:    &tls.Config{ServerName: domain},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, "443"))
	if err != nil {
		return nil, fmt.Errorf("tls dial %s: %w", domain, err)
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tls %s: no peer certificates", domain)
	}
	leaf := state.PeerCertificates[0]

	result := TLSResult{
		Issuer:   leaf.Issuer.CommonName,
		Subject:  leaf.Subject.CommonName,
		NotAfter: leaf.NotAfter,
		SANMatch: leaf.VerifyHostname(domain) == nil,
		Version:  tls.VersionName(state.Version),
	}
	result.DaysRemaining = int(time.Until(leaf.NotAfter).Hours() / 24)

	return json.Marshal(result)
}
