package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"
)

// DNSResult is the dns provider's slice of the report payload.
type DNSResult struct {
	ARecords    []string `json:"a_records"`
	AAAARecords []string `json:"aaaa_records,omitempty"`
	MXHosts     []string `json:"mx_hosts,omitempty"`
	HasMX       bool     `json:"has_mx"`
	HasSPF      bool     `json:"has_spf"`
	NSHosts     []string `json:"ns_hosts,omitempty"`
	LookupMs    int64    `json:"lookup_ms"`
}

type dnsProvider struct {
	resolver *net.Resolver
	timeout  time.Duration
}

func NewDNS() Provider {
	return &dnsProvider{
		resolver: net.DefaultResolver,
		timeout:  10 * time.Second,
	}
}

func (p *dnsProvider) Name() string    { return "dns" }
func (p *dnsProvider) CostUSD() float64 { return 0 }

func (p *dnsProvider) Analyze(ctx context.Context, domain string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	ips, err := p.resolver.LookupIPAddr(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", domain, err)
	}

	result := DNSResult{}
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			result.ARecords = append(result.ARecords, v4.String())
		} else {
			result.AAAARecords = append(result.AAAARecords, ip.IP.String())
		}
	}
	if len(result.ARecords) == 0 && len(result.AAAARecords) == 0 {
		return nil, fmt.Errorf("resolve %s: no address records", domain)
	}

	// MX, TXT and NS are enrichment; their absence is data, not an error.
	if mxs, mxErr := p.resolver.LookupMX(ctx, domain); mxErr == nil {
		for _, mx := range mxs {
			result.MXHosts = append(result.MXHosts, strings.TrimSuffix(mx.Host, "."))
		}
		result.HasMX = len(result.MXHosts) > 0
	}
	if txts, txtErr := p.resolver.LookupTXT(ctx, domain); txtErr == nil {
		for _, txt := range txts {
			if strings.HasPrefix(strings.ToLower(txt), "v=spf1") {
				result.HasSPF = true
				break
			}
		}
	}
	if nss, nsErr := p.resolver.LookupNS(ctx, domain); nsErr == nil {
		for _, ns := range nss {
			result.NSHosts = append(result.NSHosts, strings.TrimSuffix(ns.Host, "."))
		}
	}

	result.LookupMs = time.Since(start).Milliseconds()
	return json.Marshal(result)
}
