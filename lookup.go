package ipsync

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// LiveRecord is an A record as currently served by a nameserver.
type LiveRecord struct {
	Addr string
	TTL  uint32
}

// LookupA queries nameserver directly for the A records of domain,
// returning each answer with the TTL the server reported.
// An empty nameserver uses the system resolver configuration,
// falling back to 1.1.1.1. A nameserver without a port gets port 53.
func LookupA(ctx context.Context, domain, nameserver string) ([]LiveRecord, error) {
	if nameserver == "" {
		nameserver = systemNameserver()
	}
	if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)

	c := new(dns.Client)
	r, _, err := c.ExchangeContext(ctx, m, nameserver)
	if err != nil {
		return nil, fmt.Errorf("dns query to %s failed: %w", nameserver, err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query for %s returned %s", domain, dns.RcodeToString[r.Rcode])
	}

	var records []LiveRecord
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			records = append(records, LiveRecord{Addr: a.A.String(), TTL: a.Hdr.Ttl})
		}
	}
	return records, nil
}

func systemNameserver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "1.1.1.1:53"
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}
