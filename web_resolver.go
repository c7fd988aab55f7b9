package ipsync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// addressPattern matches the body format of checkip-style services:
//
//	<html><body>Current IP Address: 203.0.113.5</body></html>
var addressPattern = regexp.MustCompile(`Current IP Address: ([0-9a-fA-F:.]+)`)

// WebResolver constructs a resolver which asks an external web service for
// the machine's public IP address.
//
// The service must speak http and return status "200 OK".
// Two body formats are accepted:
// the checkip format ("Current IP Address: <ip>" anywhere in the body,
// first occurrence wins),
// and a bare IPv4 or IPv6 address as the whole body,
// which is what most public services (icanhazip, ipify, and friends) return.
func WebResolver(serviceURL string) Resolver {
	return &webResolver{serviceURL: serviceURL}
}

type webResolver struct {
	httpClient *http.Client
	serviceURL string
	logger     zerolog.Logger
}

// Resolve implements ipsync.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	// 15 seconds is an eternity for the size of the request we're making,
	// but this ensures that the call will eventually complete even if the
	// caller supplied context.Background and http.DefaultClient (with no timeout).
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wr.serviceURL, nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.httpClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error reading response body: %w", err)
	}

	addr, err := parseAddress(string(body))
	if err != nil {
		return netip.Addr{}, err
	}
	wr.logger.Debug().Str("url", wr.serviceURL).Str("ip", addr.String()).Msg("resolved public address")
	return addr, nil
}

// parseAddress extracts an address from a response body.
// The first checkip-style match wins;
// failing that, the whole body is tried as a bare address.
func parseAddress(body string) (netip.Addr, error) {
	if m := addressPattern.FindStringSubmatch(body); m != nil {
		addr, err := netip.ParseAddr(m[1])
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%w: matched %q: %v", ErrNoAddress, m[1], err)
		}
		return addr, nil
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(body))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w in response body", ErrNoAddress)
	}
	return addr, nil
}
