package ipsync

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ovh/go-ovh/ovh"
	"github.com/rs/zerolog"
)

// OVHWhitelist manages the IP whitelist of an OVH CloudDB service.
//
// Entries are keyed by their CIDR form, /32 for IPv4 and /128 for IPv6,
// which must be url-encoded when it appears in a request path.
type OVHWhitelist struct {
	client  *ovh.Client
	service string
	logger  zerolog.Logger
}

// NewOVHWhitelist creates a whitelist client for the CloudDB service named
// in cfg. Requests are signed with the application key, application secret,
// and consumer key.
func NewOVHWhitelist(cfg OVHConfig) (*OVHWhitelist, error) {
	client, err := ovh.NewClient(cfg.Endpoint, cfg.AppKey, cfg.AppSecret, cfg.ConsumerKey)
	if err != nil {
		return nil, fmt.Errorf("error creating ovh api client: %w", err)
	}
	// NewClient defaults its Timeout to 180 seconds and copies that field
	// onto the embedded http.Client before every request, so the tighter
	// deadline must be set on both.
	client.Timeout = 30 * time.Second
	client.Client = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		},
	}
	return &OVHWhitelist{
		client:  client,
		service: cfg.Service,
		logger:  zerolog.Nop(),
	}, nil
}

type whitelistEntry struct {
	IP      string `json:"ip"`
	Name    string `json:"name"`
	Service bool   `json:"service"`
	SFTP    bool   `json:"sftp"`
}

// Replace implements ipsync.Whitelist.
//
// The old entry is removed first on a best-effort basis:
// a removal failure is logged and the new entry is still added.
// A failure to add the new entry is returned as a *WhitelistError.
func (w *OVHWhitelist) Replace(ctx context.Context, oldIP, newIP string) error {
	base := "/hosting/privateDatabase/" + w.service + "/whitelist"

	if oldIP != "" {
		cidr := cidrFor(oldIP)
		if err := w.client.DeleteWithContext(ctx, base+"/"+url.PathEscape(cidr), nil); err != nil {
			// The entry may have been renamed or cleaned up by hand.
			w.logger.Warn().Str("ip", oldIP).Err(err).Msg("could not remove old whitelist entry")
		} else {
			w.logger.Info().Str("ip", oldIP).Msg("removed old whitelist entry")
		}
	}

	entry := whitelistEntry{
		IP:      newIP,
		Name:    "ipsync " + time.Now().UTC().Format(time.RFC3339),
		Service: true,
		SFTP:    true,
	}
	if err := w.client.PostWithContext(ctx, base, entry, nil); err != nil {
		return &WhitelistError{IP: newIP, Err: err}
	}
	w.logger.Info().Str("ip", newIP).Msg("added new whitelist entry")
	return nil
}

// Contains reports whether ip is currently whitelisted,
// matching either the bare address or its CIDR form.
func (w *OVHWhitelist) Contains(ctx context.Context, ip string) (bool, error) {
	var entries []string
	err := w.client.GetWithContext(ctx, "/hosting/privateDatabase/"+w.service+"/whitelist", &entries)
	if err != nil {
		return false, fmt.Errorf("error listing whitelist entries: %w", err)
	}
	cidr := cidrFor(ip)
	for _, e := range entries {
		if e == ip || e == cidr {
			return true, nil
		}
	}
	return false, nil
}

// cidrFor returns the whitelist entry form of an address.
func cidrFor(ip string) string {
	if strings.Contains(ip, "/") {
		return ip
	}
	if strings.Contains(ip, ":") {
		return ip + "/128"
	}
	return ip + "/32"
}
