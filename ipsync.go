package ipsync

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/cloudflare/cloudflare-go"
	"github.com/rs/zerolog"
)

// Resolver looks up the machine's current public IP address.
type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// Whitelist manages the set of addresses allowed to reach a managed database.
type Whitelist interface {
	// Replace removes oldIP from the whitelist and adds newIP.
	// An empty oldIP means there is nothing to remove.
	// Removal failures are tolerated; add failures are not.
	Replace(ctx context.Context, oldIP, newIP string) error
}

// Provider updates DNS records to point at a new address.
type Provider interface {
	// UpdateRecords points the A record of every domain in domains at ip.
	// Domains are updated independently: a failure for one is recorded and
	// the rest are still attempted.
	UpdateRecords(ctx context.Context, domains map[string]Zone, ip string) error
}

// StateStore remembers the last address that was successfully detected.
type StateStore interface {
	// Read returns the stored address, or "" if none has been stored yet.
	Read() (string, error)
	// Write replaces the stored address.
	Write(ip string) error
}

// Outcome reports what a sync pass did.
type Outcome string

const (
	// FirstRun means no address was stored yet;
	// the current one was recorded without touching the whitelist or DNS.
	FirstRun Outcome = "first-run"
	// NoChange means the detected address matches the stored one.
	NoChange Outcome = "no-change"
	// Updated means the address changed and was propagated.
	Updated Outcome = "updated"
)

// New creates a Client from cfg.
//
// By default the client detects the public address with a WebResolver
// pointed at cfg.CheckURL, persists it to cfg.StateFile, and propagates
// changes to the OVH whitelist and Cloudflare records named by cfg.
// Options replace individual collaborators.
func New(cfg Config, options ...Option) (Client, error) {
	c := &client{
		domains: cfg.Domains,
		logger:  zerolog.Nop(),
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("ipsync.New: option %d returned an error: %w", i, err)
		}
	}

	if c.Resolver == nil {
		c.Resolver = WebResolver(cfg.CheckURL)
	}
	if c.StateStore == nil {
		c.StateStore = NewFileStore(cfg.StateFile)
	}
	if c.Whitelist == nil {
		w, err := NewOVHWhitelist(cfg.OVH)
		if err != nil {
			return nil, fmt.Errorf("ipsync.New: error creating whitelist client: %w", err)
		}
		c.Whitelist = w
	}
	if c.Provider == nil {
		p, err := newCloudflareProvider(cfg.Cloudflare.APIToken)
		if err != nil {
			return nil, fmt.Errorf("ipsync.New: error creating cloudflare DNS provider: %w", err)
		}
		c.Provider = p
	}

	// this lets us propagate the logger and http client to dependencies
	// that were registered before WithLogger/UsingHTTPClient were applied
	withLogger(c.logger)(c)
	withHTTPClient(c.httpClient)(c)
	return c, nil
}

// Option configures the client returned by New.
type Option func(*client) error

// UsingResolver replaces the default public address resolver.
// A nil resolver restores the default.
func UsingResolver(resolver Resolver) Option {
	return func(c *client) error {
		c.Resolver = resolver
		return nil
	}
}

// UsingStore replaces the default file-backed address store.
func UsingStore(store StateStore) Option {
	return func(c *client) error {
		c.StateStore = store
		return nil
	}
}

// UsingWhitelist replaces the default OVH whitelist client.
func UsingWhitelist(whitelist Whitelist) Option {
	return func(c *client) error {
		c.Whitelist = whitelist
		return nil
	}
}

// UsingProvider replaces the default Cloudflare DNS provider.
func UsingProvider(provider Provider) Option {
	return func(c *client) error {
		c.Provider = provider
		return nil
	}
}

// WithLogger attaches a logger to the client and its collaborators.
// The default is zerolog.Nop.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *client) error {
		c.logger = logger
		return nil
	}
}

// UsingHTTPClient replaces the http client used for outbound requests.
func UsingHTTPClient(httpclient *http.Client) Option {
	return func(c *client) error {
		c.httpClient = httpclient
		return nil
	}
}

func withLogger(logger zerolog.Logger) Option {
	return func(c *client) error {
		type setLogger interface {
			SetLogger(zerolog.Logger)
		}

		switch r := c.Resolver.(type) {
		case *webResolver:
			r.logger = logger.With().Str("component", "resolver").Logger()
		case setLogger:
			r.SetLogger(logger)
		}

		switch w := c.Whitelist.(type) {
		case *OVHWhitelist:
			w.logger = logger.With().Str("component", "whitelist").Logger()
		case setLogger:
			w.SetLogger(logger)
		}

		switch p := c.Provider.(type) {
		case *cloudflareProvider:
			p.logger = logger.With().Str("component", "dns").Logger()
		case setLogger:
			p.SetLogger(logger)
		}

		return nil
	}
}

func withHTTPClient(httpclient *http.Client) Option {
	return func(c *client) error {
		if httpclient == nil {
			return nil
		}
		switch r := c.Resolver.(type) {
		case *webResolver:
			r.httpClient = httpclient
		}
		switch w := c.Whitelist.(type) {
		case *OVHWhitelist:
			// the ovh client copies its Timeout field onto its http.Client
			// before every request, so keep the two in agreement
			w.client.Client = httpclient
			w.client.Timeout = httpclient.Timeout
		}
		switch p := c.Provider.(type) {
		case *cloudflareProvider:
			cloudflare.HTTPClient(httpclient)(p.api)
		}
		return nil
	}
}

// Client runs one synchronization pass per call to Sync.
type Client interface {
	Sync(ctx context.Context) (Outcome, error)
}

type client struct {
	Resolver
	Whitelist
	Provider
	StateStore
	logger     zerolog.Logger
	httpClient *http.Client
	domains    map[string]Zone
}

// Sync detects the current public address, compares it with the stored one,
// and on change stores the new address before updating the whitelist and
// then the DNS records. There is no rollback: a downstream failure leaves
// the new address stored and is reported to the caller.
func (c *client) Sync(ctx context.Context) (Outcome, error) {
	stored, err := c.Read()
	if err != nil {
		return "", fmt.Errorf("error reading stored address: %w", err)
	}

	addr, err := c.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("error resolving public address: %w", err)
	}
	current := addr.String()
	c.logger.Debug().Str("current", current).Str("stored", stored).Msg("detected public address")

	if current == stored {
		c.logger.Info().Str("ip", current).Msg("address unchanged")
		return NoChange, nil
	}

	if err := c.Write(current); err != nil {
		return "", fmt.Errorf("error storing address %s: %w", current, err)
	}

	if stored == "" {
		c.logger.Info().Str("ip", current).Msg("no previous address; stored without propagating")
		return FirstRun, nil
	}

	c.logger.Info().Str("from", stored).Str("to", current).Msg("address changed")

	if err := c.Replace(ctx, stored, current); err != nil {
		return "", err
	}
	if err := c.UpdateRecords(ctx, c.domains, current); err != nil {
		return "", err
	}

	c.logger.Info().Str("ip", current).Msg("sync complete")
	return Updated, nil
}
