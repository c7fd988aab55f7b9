package ipsync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/rs/zerolog"
)

func newCloudflareProvider(token string) (cf *cloudflareProvider, err error) {
	cf = new(cloudflareProvider)
	cf.api, err = cloudflare.NewWithAPIToken(token)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	cf.logger = zerolog.Nop()
	cf.comment = "managed by ipsync"
	return cf, nil
}

// cloudflareProvider implements ipsync.Provider.
type cloudflareProvider struct {
	api     *cloudflare.API
	logger  zerolog.Logger
	comment string // comment attached to each updated DNS entry
}

// UpdateRecords rewrites the A record of each domain to point at ip.
//
// Records are never created or deleted here: each domain must already have
// an A record, and only the first one is rewritten. Failures are recorded
// per domain and reported together once every domain has been attempted.
func (cf *cloudflareProvider) UpdateRecords(ctx context.Context, domains map[string]Zone, ip string) error {
	var failures []DomainFailure
	fail := func(domain, format string, args ...any) {
		reason := fmt.Sprintf(format, args...)
		cf.logger.Error().Str("domain", domain).Msg(reason)
		failures = append(failures, DomainFailure{Domain: domain, Reason: reason})
	}

	for _, domain := range sortedDomains(domains) {
		zone := domains[domain]
		if zone.ZoneID == "" {
			fail(domain, "no zone_id configured")
			continue
		}

		records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zone.ZoneID), cloudflare.ListDNSRecordsParams{
			Type: "A",
			Name: domain,
		})
		if err != nil {
			fail(domain, "error listing DNS records: %s", err)
			continue
		}
		if len(records) == 0 {
			fail(domain, "no A record found")
			continue
		}

		record := records[0]
		cf.logger.Debug().Str("domain", domain).Str("record", record.ID).Str("content", record.Content).Msg("found existing A record")

		_, err = cf.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zone.ZoneID), cloudflare.UpdateDNSRecordParams{
			ID:      record.ID,
			Type:    "A",
			Name:    domain,
			Content: ip,
			TTL:     1, // 1 means automatic
			Proxied: cloudflare.BoolPtr(false),
			Comment: cloudflare.StringPtr(cf.comment + " " + time.Now().UTC().Format(time.RFC3339)),
		})
		if err != nil {
			fail(domain, "error updating DNS record: %s", err)
			continue
		}
		cf.logger.Info().Str("domain", domain).Str("ip", ip).Msg("updated DNS record")
	}

	if len(failures) > 0 {
		return &DNSUpdateError{Failures: failures}
	}
	return nil
}

// sortedDomains returns the domain names in a stable order so that runs,
// logs, and error reports are deterministic.
func sortedDomains(domains map[string]Zone) []string {
	names := make([]string, 0, len(domains))
	for name := range domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
