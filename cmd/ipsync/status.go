package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"ipsync"
)

func newStatusCmd() *cobra.Command {
	var nameserver string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored address, the detected address, and what the world currently serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), nameserver)
		},
	}
	cmd.Flags().StringVar(&nameserver, "dns-server", "", "nameserver to query (host or host:port)")
	return cmd
}

func runStatus(ctx context.Context, nameserver string) error {
	cfg, err := ipsync.LoadConfig()
	if err != nil {
		return err
	}

	stored, err := ipsync.NewFileStore(cfg.StateFile).Read()
	if err != nil {
		return err
	}
	if stored == "" {
		stored = "(none)"
	}
	fmt.Printf("stored:    %s\n", stored)

	addr, err := ipsync.WebResolver(cfg.CheckURL).Resolve(ctx)
	if err != nil {
		return fmt.Errorf("error detecting public address: %w", err)
	}
	fmt.Printf("detected:  %s\n", addr)

	whitelist, err := ipsync.NewOVHWhitelist(cfg.OVH)
	if err != nil {
		return err
	}
	if listed, err := whitelist.Contains(ctx, addr.String()); err != nil {
		fmt.Printf("whitelist: unknown (%s)\n", err)
	} else {
		fmt.Printf("whitelist: %t\n", listed)
	}

	domains := make([]string, 0, len(cfg.Domains))
	for domain := range cfg.Domains {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	for _, domain := range domains {
		records, err := ipsync.LookupA(ctx, domain, nameserver)
		switch {
		case err != nil:
			fmt.Printf("%s: lookup failed: %s\n", domain, err)
		case len(records) == 0:
			fmt.Printf("%s: no A records\n", domain)
		default:
			for _, r := range records {
				marker := ""
				if r.Addr != addr.String() {
					marker = "  (stale)"
				}
				fmt.Printf("%s: %s ttl=%d%s\n", domain, r.Addr, r.TTL, marker)
			}
		}
	}
	return nil
}
