package ipsync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoAddress is returned when a resolver could not extract an IP address
// from whatever it was looking at.
// Wrap it with fmt.Errorf and %w so callers can test with errors.Is.
var ErrNoAddress = errors.New("no IP address found")

// WhitelistError is returned when the new address could not be added to the
// database whitelist. The address named in IP was stored but is not yet
// allowed to connect.
type WhitelistError struct {
	IP  string
	Err error
}

func (e *WhitelistError) Error() string {
	return fmt.Sprintf("whitelist update failed for %s: %s", e.IP, e.Err)
}

func (e *WhitelistError) Unwrap() error { return e.Err }

// DomainFailure records one domain that could not be updated and why.
type DomainFailure struct {
	Domain string
	Reason string
}

// DNSUpdateError reports every domain that failed during a record update
// pass. It is only returned after all domains have been attempted.
type DNSUpdateError struct {
	Failures []DomainFailure
}

func (e *DNSUpdateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dns update failed for %d domain(s):", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  - %s: %s", f.Domain, f.Reason)
	}
	return b.String()
}
