/*
Package ipsync keeps DNS records and a database IP whitelist pointed at this machine's public IP address.

Usage will always start with [ipsync.New],
which returns the Client implementation.
New requires a [Config] naming the managed domains and API credentials.
Additional client configuration options are listed in the docs for New.

A call to Sync compares the current public address against the last one stored on disk
and propagates only when they differ:
the new address is stored first,
then the database whitelist is updated,
then the A record of every configured domain.
*/
package ipsync
