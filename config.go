package ipsync

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config carries everything needed to run a synchronization pass.
// Values are read from the environment once by LoadConfig;
// the components themselves never consult the environment.
type Config struct {
	OVH        OVHConfig
	Cloudflare CloudflareConfig
	// Domains maps each managed domain name to the zone its records live in.
	Domains map[string]Zone
	// StateFile is where the last known address is persisted.
	StateFile string
	// CheckURL is the web service asked for our public address.
	CheckURL string
}

// OVHConfig holds the signed-request credentials for the OVH API
// and the name of the CloudDB service whose whitelist is managed.
type OVHConfig struct {
	Endpoint    string
	AppKey      string
	AppSecret   string
	ConsumerKey string
	Service     string
}

// CloudflareConfig holds the Cloudflare API credentials.
type CloudflareConfig struct {
	APIToken string
}

// Zone names the DNS zone a domain's records live in.
type Zone struct {
	ZoneID string `json:"zone_id"`
}

// LoadConfig builds a Config from the environment:
//
//	OVH_ENDPOINT            api endpoint (default "ovh-eu")
//	OVH_APPLICATION_KEY     application key (required)
//	OVH_APPLICATION_SECRET  application secret (required)
//	OVH_CONSUMER_KEY        consumer key (required)
//	OVH_SERVICE_NAME        CloudDB service name (required)
//	CLOUDFLARE_API_TOKEN    api token (required unless a token file exists)
//	IPSYNC_TOKEN_FILE       token file location (default $HOME/.cloudflare)
//	IPSYNC_DOMAINS          JSON object mapping domains to zones (required),
//	                        e.g. {"home.example.com":{"zone_id":"abc123"}}
//	IPSYNC_STATE_FILE       last-address file (default "last_ip.txt")
//	IPSYNC_CHECKIP_URL      address service (default "http://checkip.dyndns.org/")
//
// Every missing required variable is reported in a single error.
func LoadConfig() (Config, error) {
	cfg := Config{
		OVH: OVHConfig{
			Endpoint:    env("OVH_ENDPOINT", "ovh-eu"),
			AppKey:      os.Getenv("OVH_APPLICATION_KEY"),
			AppSecret:   os.Getenv("OVH_APPLICATION_SECRET"),
			ConsumerKey: os.Getenv("OVH_CONSUMER_KEY"),
			Service:     os.Getenv("OVH_SERVICE_NAME"),
		},
		StateFile: env("IPSYNC_STATE_FILE", "last_ip.txt"),
		CheckURL:  env("IPSYNC_CHECKIP_URL", "http://checkip.dyndns.org/"),
	}

	var missing []string
	if cfg.OVH.AppKey == "" {
		missing = append(missing, "OVH_APPLICATION_KEY")
	}
	if cfg.OVH.AppSecret == "" {
		missing = append(missing, "OVH_APPLICATION_SECRET")
	}
	if cfg.OVH.ConsumerKey == "" {
		missing = append(missing, "OVH_CONSUMER_KEY")
	}
	if cfg.OVH.Service == "" {
		missing = append(missing, "OVH_SERVICE_NAME")
	}

	cfg.Cloudflare.APIToken = os.Getenv("CLOUDFLARE_API_TOKEN")
	if cfg.Cloudflare.APIToken == "" {
		token, err := readToken(TokenPath())
		switch {
		case errors.Is(err, fs.ErrNotExist):
			missing = append(missing, "CLOUDFLARE_API_TOKEN")
		case err != nil:
			return Config{}, err
		default:
			cfg.Cloudflare.APIToken = token
		}
	}

	domains := os.Getenv("IPSYNC_DOMAINS")
	if domains == "" {
		missing = append(missing, "IPSYNC_DOMAINS")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.Domains, err = ParseDomains(domains); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ParseDomains decodes a domain-to-zone mapping from its JSON form.
func ParseDomains(s string) (map[string]Zone, error) {
	domains := map[string]Zone{}
	if err := json.Unmarshal([]byte(s), &domains); err != nil {
		return nil, fmt.Errorf("error parsing IPSYNC_DOMAINS: %w", err)
	}
	if len(domains) == 0 {
		return nil, errors.New("IPSYNC_DOMAINS must name at least one domain")
	}
	return domains, nil
}

// TokenPath returns the Cloudflare token file location.
func TokenPath() string {
	return env("IPSYNC_TOKEN_FILE", filepath.Join(os.Getenv("HOME"), ".cloudflare"))
}

func env(envvar string, defaultvalue string) string {
	e, found := os.LookupEnv(envvar)
	if found {
		return e
	}
	return defaultvalue
}

// readToken reads the first line of the token file at path.
// The file must not be readable by other users.
func readToken(path string) (string, error) {
	if err := verifyPermissions(path); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error reading token: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, _, err := r.ReadLine()
	if err != nil {
		return "", fmt.Errorf("error reading token from \"%s\": %w", path, err)
	}
	return strings.TrimSpace(string(line)), nil
}

func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking token file permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}

	return nil
}
