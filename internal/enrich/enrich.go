// Package enrich looks up hostnames and countries for addresses found in
// extracted records.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/logging"
)

const (
	DefaultLookupTimeout = 3 * time.Second
	DefaultCacheSize     = 64
)

// Config configures an Enricher
type Config struct {
	// HostnamesFile is a JSON object mapping addresses to names. It is
	// consulted before reverse DNS.
	HostnamesFile string `yaml:"hostnames_file,omitempty"`

	// CountriesFile is a JSON object mapping CIDR ranges to country codes
	CountriesFile string `yaml:"countries_file,omitempty"`

	// ReverseDNS enables resolver lookups for addresses missing from the
	// hostnames file
	ReverseDNS bool `yaml:"reverse_dns"`

	LookupTimeout time.Duration `yaml:"lookup_timeout,omitempty"`
	CacheSize     int           `yaml:"cache_size,omitempty"`
}

// Resolver performs reverse lookups
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type countryRange struct {
	prefix netip.Prefix
	code   string
}

// Enricher resolves hostnames and countries. Lookups are cached, failed
// ones included.
type Enricher struct {
	hostnames map[string]string
	countries []countryRange
	resolver  Resolver
	timeout   time.Duration
	cache     *lru.Cache[string, string]
	logger    *logging.Logger
}

// New creates an enricher, loading the configured files
func New(cfg Config, logger *logging.Logger) (*Enricher, error) {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	e := &Enricher{
		hostnames: map[string]string{},
		timeout:   cfg.LookupTimeout,
		cache:     cache,
		logger:    logging.OrNop(logger).WithComponent("enrich"),
	}
	if cfg.ReverseDNS {
		e.resolver = net.DefaultResolver
	}
	if cfg.HostnamesFile != "" {
		if err := e.loadHostnames(cfg.HostnamesFile); err != nil {
			return nil, err
		}
	}
	if cfg.CountriesFile != "" {
		if err := e.loadCountries(cfg.CountriesFile); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// WithResolver replaces the reverse DNS resolver
func (e *Enricher) WithResolver(r Resolver) *Enricher {
	e.resolver = r
	return e
}

func (e *Enricher) loadHostnames(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read hostnames file: %w", err)
	}
	if err := json.Unmarshal(data, &e.hostnames); err != nil {
		return fmt.Errorf("failed to parse hostnames file %s: %w", path, err)
	}
	return nil
}

func (e *Enricher) loadCountries(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read countries file: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse countries file %s: %w", path, err)
	}
	for cidr, code := range raw {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return fmt.Errorf("invalid range %q in %s: %w", cidr, path, err)
		}
		e.countries = append(e.countries, countryRange{prefix: prefix.Masked(), code: strings.ToLower(code)})
	}
	// most specific range first
	sort.Slice(e.countries, func(i, j int) bool {
		return e.countries[i].prefix.Bits() > e.countries[j].prefix.Bits()
	})
	return nil
}

// Hostname returns the name of addr from the hostnames file or reverse DNS
func (e *Enricher) Hostname(ctx context.Context, addr string) (string, bool) {
	if name, ok := e.hostnames[addr]; ok {
		return name, true
	}
	if e.resolver == nil {
		return "", false
	}
	if name, ok := e.cache.Get(addr); ok {
		return name, name != ""
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var name string
	names, err := e.resolver.LookupAddr(ctx, addr)
	switch {
	case err != nil:
		e.logger.Debug().Err(err).Str("address", addr).Msg("Reverse lookup failed")
	case len(names) > 0:
		name = strings.TrimSuffix(names[0], ".")
	}
	e.cache.Add(addr, name)
	return name, name != ""
}

// Country returns the lower-case country code of the most specific range
// containing addr
func (e *Enricher) Country(ctx context.Context, addr string) (string, bool) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return "", false
	}
	ip = ip.Unmap()
	for _, r := range e.countries {
		if r.prefix.Contains(ip) {
			return r.code, true
		}
	}
	return "", false
}
