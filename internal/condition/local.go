package condition

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"sync"
)

// privateRanges are always considered local
var privateRanges = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/29",
	"192.0.0.170/31",
	"192.0.2.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	"255.255.255.255/32",
	"::1/128",
	"::/128",
	"::ffff:0:0/96",
	"100::/64",
	"2001::/23",
	"2001:db8::/32",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// LocalAddresses decides whether an address belongs to the local network:
// private and loopback ranges plus configured extra ranges.
type LocalAddresses struct {
	mu    sync.RWMutex
	extra []netip.Prefix
}

// NewLocalAddresses parses the extra ranges
func NewLocalAddresses(ranges ...string) (*LocalAddresses, error) {
	l := &LocalAddresses{}
	if err := l.Add(ranges...); err != nil {
		return nil, err
	}
	return l, nil
}

// Add appends extra ranges
func (l *LocalAddresses) Add(ranges ...string) error {
	parsed := make([]netip.Prefix, 0, len(ranges))
	for _, r := range ranges {
		p, ok := parsePrefix(r)
		if !ok {
			return fmt.Errorf("%w: local range %q", ErrConfigInvalid, r)
		}
		parsed = append(parsed, p)
	}

	l.mu.Lock()
	l.extra = append(l.extra, parsed...)
	l.mu.Unlock()
	return nil
}

// LoadFile merges a JSON array of CIDR strings
func (l *LocalAddresses) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read local ranges: %w", err)
	}

	var ranges []string
	if err := json.Unmarshal(data, &ranges); err != nil {
		return fmt.Errorf("%w: local ranges file %s: %v", ErrConfigInvalid, path, err)
	}
	return l.Add(ranges...)
}

// IsLocal reports whether address is local. It fails for anything that is
// not a single IP address.
func (l *LocalAddresses) IsLocal(address string) (bool, error) {
	a, ok := parseAddr(address)
	if !ok {
		return false, fmt.Errorf("%w: %q is not an address", ErrUnsupportedComparison, address)
	}

	for _, p := range privateRanges {
		if p.Contains(a) {
			return true, nil
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.extra {
		if p.Contains(a) {
			return true, nil
		}
	}
	return false, nil
}
