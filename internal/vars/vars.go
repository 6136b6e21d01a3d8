// Package vars holds the process-wide substitution variables that emit
// templates can reference as $name.
package vars

import (
	"net"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Unknown is rendered for variables that are not defined
const Unknown = "-"

var varPattern = regexp.MustCompile(`\$\w+`)

// Provider computes the current value of a variable
type Provider func() string

// Table maps variable names (without the leading $) to providers
type Table struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// New returns a table with the standard process variables.
func New(version string) *Table {
	t := &Table{providers: make(map[string]Provider)}

	t.Set("fqdn", fqdn)
	t.Set("hostname", func() string {
		name, _ := os.Hostname()
		return strings.ToLower(name)
	})
	t.Set("host_ip", func() string { return ownAddress(false) })
	t.Set("host_ipv6", func() string { return ownAddress(true) })
	t.Set("time", func() string { return time.Now().Format("15:04:05") })
	t.Set("date", func() string { return time.Now().Format("2006:01:02") })
	t.Set("isotime", func() string { return time.Now().Format("2006-01-02T15:04:05.000000") })
	t.Set("pid", func() string { return strconv.Itoa(os.Getpid()) })
	t.Set("version", func() string { return version })

	return t
}

// Empty returns a table without any variables
func Empty() *Table {
	return &Table{providers: make(map[string]Provider)}
}

// Set registers or replaces a variable
func (t *Table) Set(name string, p Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[strings.TrimPrefix(name, "$")] = p
}

// Lookup evaluates a variable
func (t *Table) Lookup(name string) (string, bool) {
	t.mu.RLock()
	p, ok := t.providers[strings.TrimPrefix(name, "$")]
	t.mu.RUnlock()
	if !ok {
		return "", false
	}
	return p(), true
}

// Names returns the defined variable names, sorted
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expand replaces every $name in s with its value, or Unknown
func (t *Table) Expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := t.Lookup(m); ok {
			return v
		}
		return Unknown
	})
}

func fqdn() string {
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return host
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return host
	}
	return strings.TrimSuffix(names[0], ".")
}

// ownAddress returns the first address of a non-loopback interface
func ownAddress(v6 bool) string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if isV4 := ipnet.IP.To4() != nil; isV4 != v6 {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}
