// Package notify delivers rendered records through named, rate-limited
// notification channels.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

var (
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrConfigInvalid  = errors.New("invalid notifier configuration")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnknownType    = errors.New("unknown notifier type")
	ErrUnknownName    = errors.New("unknown notifier")
)

// Format is the message rendering a channel expects
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts text or json, defaulting to text
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: invalid format %q", ErrConfigInvalid, s)
}

// Channel sends one rendered message
type Channel interface {
	Format() Format
	Send(ctx context.Context, msg string) error
	Close() error
}

// Cleaner is implemented by channels that keep what they deliver
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Render formats rec for a channel. Text is one "field: value" line per
// field; JSON is an object with every value stringified. Fields are
// written in sorted order.
func Render(rec types.Record, format Format) (string, error) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	switch format {
	case FormatText:
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(types.FormatValue(rec[k]))
			b.WriteByte('\n')
		}
		return b.String(), nil
	case FormatJSON:
		out, err := json.Marshal(rec.Strings())
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
	return "", fmt.Errorf("unknown format %q", format)
}

// Config is the configuration of one named notifier. Only the section
// matching Type is consulted.
type Config struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// Limit is the minimum number of seconds between two messages of the
	// same event kind; 0 disables rate limiting
	Limit int `yaml:"limit,omitempty"`

	// ResolveIP adds a hostname field from the record's ip_address
	ResolveIP bool `yaml:"resolve_ip,omitempty"`

	// FindCountry adds a country field from the record's ip_address
	FindCountry bool `yaml:"find_country,omitempty"`

	// Timeout bounds one delivery
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Retention is the number of days stored notifications are kept
	Retention int `yaml:"retention,omitempty"`

	// BreakerFailures consecutive delivery failures make the notifier fail
	// fast for BreakerCooldown; a negative value disables this
	BreakerFailures int           `yaml:"breaker_failures,omitempty"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown,omitempty"`

	Socket        *SocketConfig           `yaml:"socket,omitempty"`
	HTTP          *HTTPConfig             `yaml:"http,omitempty"`
	Mail          *MailConfig             `yaml:"mail,omitempty"`
	Syslog        *SyslogConfig           `yaml:"syslog,omitempty"`
	Telegram      *TelegramConfig         `yaml:"telegram,omitempty"`
	Signal        *SignalConfig           `yaml:"signal,omitempty"`
	Mongo         *docstore.MongoConfig   `yaml:"mongo,omitempty"`
	Elasticsearch *docstore.ElasticConfig `yaml:"elasticsearch,omitempty"`
}

// DefaultTimeout bounds deliveries of notifiers without a timeout
const DefaultTimeout = 10 * time.Second

// Breaker defaults
const (
	DefaultBreakerFailures = 5
	DefaultBreakerCooldown = time.Minute
)

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

func deliveryErr(channel string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, channel, err)
}
