package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/reliability"
)

// ChannelFactory builds the channel for one notifier type
type ChannelFactory func(cfg Config) (Channel, error)

var registry = map[string]ChannelFactory{
	"tcp": func(cfg Config) (Channel, error) {
		if cfg.Socket == nil {
			return nil, configErr("socket section missing")
		}
		return NewSocket("tcp", *cfg.Socket, cfg.Timeout)
	},
	"udp": func(cfg Config) (Channel, error) {
		if cfg.Socket == nil {
			return nil, configErr("socket section missing")
		}
		return NewSocket("udp", *cfg.Socket, cfg.Timeout)
	},
	"http": func(cfg Config) (Channel, error) {
		if cfg.HTTP == nil {
			return nil, configErr("http section missing")
		}
		return NewHTTP(*cfg.HTTP, cfg.Timeout)
	},
	"mail": func(cfg Config) (Channel, error) {
		if cfg.Mail == nil {
			return nil, configErr("mail section missing")
		}
		return NewMail(*cfg.Mail, cfg.Timeout)
	},
	"syslog": func(cfg Config) (Channel, error) {
		if cfg.Syslog == nil {
			return nil, configErr("syslog section missing")
		}
		return NewSyslog(*cfg.Syslog)
	},
	"telegram": func(cfg Config) (Channel, error) {
		if cfg.Telegram == nil {
			return nil, configErr("telegram section missing")
		}
		return NewTelegram(*cfg.Telegram, cfg.Timeout)
	},
	"signal": func(cfg Config) (Channel, error) {
		if cfg.Signal == nil {
			return nil, configErr("signal section missing")
		}
		return NewSignal(*cfg.Signal)
	},
	"mongo": func(cfg Config) (Channel, error) {
		if cfg.Mongo == nil {
			return nil, configErr("mongo section missing")
		}
		mc := *cfg.Mongo
		if err := mc.Validate(); err != nil {
			return nil, configErr("%v", err)
		}
		return NewStore("mongo", func(ctx context.Context) (docstore.Store, error) {
			return docstore.NewMongo(ctx, mc)
		}, cfg.Retention), nil
	},
	"elasticsearch": func(cfg Config) (Channel, error) {
		if cfg.Elasticsearch == nil {
			return nil, configErr("elasticsearch section missing")
		}
		ec := *cfg.Elasticsearch
		if err := ec.Validate(); err != nil {
			return nil, configErr("%v", err)
		}
		return NewStore("elasticsearch", func(ctx context.Context) (docstore.Store, error) {
			return docstore.NewElastic(ec)
		}, cfg.Retention), nil
	},
}

// Types returns the registered notifier types
func Types() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Known reports whether typ names a registered notifier type
func Known(typ string) bool {
	_, ok := registry[typ]
	return ok
}

// Notifier is a named channel with its rate limit and enrichment options
type Notifier struct {
	Name        string
	Type        string
	ResolveIP   bool
	FindCountry bool
	Timeout     time.Duration

	channel Channel
	limiter *RateLimiter
	breaker *reliability.Breaker
}

// New builds the notifier described by cfg
func New(cfg Config) (*Notifier, error) {
	if cfg.Name == "" {
		return nil, configErr("notifier of type %s has no name", cfg.Type)
	}
	factory, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if cfg.Limit < 0 {
		return nil, configErr("negative limit %d", cfg.Limit)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	channel, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("notifier %s: %w", cfg.Name, err)
	}
	return NewNotifier(cfg, channel, nil), nil
}

// NewNotifier wraps an existing channel. now overrides the rate-limit clock.
func NewNotifier(cfg Config, channel Channel, now func() time.Time) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = DefaultBreakerCooldown
	}
	breaker := reliability.NewBreaker(reliability.BreakerConfig{
		Failures: cfg.BreakerFailures,
		Cooldown: cfg.BreakerCooldown,
		Now:      now,
	})
	return &Notifier{
		Name:        cfg.Name,
		Type:        cfg.Type,
		ResolveIP:   cfg.ResolveIP,
		FindCountry: cfg.FindCountry,
		Timeout:     cfg.Timeout,
		channel:     channel,
		limiter:     NewRateLimiter(time.Duration(cfg.Limit)*time.Second, now),
		breaker:     breaker,
	}
}

// Format returns the rendering the channel expects
func (n *Notifier) Format() Format {
	return n.channel.Format()
}

// Send delivers msg unless the rate limit for kind suppresses it, in
// which case ErrRateLimited is returned. While the breaker is open the
// delivery fails without reaching the channel.
func (n *Notifier) Send(ctx context.Context, msg, kind string) error {
	if !n.limiter.Allow(kind) {
		return ErrRateLimited
	}
	err := n.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, n.Timeout)
		defer cancel()
		return n.channel.Send(ctx, msg)
	})
	if errors.Is(err, reliability.ErrCircuitOpen) {
		return deliveryErr(n.Name, err)
	}
	return err
}

// BreakerState returns the state of the delivery breaker
func (n *Notifier) BreakerState() reliability.State {
	return n.breaker.State()
}

// Cleanup expires stored notifications for channels that keep them
func (n *Notifier) Cleanup(ctx context.Context) (int64, error) {
	c, ok := n.channel.(Cleaner)
	if !ok {
		return 0, nil
	}
	return c.Cleanup(ctx)
}

// HasCleanup reports whether the channel keeps what it delivers
func (n *Notifier) HasCleanup() bool {
	_, ok := n.channel.(Cleaner)
	return ok
}

// Close releases the channel
func (n *Notifier) Close() error {
	return n.channel.Close()
}
