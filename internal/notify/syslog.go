package notify

import (
	"context"
	"log/syslog"
	"strings"
	"sync"
)

var syslogSeverities = map[string]syslog.Priority{
	"emerg":   syslog.LOG_EMERG,
	"alert":   syslog.LOG_ALERT,
	"crit":    syslog.LOG_CRIT,
	"err":     syslog.LOG_ERR,
	"warning": syslog.LOG_WARNING,
	"notice":  syslog.LOG_NOTICE,
	"info":    syslog.LOG_INFO,
	"debug":   syslog.LOG_DEBUG,
}

var syslogFacilities = map[string]syslog.Priority{
	"kern":     syslog.LOG_KERN,
	"user":     syslog.LOG_USER,
	"mail":     syslog.LOG_MAIL,
	"daemon":   syslog.LOG_DAEMON,
	"auth":     syslog.LOG_AUTH,
	"syslog":   syslog.LOG_SYSLOG,
	"lpr":      syslog.LOG_LPR,
	"news":     syslog.LOG_NEWS,
	"uucp":     syslog.LOG_UUCP,
	"cron":     syslog.LOG_CRON,
	"authpriv": syslog.LOG_AUTHPRIV,
	"ftp":      syslog.LOG_FTP,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

// SyslogConfig configures the syslog channel. An empty Network logs to
// the local daemon.
type SyslogConfig struct {
	Priority string `yaml:"priority"`
	Facility string `yaml:"facility"`
	Ident    string `yaml:"ident,omitempty"`
	Network  string `yaml:"network,omitempty"`
	Address  string `yaml:"address,omitempty"`
}

// Syslog writes messages to a syslog daemon
type Syslog struct {
	cfg      SyslogConfig
	priority syslog.Priority

	mu     sync.Mutex
	writer *syslog.Writer
}

// NewSyslog creates a syslog channel. Priority and facility names are
// matched case-insensitively.
func NewSyslog(cfg SyslogConfig) (*Syslog, error) {
	severity, ok := syslogSeverities[strings.ToLower(cfg.Priority)]
	if !ok {
		return nil, configErr("unknown priority: %q", cfg.Priority)
	}
	facility, ok := syslogFacilities[strings.ToLower(cfg.Facility)]
	if !ok {
		return nil, configErr("unknown facility: %q", cfg.Facility)
	}
	if cfg.Ident == "" {
		cfg.Ident = "logsentry"
	}
	if cfg.Network != "" && cfg.Address == "" {
		return nil, configErr("syslog address missing for network %s", cfg.Network)
	}
	return &Syslog{cfg: cfg, priority: severity | facility}, nil
}

func (s *Syslog) Format() Format { return FormatText }

func (s *Syslog) Send(ctx context.Context, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		w, err := syslog.Dial(s.cfg.Network, s.cfg.Address, s.priority, s.cfg.Ident)
		if err != nil {
			return deliveryErr("syslog", err)
		}
		s.writer = w
	}

	// the writer reconnects once by itself when a write fails
	if _, err := s.writer.Write([]byte(msg)); err != nil {
		s.writer.Close()
		s.writer = nil
		return deliveryErr("syslog", err)
	}
	return nil
}

func (s *Syslog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
