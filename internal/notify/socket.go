package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
)

// SocketConfig configures the tcp and udp channels
type SocketConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Format string `yaml:"format,omitempty"`

	// TLS is only valid for tcp
	TLS *security.TLSConfig `yaml:"tls,omitempty"`
}

func (c SocketConfig) validate() (Format, error) {
	if c.Host == "" {
		return "", configErr("socket host missing")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return "", configErr("invalid port number %d", c.Port)
	}
	return ParseFormat(c.Format)
}

// Socket writes messages to a TCP or UDP peer. The connection is made on
// the first send and re-established once when a send fails.
type Socket struct {
	network string
	address string
	format  Format
	timeout time.Duration
	dialer  interface {
		DialContext(ctx context.Context, network, address string) (net.Conn, error)
	}

	mu   sync.Mutex
	conn net.Conn
}

// NewSocket creates a socket channel for network "tcp" or "udp"
func NewSocket(network string, cfg SocketConfig, timeout time.Duration) (*Socket, error) {
	format, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if network != "tcp" && network != "udp" {
		return nil, configErr("unsupported network %q", network)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Socket{
		network: network,
		address: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		format:  format,
		timeout: timeout,
		dialer:  &net.Dialer{Timeout: timeout},
	}

	tlsConfig, err := security.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return nil, configErr("%v", err)
	}
	if tlsConfig != nil {
		if network != "tcp" {
			return nil, configErr("tls is not supported over %s", network)
		}
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = cfg.Host
		}
		s.dialer = &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}, Config: tlsConfig}
	}
	return s, nil
}

func (s *Socket) Format() Format { return s.format }

// Send writes msg, reconnecting and retrying once on failure
func (s *Socket) Send(ctx context.Context, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if err := s.write(msg); err == nil {
			return nil
		}
		s.conn.Close()
		s.conn = nil
	}

	conn, err := s.dialer.DialContext(ctx, s.network, s.address)
	if err != nil {
		return deliveryErr(s.network, err)
	}
	s.conn = conn

	if err := s.write(msg); err != nil {
		s.conn.Close()
		s.conn = nil
		return deliveryErr(s.network, err)
	}
	return nil
}

func (s *Socket) write(msg string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	n, err := s.conn.Write([]byte(msg))
	if err == nil && n < len(msg) {
		err = errors.New("short write")
	}
	return err
}

// Close closes the connection
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
