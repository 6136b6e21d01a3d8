package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
)

// HTTPConfig configures the http channel
type HTTPConfig struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method,omitempty"`

	TLS *security.TLSConfig `yaml:"tls,omitempty"`
}

// HTTP calls a URL per message. GET appends the text message to the URL;
// POST sends the JSON message as the body.
type HTTP struct {
	url    string
	method string
	client *http.Client
}

// NewHTTP creates an HTTP channel
func NewHTTP(cfg HTTPConfig, timeout time.Duration) (*HTTP, error) {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, configErr("invalid HTTP method %q", cfg.Method)
	}
	if cfg.URL == "" {
		return nil, configErr("URL needed")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, configErr("invalid URL: %v", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	tlsConfig, err := security.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return nil, configErr("%v", err)
	}
	if tlsConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		client.Transport = transport
	}
	return &HTTP{
		url:    cfg.URL,
		method: method,
		client: client,
	}, nil
}

func (h *HTTP) Format() Format {
	if h.method == http.MethodPost {
		return FormatJSON
	}
	return FormatText
}

func (h *HTTP) Send(ctx context.Context, msg string) error {
	var req *http.Request
	var err error
	if h.method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(msg))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, h.url+url.QueryEscape(msg), nil)
	}
	if err != nil {
		return deliveryErr("http", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return deliveryErr("http", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return deliveryErr("http", fmt.Errorf("status %s", resp.Status))
	}
	return nil
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
