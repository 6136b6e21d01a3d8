package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
)

// TelegramConfig configures the telegram channel
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	Subject  string `yaml:"subject,omitempty"`

	// APIURL overrides the Bot API base URL
	APIURL string `yaml:"api_url,omitempty"`
}

// Telegram posts messages through the Telegram Bot API
type Telegram struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegram creates a telegram channel
func NewTelegram(cfg TelegramConfig, timeout time.Duration) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, configErr("telegram bot token missing")
	}
	token, err := security.ResolveSecret(cfg.BotToken)
	if err != nil {
		return nil, configErr("telegram bot token: %v", err)
	}
	cfg.BotToken = token
	if cfg.ChatID == "" {
		return nil, configErr("telegram chat id missing")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Telegram{cfg: cfg, client: &http.Client{Timeout: timeout}}, nil
}

func (t *Telegram) Format() Format { return FormatText }

func (t *Telegram) Send(ctx context.Context, msg string) error {
	text := msg
	if t.cfg.Subject != "" {
		text = t.cfg.Subject + ":\n\n" + msg
	}
	body, err := json.Marshal(map[string]string{"chat_id": t.cfg.ChatID, "text": text})
	if err != nil {
		return deliveryErr("telegram", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return deliveryErr("telegram", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return deliveryErr("telegram", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &result); err != nil {
		return deliveryErr("telegram", fmt.Errorf("status %s", resp.Status))
	}
	if !result.OK {
		return deliveryErr("telegram", fmt.Errorf("api error: %s", result.Description))
	}
	return nil
}

func (t *Telegram) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// SignalConfig configures the signal channel, which runs signal-cli
type SignalConfig struct {
	CommandPath string `yaml:"command_path"`
	PhoneNumber string `yaml:"phone_number,omitempty"`
	NoteToSelf  bool   `yaml:"note_to_self,omitempty"`
}

// Signal sends messages by running the signal-cli command
type Signal struct {
	cfg SignalConfig
}

// NewSignal creates a signal channel. The command must exist.
func NewSignal(cfg SignalConfig) (*Signal, error) {
	if cfg.CommandPath == "" {
		return nil, configErr("command for Signal missing")
	}
	if !cfg.NoteToSelf && cfg.PhoneNumber == "" {
		return nil, configErr("phone number for Signal missing")
	}
	info, err := os.Stat(cfg.CommandPath)
	if err != nil || info.IsDir() {
		return nil, configErr("command for Signal not found: %s", cfg.CommandPath)
	}
	return &Signal{cfg: cfg}, nil
}

func (s *Signal) Format() Format { return FormatText }

func (s *Signal) args(msg string) []string {
	if s.cfg.PhoneNumber != "" {
		return []string{"send", "-m", msg, s.cfg.PhoneNumber}
	}
	return []string{"send", "--note-to-self", "-m", msg}
}

func (s *Signal) Send(ctx context.Context, msg string) error {
	cmd := exec.CommandContext(ctx, s.cfg.CommandPath, s.args(msg)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return deliveryErr("signal", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}

func (s *Signal) Close() error { return nil }
