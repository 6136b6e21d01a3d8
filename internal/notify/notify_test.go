package notify

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/metrics"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/reliability"
	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// fakeChannel records delivered messages
type fakeChannel struct {
	mu     sync.Mutex
	format Format
	msgs   []string
	err    error
	tries  int
}

func (f *fakeChannel) Format() Format { return f.format }

func (f *fakeChannel) Send(ctx context.Context, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tries++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestRender(t *testing.T) {
	rec := types.Record{"name": "auth_ssh", "user": "alice", "port": int64(22)}

	text, err := Render(rec, FormatText)
	if err != nil {
		t.Fatalf("Failed to render text: %v", err)
	}
	if text != "name: auth_ssh\nport: 22\nuser: alice\n" {
		t.Errorf("Unexpected text %q", text)
	}

	js, err := Render(rec, FormatJSON)
	if err != nil {
		t.Fatalf("Failed to render json: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(js), &got); err != nil {
		t.Fatalf("Failed to decode json: %v", err)
	}
	if got["port"] != "22" {
		t.Errorf("Expected stringified port, got %#v", got["port"])
	}

	if _, err := Render(rec, Format("xml")); err == nil {
		t.Error("Expected unknown format to fail")
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := NewRateLimiter(time.Minute, clock)

	if !limiter.Allow("auth_ssh") {
		t.Fatal("Expected first message to be accepted")
	}
	now = now.Add(30 * time.Second)
	if limiter.Allow("auth_ssh") {
		t.Error("Expected message within the window to be suppressed")
	}
	if !limiter.Allow("apache_access") {
		t.Error("Expected a new kind to be accepted")
	}
	now = now.Add(31 * time.Second)
	if !limiter.Allow("auth_ssh") {
		t.Error("Expected message after the window to be accepted")
	}

	unlimited := NewRateLimiter(0, clock)
	for i := 0; i < 3; i++ {
		if !unlimited.Allow("x") {
			t.Fatal("Expected no limit with interval 0")
		}
	}
}

func TestNotifier_RateLimitDelivery(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	ch := &fakeChannel{format: FormatText}
	n := NewNotifier(Config{Name: "ops", Type: "fake", Limit: 60}, ch, func() time.Time { return now })
	ctx := context.Background()

	if err := n.Send(ctx, "a", "auth_ssh"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	now = now.Add(10 * time.Second)
	if err := n.Send(ctx, "b", "auth_ssh"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	if ch.count() != 1 {
		t.Fatalf("Expected exactly one delivered message, got %d", ch.count())
	}

	now = now.Add(61 * time.Second)
	if err := n.Send(ctx, "c", "auth_ssh"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if ch.count() != 2 {
		t.Errorf("Expected two delivered messages, got %d", ch.count())
	}
}

func TestNotifier_Breaker(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	ch := &fakeChannel{format: FormatText, err: deliveryErr("fake", errors.New("down"))}
	n := NewNotifier(Config{Name: "ops", Type: "fake", BreakerFailures: 2, BreakerCooldown: time.Minute}, ch, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := n.Send(ctx, "a", "auth_ssh"); !errors.Is(err, ErrDeliveryFailed) {
			t.Fatalf("Expected ErrDeliveryFailed, got %v", err)
		}
	}
	err := n.Send(ctx, "a", "auth_ssh")
	if !errors.Is(err, ErrDeliveryFailed) || !errors.Is(err, reliability.ErrCircuitOpen) {
		t.Fatalf("Expected an open breaker, got %v", err)
	}
	if ch.tries != 2 {
		t.Errorf("Expected the open breaker to skip the channel, got %d tries", ch.tries)
	}

	ch.mu.Lock()
	ch.err = nil
	ch.mu.Unlock()
	now = now.Add(time.Minute)
	if err := n.Send(ctx, "b", "auth_ssh"); err != nil {
		t.Fatalf("Expected the probe to be delivered, got %v", err)
	}
	if n.BreakerState() != reliability.StateClosed {
		t.Errorf("Expected the breaker to close, got %s", n.BreakerState())
	}
}

func TestSocket_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	addr := ln.Addr().(*net.TCPAddr)
	sock, err := NewSocket("tcp", SocketConfig{Host: "127.0.0.1", Port: addr.Port}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer sock.Close()

	if sock.conn != nil {
		t.Fatal("Expected lazy connection")
	}
	if err := sock.Send(context.Background(), "user: alice\n"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	select {
	case got := <-received:
		if got != "user: alice\n" {
			t.Errorf("Unexpected message %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
}

func TestSocket_TCPUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	sock, err := NewSocket("tcp", SocketConfig{Host: "127.0.0.1", Port: port}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	if err := sock.Send(context.Background(), "x"); !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Expected ErrDeliveryFailed, got %v", err)
	}
}

func TestSocket_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	ca := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(caFile, ca, 0600); err != nil {
		t.Fatalf("Failed to write CA: %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", srv.TLS)
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	}()

	tlsCfg := &security.TLSConfig{Enabled: true, CAFile: caFile}
	port := ln.Addr().(*net.TCPAddr).Port
	sock, err := NewSocket("tcp", SocketConfig{Host: "127.0.0.1", Port: port, TLS: tlsCfg}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer sock.Close()

	if err := sock.Send(context.Background(), "user: alice\n"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	select {
	case got := <-received:
		if got != "user: alice\n" {
			t.Errorf("Unexpected message %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}

	if _, err := NewSocket("udp", SocketConfig{Host: "127.0.0.1", Port: port, TLS: tlsCfg}, time.Second); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected tls over udp to be rejected, got %v", err)
	}
}

func TestSocket_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer pc.Close()

	port := pc.LocalAddr().(*net.UDPAddr).Port
	sock, err := NewSocket("udp", SocketConfig{Host: "127.0.0.1", Port: port, Format: "json"}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer sock.Close()
	if sock.Format() != FormatJSON {
		t.Errorf("Expected json format, got %s", sock.Format())
	}

	if err := sock.Send(context.Background(), `{"user":"alice"}`); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	buf := make([]byte, 1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("Failed to read datagram: %v", err)
	}
	if string(buf[:n]) != `{"user":"alice"}` {
		t.Errorf("Unexpected datagram %q", buf[:n])
	}
}

func TestSocketConfig_Validation(t *testing.T) {
	tests := []SocketConfig{
		{Host: "", Port: 514},
		{Host: "localhost", Port: 0},
		{Host: "localhost", Port: 70000},
		{Host: "localhost", Port: 514, Format: "xml"},
	}
	for _, cfg := range tests {
		if _, err := NewSocket("tcp", cfg, 0); !errors.Is(err, ErrConfigInvalid) {
			t.Errorf("Expected ErrConfigInvalid for %+v, got %v", cfg, err)
		}
	}
}

func TestHTTP_GetAndPost(t *testing.T) {
	var mu sync.Mutex
	var gets []string
	var posts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			gets = append(gets, r.URL.Query().Get("msg"))
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			if r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
			posts = append(posts, string(body))
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	get, err := NewHTTP(HTTPConfig{URL: srv.URL + "/hook?msg="}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	if get.Format() != FormatText {
		t.Errorf("Expected text for GET, got %s", get.Format())
	}
	if err := get.Send(ctx, "user: alice\n"); err != nil {
		t.Fatalf("Failed to GET: %v", err)
	}

	post, err := NewHTTP(HTTPConfig{URL: srv.URL + "/hook", Method: "post"}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	if post.Format() != FormatJSON {
		t.Errorf("Expected json for POST, got %s", post.Format())
	}
	if err := post.Send(ctx, `{"user":"alice"}`); err != nil {
		t.Fatalf("Failed to POST: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gets) != 1 || gets[0] != "user: alice\n" {
		t.Errorf("Unexpected GET messages %q", gets)
	}
	if len(posts) != 1 || posts[0] != `{"user":"alice"}` {
		t.Errorf("Unexpected POST bodies %q", posts)
	}
}

func TestHTTP_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch, _ := NewHTTP(HTTPConfig{URL: srv.URL + "/"}, time.Second)
	if err := ch.Send(context.Background(), "x"); !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Expected ErrDeliveryFailed, got %v", err)
	}

	if _, err := NewHTTP(HTTPConfig{URL: srv.URL, Method: "PUT"}, 0); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected invalid method to fail, got %v", err)
	}
	if _, err := NewHTTP(HTTPConfig{}, 0); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected missing URL to fail, got %v", err)
	}
}

// fakeSMTP serves one plaintext SMTP session and returns the DATA payload
func fakeSMTP(t *testing.T, ln net.Listener) <-chan string {
	data := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { io.WriteString(conn, s+"\r\n") }

		reply("220 localhost ESMTP")
		var body strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					data <- body.String()
					reply("250 queued")
					continue
				}
				body.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 ok")
			case cmd == "DATA":
				inData = true
				reply("354 go ahead")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 not implemented")
			}
		}
	}()
	return data
}

func TestMail_SendPlain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()
	data := fakeSMTP(t, ln)

	mail, err := NewMail(MailConfig{
		SMTPHost:    "127.0.0.1",
		SMTPPort:    ln.Addr().(*net.TCPAddr).Port,
		FromAddress: "sentry@example.com",
		ToAddress:   "ops@example.com",
		Subject:     "New login",
		Security:    "none",
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := mail.Send(context.Background(), "user: alice\n"); err != nil {
		t.Fatalf("Failed to send mail: %v", err)
	}

	select {
	case body := <-data:
		if !strings.Contains(body, "Subject: New login\r\n") || !strings.Contains(body, "user: alice\r\n") {
			t.Errorf("Unexpected mail body %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for mail")
	}
}

func TestMail_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  MailConfig
	}{
		{"no to", MailConfig{SMTPHost: "h", FromAddress: "f"}},
		{"no from", MailConfig{SMTPHost: "h", ToAddress: "t"}},
		{"no server", MailConfig{FromAddress: "f", ToAddress: "t"}},
		{"bad security", MailConfig{SMTPHost: "h", FromAddress: "f", ToAddress: "t", Security: "ssl3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMail(tt.cfg, 0); !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}

	m, err := NewMail(MailConfig{SMTPHost: "h", FromAddress: "f", ToAddress: "t"}, 0)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	if m.cfg.SMTPPort != 465 || m.cfg.Security != "tls" || m.cfg.Subject != "Log Notification" {
		t.Errorf("Unexpected defaults %+v", m.cfg)
	}
}

func TestSyslog(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer pc.Close()

	ch, err := NewSyslog(SyslogConfig{Priority: "WARNING", Facility: "Auth", Network: "udp", Address: pc.LocalAddr().String()})
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(context.Background(), "new login from 10.0.0.5"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	buf := make([]byte, 2048)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	got := string(buf[:n])
	// auth (4) * 8 + warning (4)
	if !strings.HasPrefix(got, "<36>") || !strings.Contains(got, "logsentry") || !strings.Contains(got, "new login from 10.0.0.5") {
		t.Errorf("Unexpected syslog packet %q", got)
	}

	if _, err := NewSyslog(SyslogConfig{Priority: "loud", Facility: "auth"}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected unknown priority to fail, got %v", err)
	}
	if _, err := NewSyslog(SyslogConfig{Priority: "info", Facility: "nowhere"}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected unknown facility to fail, got %v", err)
	}
}

func TestTelegram(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	ch, err := NewTelegram(TelegramConfig{BotToken: "123:abc", ChatID: "42", Subject: "sentry", APIURL: srv.URL}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	if err := ch.Send(context.Background(), "user: alice\n"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Errorf("Unexpected path %s", gotPath)
	}
	if gotBody["chat_id"] != "42" || gotBody["text"] != "sentry:\n\nuser: alice\n" {
		t.Errorf("Unexpected body %v", gotBody)
	}

	if _, err := NewTelegram(TelegramConfig{ChatID: "42"}, 0); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected missing token to fail, got %v", err)
	}
}

func TestSignal(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	script := filepath.Join(dir, "signal-cli")
	content := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + out + "\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	ch, err := NewSignal(SignalConfig{CommandPath: script, PhoneNumber: "+15550100"})
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	if err := ch.Send(context.Background(), "user: alice"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	args, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read args: %v", err)
	}
	if string(args) != "send\n-m\nuser: alice\n+15550100\n" {
		t.Errorf("Unexpected arguments %q", args)
	}

	if _, err := NewSignal(SignalConfig{CommandPath: script}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected missing phone number to fail, got %v", err)
	}
	if _, err := NewSignal(SignalConfig{CommandPath: filepath.Join(dir, "missing"), NoteToSelf: true}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected missing command to fail, got %v", err)
	}
}

func TestStoreChannel(t *testing.T) {
	mem := docstore.NewMemory()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	ch := NewStore("memory", func(context.Context) (docstore.Store, error) { return mem, nil }, 7)
	ch.now = func() time.Time { return now }
	ctx := context.Background()

	msg := `{"name":"auth_ssh","user":"alice","timestamp":"2024-05-01T08:00:00+0000"}`
	if err := ch.Send(ctx, msg); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}
	if err := ch.Send(ctx, `{"name":"auth_ssh","user":"bob"}`); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}

	docs := mem.Docs()
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}
	ts, ok := docs[0]["timestamp"].(time.Time)
	if !ok || !ts.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected native timestamp, got %#v", docs[0]["timestamp"])
	}

	if err := ch.Send(ctx, "user: alice"); !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Expected non-JSON message to fail, got %v", err)
	}

	deleted, err := ch.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Failed to clean up: %v", err)
	}
	if deleted != 1 || mem.Len() != 1 {
		t.Errorf("Expected the old notification removed, deleted=%d left=%d", deleted, mem.Len())
	}
}

type fakeEnricher struct {
	lookups int
}

func (f *fakeEnricher) Hostname(ctx context.Context, addr string) (string, bool) {
	f.lookups++
	if addr == "10.0.0.5" {
		return "build01.lan", true
	}
	return "", false
}

func (f *fakeEnricher) Country(ctx context.Context, addr string) (string, bool) {
	f.lookups++
	return "NL", true
}

func TestDispatcher(t *testing.T) {
	m := metrics.NewCollector()
	enricher := &fakeEnricher{}
	text := &fakeChannel{format: FormatText}
	js := &fakeChannel{format: FormatJSON}
	failing := &fakeChannel{format: FormatText, err: deliveryErr("fake", errors.New("down"))}

	d := NewDispatcher(DispatcherConfig{Metrics: m, Enricher: enricher},
		NewNotifier(Config{Name: "ops", ResolveIP: true, Limit: 60}, text, nil),
		NewNotifier(Config{Name: "archive", FindCountry: true}, js, nil),
		NewNotifier(Config{Name: "broken"}, failing, nil),
	)
	ctx := context.Background()
	rec := types.Record{"name": "auth_ssh", "ip_address": "10.0.0.5"}

	if err := d.Dispatch(ctx, "ops", rec, "auth_ssh"); err != nil {
		t.Fatalf("Failed to dispatch: %v", err)
	}
	if !strings.Contains(text.msgs[0], "hostname: build01.lan\n") {
		t.Errorf("Expected hostname enrichment, got %q", text.msgs[0])
	}
	if _, ok := rec["hostname"]; ok {
		t.Error("Enrichment modified the caller's record")
	}

	if err := d.Dispatch(ctx, "ops", rec, "auth_ssh"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}

	withCountry := types.Record{"name": "auth_ssh", "ip_address": "10.0.0.5", "country": "DE"}
	if err := d.Dispatch(ctx, "archive", withCountry, "auth_ssh"); err != nil {
		t.Fatalf("Failed to dispatch: %v", err)
	}
	if !strings.Contains(js.msgs[0], `"country":"DE"`) {
		t.Errorf("Expected existing country kept, got %s", js.msgs[0])
	}

	if err := d.Dispatch(ctx, "broken", rec, "auth_ssh"); !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("Expected ErrDeliveryFailed, got %v", err)
	}
	if err := d.Dispatch(ctx, "missing", rec, "auth_ssh"); !errors.Is(err, ErrUnknownName) {
		t.Errorf("Expected ErrUnknownName, got %v", err)
	}

	if got := testutil.ToFloat64(m.NotificationsSent.WithLabelValues("ops")); got != 1 {
		t.Errorf("Expected 1 sent, got %f", got)
	}
	if got := testutil.ToFloat64(m.NotificationsSuppressed.WithLabelValues("ops")); got != 1 {
		t.Errorf("Expected 1 suppressed, got %f", got)
	}
	if got := testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("broken")); got != 1 {
		t.Errorf("Expected 1 failed, got %f", got)
	}
	if enricher.lookups != 2 {
		t.Errorf("Expected 2 lookups, got %d", enricher.lookups)
	}
}

func TestNew_Registry(t *testing.T) {
	if _, err := New(Config{Name: "x", Type: "jabber"}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
	if _, err := New(Config{Name: "x", Type: "http"}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected missing section to fail, got %v", err)
	}
	if _, err := New(Config{Type: "tcp"}); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Expected unnamed notifier to fail, got %v", err)
	}

	n, err := New(Config{Name: "hook", Type: "http", HTTP: &HTTPConfig{URL: "http://127.0.0.1/"}})
	if err != nil {
		t.Fatalf("Failed to create notifier: %v", err)
	}
	if n.Timeout != DefaultTimeout || n.HasCleanup() {
		t.Errorf("Unexpected notifier %+v", n)
	}

	store, err := New(Config{Name: "db", Type: "mongo", Retention: 30, Mongo: &docstore.MongoConfig{Database: "logs", Collection: "alerts"}})
	if err != nil {
		t.Fatalf("Failed to create store notifier: %v", err)
	}
	if !store.HasCleanup() || store.Format() != FormatJSON {
		t.Error("Expected a JSON store notifier with cleanup")
	}
}
