package output

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

func TestKafka_SendAndRoute(t *testing.T) {
	cfg := DefaultKafkaConfig()
	cfg.TopicField = "name"
	cfg.PartitionKey = "user"

	backend, err := NewKafka(cfg)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	var sent []*sarama.ProducerMessage
	var mu sync.Mutex
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	check := func(msg *sarama.ProducerMessage) error {
		mu.Lock()
		sent = append(sent, msg)
		mu.Unlock()
		return nil
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(check)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(check)
	backend.newProducer = func([]string, *sarama.Config) (sarama.SyncProducer, error) {
		return producer, nil
	}

	ctx := context.Background()
	if err := backend.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	err = backend.Send(ctx, []types.Record{
		{"name": "auth_ssh", "user": "alice"},
		{"name": "apache_access"},
	})
	if err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	if len(sent) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(sent))
	}
	if sent[0].Topic != "auth_ssh" || sent[1].Topic != "apache_access" {
		t.Errorf("Unexpected topics %s, %s", sent[0].Topic, sent[1].Topic)
	}
	key, _ := sent[0].Key.Encode()
	if string(key) != "alice" {
		t.Errorf("Expected key alice, got %q", key)
	}
	if sent[1].Key != nil {
		t.Error("Expected no key without the partition field")
	}

	if err := backend.Close(ctx); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
}

func TestKafka_SendFailure(t *testing.T) {
	backend, err := NewKafka(DefaultKafkaConfig())
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	ctx := context.Background()

	if err := backend.Send(ctx, []types.Record{{"name": "x"}}); err == nil {
		t.Fatal("Expected send without producer to fail")
	}

	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	backend.newProducer = func([]string, *sarama.Config) (sarama.SyncProducer, error) {
		return producer, nil
	}
	backend.Connect(ctx)

	if err := backend.Send(ctx, []types.Record{{"name": "x"}}); err == nil {
		t.Fatal("Expected broker error to fail the batch")
	}
	backend.Close(ctx)
}

func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*KafkaConfig)
	}{
		{"no brokers", func(c *KafkaConfig) { c.Brokers = nil }},
		{"no topic", func(c *KafkaConfig) { c.Topic = "" }},
		{"bad codec", func(c *KafkaConfig) { c.CompressionCodec = "brotli" }},
		{"bad partitioner", func(c *KafkaConfig) { c.PartitionStrategy = "sticky" }},
		{"bad version", func(c *KafkaConfig) { c.Version = "banana" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultKafkaConfig()
			tt.modify(&cfg)
			if _, err := NewKafka(cfg); err == nil {
				t.Error("Expected configuration to be rejected")
			}
		})
	}
}

func TestS3_ObjectKey(t *testing.T) {
	cfg := DefaultS3Config()
	cfg.Bucket = "archive"
	backend, err := NewS3(cfg)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}

	ts := time.Date(2024, 3, 7, 9, 5, 0, 0, time.UTC)
	key := backend.objectKey(ts)
	if !strings.HasPrefix(key, "events/2024/03/07/09/") || !strings.HasSuffix(key, ".ndjson.gz") {
		t.Errorf("Unexpected key %s", key)
	}

	if _, err := NewS3(S3Config{Region: "us-east-1"}); err == nil {
		t.Error("Expected missing bucket to fail")
	}
	if _, err := NewS3(S3Config{Bucket: "b", Region: "r", Compression: "lz4"}); err == nil {
		t.Error("Expected unsupported compression to fail")
	}
}

func TestS3_SendPutsObject(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			paths = append(paths, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultS3Config()
	cfg.Bucket = "archive"
	cfg.Endpoint = srv.URL
	cfg.UsePathStyle = true
	cfg.AccessKeyID = "test"
	cfg.SecretAccessKey = "test"
	cfg.Compression = CompressionNone

	backend, err := NewS3(cfg)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	ctx := context.Background()
	if err := backend.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	if err := backend.Send(ctx, []types.Record{{"name": "auth_ssh"}, {"name": "auth_ssh"}}); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 {
		t.Fatalf("Expected one PUT, got %v", paths)
	}
	if !strings.HasPrefix(paths[0], "/archive/events/") {
		t.Errorf("Unexpected object path %s", paths[0])
	}
}

func TestBeatsEvent(t *testing.T) {
	ts := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	event := beatsEvent(types.Record{"name": "auth_ssh", "timestamp": ts, "count": int64(3)})

	if event["@timestamp"] != "2024-05-10T12:00:00Z" {
		t.Errorf("Unexpected @timestamp %v", event["@timestamp"])
	}
	if event["timestamp"] != "2024-05-10T12:00:00Z" {
		t.Errorf("Expected time values to be formatted, got %v", event["timestamp"])
	}
	if _, err := json.Marshal(event); err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	if _, err := NewBeats(BeatsConfig{}); err == nil {
		t.Error("Expected missing address to fail")
	}
	b, err := NewBeats(BeatsConfig{Address: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	if err := b.Send(context.Background(), nil); err == nil || errors.Is(err, ErrCommitFailed) {
		t.Errorf("Expected not-connected error, got %v", err)
	}
}
