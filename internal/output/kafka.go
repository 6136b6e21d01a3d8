package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// KafkaConfig contains Kafka-specific configuration
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses
	Brokers []string `yaml:"brokers"`

	// Topic is the default Kafka topic to send messages to
	Topic string `yaml:"topic"`

	// TopicField optionally names a record field holding the topic
	TopicField string `yaml:"topic_field,omitempty"`

	// PartitionKey names the record field used as message key
	PartitionKey string `yaml:"partition_key,omitempty"`

	// PartitionStrategy is hash, random or round-robin
	PartitionStrategy string `yaml:"partition_strategy,omitempty"`

	// RequiredAcks specifies the number of acknowledgments required (0, 1, -1)
	RequiredAcks int16 `yaml:"required_acks,omitempty"`

	// CompressionCodec is one of none, gzip, snappy, lz4, zstd
	CompressionCodec string `yaml:"compression_codec,omitempty"`

	// MaxMessageBytes is the maximum size of a single message
	MaxMessageBytes int `yaml:"max_message_bytes,omitempty"`

	// IdempotentWrites enables idempotent producer for exactly-once semantics
	IdempotentWrites bool `yaml:"idempotent_writes,omitempty"`

	// TLS configures encrypted broker connections
	TLS *security.TLSConfig `yaml:"tls,omitempty"`

	// SASL configuration
	SASLEnabled   bool   `yaml:"sasl_enabled,omitempty"`
	SASLMechanism string `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUsername  string `yaml:"sasl_username,omitempty"`
	SASLPassword  string `yaml:"sasl_password,omitempty"`

	// ClientID is the client identifier
	ClientID string `yaml:"client_id,omitempty"`

	// Version is the Kafka protocol version
	Version string `yaml:"version,omitempty"`
}

// DefaultKafkaConfig returns default Kafka configuration
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:           []string{"localhost:9092"},
		Topic:             "events",
		PartitionStrategy: "hash",
		RequiredAcks:      1,
		CompressionCodec:  "none",
		MaxMessageBytes:   1000000,
		ClientID:          "logsentry",
		Version:           "3.0.0",
	}
}

// Validate checks the Kafka configuration
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: no brokers specified")
	}
	if c.Topic == "" {
		return errors.New("kafka: no topic specified")
	}
	return nil
}

// saramaConfig translates the configuration into a producer config
func (c KafkaConfig) saramaConfig() (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)
	sc.Producer.Idempotent = c.IdempotentWrites
	if c.IdempotentWrites {
		sc.Net.MaxOpenRequests = 1
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}
	if c.ClientID != "" {
		sc.ClientID = c.ClientID
	}

	switch c.CompressionCodec {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	case "", "none":
		sc.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("kafka: unsupported compression codec %q", c.CompressionCodec)
	}

	switch c.PartitionStrategy {
	case "random":
		sc.Producer.Partitioner = sarama.NewRandomPartitioner
	case "round-robin":
		sc.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	case "", "hash":
		sc.Producer.Partitioner = sarama.NewHashPartitioner
	default:
		return nil, fmt.Errorf("kafka: unsupported partition strategy %q", c.PartitionStrategy)
	}

	if c.MaxMessageBytes > 0 {
		sc.Producer.MaxMessageBytes = c.MaxMessageBytes
	}

	if c.Version != "" {
		version, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka: invalid version: %w", err)
		}
		sc.Version = version
	}

	if c.SASLEnabled {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = c.SASLUsername
		password, err := security.ResolveSecret(c.SASLPassword)
		if err != nil {
			return nil, fmt.Errorf("kafka: sasl password: %w", err)
		}
		sc.Net.SASL.Password = password

		switch c.SASLMechanism {
		case "SCRAM-SHA-256":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	tlsConfig, err := security.LoadTLSConfig(c.TLS)
	if err != nil {
		return nil, fmt.Errorf("kafka: %w", err)
	}
	if tlsConfig != nil {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsConfig
	}

	return sc, nil
}

type producerFactory func(brokers []string, config *sarama.Config) (sarama.SyncProducer, error)

// Kafka publishes each record as one JSON message
type Kafka struct {
	config      KafkaConfig
	sarama      *sarama.Config
	newProducer producerFactory

	mu       sync.Mutex
	producer sarama.SyncProducer
}

// NewKafka creates a Kafka backend. The producer is created on Connect.
func NewKafka(config KafkaConfig) (*Kafka, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	sc, err := config.saramaConfig()
	if err != nil {
		return nil, err
	}
	return &Kafka{
		config:      config,
		sarama:      sc,
		newProducer: sarama.NewSyncProducer,
	}, nil
}

// Connect replaces the producer with a fresh one
func (k *Kafka) Connect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.producer != nil {
		_ = k.producer.Close()
		k.producer = nil
	}

	producer, err := k.newProducer(k.config.Brokers, k.sarama)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	k.producer = producer
	return nil
}

// Send publishes the batch. A partially failed batch is reported as a
// failure and resent in full on the next commit.
func (k *Kafka) Send(ctx context.Context, recs []types.Record) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.producer == nil {
		return errors.New("kafka producer not connected")
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(recs))
	for _, rec := range recs {
		msg, err := k.buildMessage(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := k.producer.SendMessages(msgs); err != nil {
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			return fmt.Errorf("%d out of %d messages failed to send: %w", len(perrs), len(msgs), perrs[0].Err)
		}
		return fmt.Errorf("failed to send messages to Kafka: %w", err)
	}
	return nil
}

// buildMessage creates a producer message from a record
func (k *Kafka) buildMessage(rec types.Record) (*sarama.ProducerMessage, error) {
	topic := k.config.Topic
	if k.config.TopicField != "" {
		if v := types.FormatValue(rec[k.config.TopicField]); v != "" {
			topic = v
		}
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}

	if k.config.PartitionKey != "" {
		if v := types.FormatValue(rec[k.config.PartitionKey]); v != "" {
			msg.Key = sarama.StringEncoder(v)
		}
	}

	return msg, nil
}

// Close closes the producer
func (k *Kafka) Close(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.producer == nil {
		return nil
	}
	err := k.producer.Close()
	k.producer = nil
	return err
}
