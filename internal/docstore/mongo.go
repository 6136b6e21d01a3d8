package docstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// MongoConfig configures a MongoDB collection
type MongoConfig struct {
	// URI takes precedence over Hostname and Port
	URI        string        `yaml:"uri,omitempty"`
	Hostname   string        `yaml:"hostname,omitempty"`
	Port       int           `yaml:"port,omitempty"`
	Username   string        `yaml:"username,omitempty"`
	Password   string        `yaml:"password,omitempty"`
	AuthDB     string        `yaml:"auth_db,omitempty"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`

	TLS *security.TLSConfig `yaml:"tls,omitempty"`
}

// DefaultMongoConfig returns default MongoDB configuration
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Hostname: "localhost",
		Port:     27017,
		AuthDB:   "admin",
		Timeout:  10 * time.Second,
	}
}

func (c MongoConfig) uri() string {
	if c.URI != "" {
		return c.URI
	}
	host := c.Hostname
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 27017
	}
	return "mongodb://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Validate checks required fields
func (c MongoConfig) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("mongo: database is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("mongo: collection is required")
	}
	return nil
}

// Mongo stores documents in one MongoDB collection
type Mongo struct {
	config     MongoConfig
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongo connects to MongoDB. The driver connects lazily, so a
// reachable server is only verified by Ping.
func NewMongo(ctx context.Context, config MongoConfig) (*Mongo, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(config.uri()).
		SetConnectTimeout(config.Timeout).
		SetServerSelectionTimeout(config.Timeout).
		SetTimeout(config.Timeout)

	if config.Username != "" && config.Password != "" {
		password, err := security.ResolveSecret(config.Password)
		if err != nil {
			return nil, fmt.Errorf("mongo password: %w", err)
		}
		opts.SetAuth(options.Credential{
			Username:   config.Username,
			Password:   password,
			AuthSource: config.AuthDB,
		})
	}
	tlsConfig, err := security.LoadTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("mongo: %w", err)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &Mongo{
		config:     config,
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}, nil
}

func (m *Mongo) InsertMany(ctx context.Context, docs []types.Record) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		batch[i] = bson.M(d)
	}
	_, err := m.collection.InsertMany(ctx, batch)
	return wrapOp("mongo insert", err)
}

func (m *Mongo) Count(ctx context.Context, filter Filter) (int64, error) {
	n, err := m.collection.CountDocuments(ctx, bson.M(filter))
	return n, wrapOp("mongo count", err)
}

func (m *Mongo) DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	clauses := bson.A{bson.M{TimestampField: bson.M{"$lte": cutoff}}}
	if source != AllSources {
		clauses = append(clauses, bson.M{types.NameField: source})
	}
	res, err := m.collection.DeleteMany(ctx, bson.M{"$and": clauses})
	if err != nil {
		return 0, wrapOp("mongo delete", err)
	}
	return res.DeletedCount, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return wrapOp("mongo ping", m.client.Ping(ctx, readpref.Primary()))
}

func (m *Mongo) Close(ctx context.Context) error {
	return wrapOp("mongo disconnect", m.client.Disconnect(ctx))
}
