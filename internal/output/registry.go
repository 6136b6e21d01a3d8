package output

import (
	"context"
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/docstore"
)

// Config is the configuration of one named output. Only the section
// matching Type is consulted.
type Config struct {
	BaseConfig `yaml:",inline"`

	Mongo         *docstore.MongoConfig   `yaml:"mongo,omitempty"`
	Elasticsearch *docstore.ElasticConfig `yaml:"elasticsearch,omitempty"`
	Kafka         *KafkaConfig            `yaml:"kafka,omitempty"`
	Beats         *BeatsConfig            `yaml:"beats,omitempty"`
	S3            *S3Config               `yaml:"s3,omitempty"`
}

// BackendFactory builds the backend for one output type
type BackendFactory func(cfg Config, opts Options) (Backend, error)

var registry = map[string]BackendFactory{
	"stdout": func(Config, Options) (Backend, error) {
		return NewStdout(nil), nil
	},
	"ignore": func(Config, Options) (Backend, error) {
		return Discard{}, nil
	},
	"memory": func(Config, Options) (Backend, error) {
		return NewStoreFrom(docstore.NewMemory()), nil
	},
	"mongo": func(cfg Config, _ Options) (Backend, error) {
		mc := docstore.DefaultMongoConfig()
		if cfg.Mongo != nil {
			mc = *cfg.Mongo
		}
		if err := mc.Validate(); err != nil {
			return nil, err
		}
		return NewStore(func(ctx context.Context) (docstore.Store, error) {
			return docstore.NewMongo(ctx, mc)
		}), nil
	},
	"elasticsearch": func(cfg Config, _ Options) (Backend, error) {
		if cfg.Elasticsearch == nil {
			return nil, fmt.Errorf("elasticsearch section missing")
		}
		ec := *cfg.Elasticsearch
		if err := ec.Validate(); err != nil {
			return nil, err
		}
		return NewStore(func(ctx context.Context) (docstore.Store, error) {
			store, err := docstore.NewElastic(ec)
			if err != nil {
				return nil, err
			}
			if err := store.Ping(ctx); err != nil {
				return nil, err
			}
			return store, nil
		}), nil
	},
	"kafka": func(cfg Config, _ Options) (Backend, error) {
		kc := DefaultKafkaConfig()
		if cfg.Kafka != nil {
			kc = *cfg.Kafka
		}
		return NewKafka(kc)
	},
	"beats": func(cfg Config, _ Options) (Backend, error) {
		if cfg.Beats == nil {
			return nil, fmt.Errorf("beats section missing")
		}
		return NewBeats(*cfg.Beats)
	},
	"s3": func(cfg Config, _ Options) (Backend, error) {
		if cfg.S3 == nil {
			return nil, fmt.Errorf("s3 section missing")
		}
		return NewS3(*cfg.S3)
	},
}

// Types returns the registered output types
func Types() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Known reports whether typ names a registered output type
func Known(typ string) bool {
	_, ok := registry[typ]
	return ok
}

// New builds the sink described by cfg. It does not connect.
func New(cfg Config, opts Options) (Sink, error) {
	factory, ok := registry[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("output of type %s has no name", cfg.Type)
	}

	backend, err := factory(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("output %s: %w", cfg.Name, err)
	}
	return NewBuffered(cfg.BaseConfig, backend, opts), nil
}
