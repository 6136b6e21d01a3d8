package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/therealutkarshpriyadarshi/logsentry/internal/security"
	"github.com/therealutkarshpriyadarshi/logsentry/pkg/types"
)

// ElasticConfig configures an Elasticsearch index
type ElasticConfig struct {
	Addresses []string `yaml:"addresses"`
	Index     string   `yaml:"index"`
	Username  string   `yaml:"username,omitempty"`
	Password  string   `yaml:"password,omitempty"`
	CloudID   string   `yaml:"cloud_id,omitempty"`
	APIKey    string   `yaml:"api_key,omitempty"`

	// Refresh is passed to bulk requests so that counts see new documents
	Refresh string `yaml:"refresh,omitempty"`

	MaxRetries int `yaml:"max_retries,omitempty"`

	TLS *security.TLSConfig `yaml:"tls,omitempty"`
}

// DefaultElasticConfig returns default Elasticsearch configuration
func DefaultElasticConfig() ElasticConfig {
	return ElasticConfig{
		Addresses:  []string{"http://localhost:9200"},
		Index:      "logsentry",
		Refresh:    "wait_for",
		MaxRetries: 3,
	}
}

// Validate checks required fields
func (c ElasticConfig) Validate() error {
	if len(c.Addresses) == 0 && c.CloudID == "" {
		return fmt.Errorf("elasticsearch: no addresses or cloud ID specified")
	}
	if c.Index == "" {
		return fmt.Errorf("elasticsearch: no index specified")
	}
	return nil
}

// Elastic stores documents in one Elasticsearch index
type Elastic struct {
	config ElasticConfig
	client *elasticsearch.Client
}

// NewElastic creates the client without contacting the cluster
func NewElastic(config ElasticConfig) (*Elastic, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	password, err := security.ResolveSecret(config.Password)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch password: %w", err)
	}
	apiKey, err := security.ResolveSecret(config.APIKey)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch api key: %w", err)
	}

	esConfig := elasticsearch.Config{
		Addresses:  config.Addresses,
		CloudID:    config.CloudID,
		Username:   config.Username,
		Password:   password,
		APIKey:     apiKey,
		MaxRetries: config.MaxRetries,
	}
	tlsConfig, err := security.LoadTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: %w", err)
	}
	if tlsConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		esConfig.Transport = transport
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &Elastic{config: config, client: client}, nil
}

func (e *Elastic) InsertMany(ctx context.Context, docs []types.Record) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	meta := []byte(fmt.Sprintf(`{"index":{"_index":%q}}`, e.config.Index))
	for _, d := range docs {
		doc, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	opts := []func(*esapi.BulkRequest){e.client.Bulk.WithContext(ctx)}
	if e.config.Refresh != "" {
		opts = append(opts, e.client.Bulk.WithRefresh(e.config.Refresh))
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), opts...)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk request returned error: %s", res.Status())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to parse bulk response: %w", err)
	}

	if bulkResp.Errors {
		var failed int
		var last string
		for _, item := range bulkResp.Items {
			for _, doc := range item {
				if doc.Status >= 400 {
					failed++
					last = string(doc.Error)
				}
			}
		}
		// Partial failures are reported as a whole; a retry may duplicate
		// the documents that did get indexed.
		if failed > 0 {
			return fmt.Errorf("%d out of %d documents failed to index: %s", failed, len(docs), last)
		}
	}
	return nil
}

func (e *Elastic) Count(ctx context.Context, filter Filter) (int64, error) {
	body, err := json.Marshal(map[string]any{"query": filterQuery(filter, nil)})
	if err != nil {
		return 0, err
	}

	res, err := e.client.Count(
		e.client.Count.WithContext(ctx),
		e.client.Count.WithIndex(e.config.Index),
		e.client.Count.WithBody(bytes.NewReader(body)),
		e.client.Count.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return 0, fmt.Errorf("count request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("count request returned error: %s", res.Status())
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("failed to parse count response: %w", err)
	}
	return countResp.Count, nil
}

func (e *Elastic) DeleteOlderThan(ctx context.Context, source string, cutoff time.Time) (int64, error) {
	rangeClause := map[string]any{
		"range": map[string]any{
			TimestampField: map[string]any{"lte": cutoff.Format(time.RFC3339)},
		},
	}
	filter := Filter{}
	if source != AllSources {
		filter[types.NameField] = source
	}
	body, err := json.Marshal(map[string]any{
		"query": filterQuery(filter, rangeClause),
	})
	if err != nil {
		return 0, err
	}

	res, err := e.client.DeleteByQuery(
		[]string{e.config.Index},
		bytes.NewReader(body),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return 0, fmt.Errorf("delete by query failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 404 {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("delete by query returned error: %s", res.Status())
	}

	var deleteResp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&deleteResp); err != nil && err != io.EOF {
		return 0, fmt.Errorf("failed to parse delete response: %w", err)
	}
	return deleteResp.Deleted, nil
}

func (e *Elastic) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}
	return nil
}

func (e *Elastic) Close(ctx context.Context) error {
	return nil
}

// filterQuery builds a bool filter of exact terms. Strings are matched on
// the keyword sub-field created by dynamic mapping.
func filterQuery(filter Filter, extra map[string]any) map[string]any {
	terms := make([]any, 0, len(filter)+1)
	for field, value := range filter {
		if s, ok := value.(string); ok {
			terms = append(terms, map[string]any{"term": map[string]any{field + ".keyword": s}})
			continue
		}
		terms = append(terms, map[string]any{"term": map[string]any{field: value}})
	}
	if extra != nil {
		terms = append(terms, extra)
	}
	return map[string]any{"bool": map[string]any{"filter": terms}}
}
