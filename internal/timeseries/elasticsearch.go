package timeseries

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/sitewatch/services/monitoring/config"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
)

// Sample is one time-series data point for a device
type Sample struct {
	DeviceID    string             `json:"device_id"`
	Measurement string             `json:"measurement"`
	Fields      map[string]float64 `json:"fields"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Store persists and queries sensor samples
type Store interface {
	// LastSampleTime returns the newest stored sample time for a
	// device/measurement pair; ok is false when none exists
	LastSampleTime(ctx context.Context, deviceID, measurement string) (time.Time, bool, error)
	Write(ctx context.Context, sample Sample) error
}

// ElasticStore provides the time-series store on Elasticsearch
type ElasticStore struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticStore creates a new Elasticsearch-backed store
func NewElasticStore(cfg config.ElasticConfig) (*ElasticStore, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticStore{
		client: client,
		index:  cfg.Index,
	}, nil
}

// sampleDocID builds the deterministic document id. Replaying an
// already-present sample overwrites the same document, which is what
// makes gap recovery idempotent.
func sampleDocID(deviceID, measurement string, ts time.Time) string {
	return fmt.Sprintf("%s:%s:%d", deviceID, measurement, ts.UTC().UnixMilli())
}

// Write indexes a sample
func (s *ElasticStore) Write(ctx context.Context, sample Sample) error {
	docJSON, err := json.Marshal(sample)
	if err != nil {
		return errors.Wrap(err, "failed to marshal sample document")
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: sampleDocID(sample.DeviceID, sample.Measurement, sample.Timestamp),
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}

// LastSampleTime finds the newest sample for a device/measurement pair
func (s *ElasticStore) LastSampleTime(ctx context.Context, deviceID, measurement string) (time.Time, bool, error) {
	query := map[string]interface{}{
		"size": 1,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []map[string]interface{}{
					{"term": map[string]interface{}{"device_id": deviceID}},
					{"term": map[string]interface{}{"measurement": measurement}},
				},
			},
		},
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return time.Time{}, false, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return time.Time{}, false, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source Sample `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return time.Time{}, false, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	if len(result.Hits.Hits) == 0 {
		return time.Time{}, false, nil
	}

	return result.Hits.Hits[0].Source.Timestamp, true, nil
}
