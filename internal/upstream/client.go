package upstream

import (
	"context"
	"time"

	"example.com/sitewatch/services/monitoring/config"
	"example.com/sitewatch/services/monitoring/internal/timeseries"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Client fetches historical samples from the upstream telemetry
// platform that field gateways report into
type Client interface {
	FetchRange(ctx context.Context, deviceID, objectKey string, from, to time.Time) ([]timeseries.Sample, error)
}

// restClient implements Client over the platform's REST history API
type restClient struct {
	http *resty.Client
}

// historyResponse is the platform's history payload
type historyResponse struct {
	Samples []historySample `json:"samples"`
}

type historySample struct {
	DeviceID  string             `json:"device_id"`
	Fields    map[string]float64 `json:"fields"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewClient creates a new upstream telemetry client
func NewClient(cfg config.UpstreamConfig) Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	if cfg.APIKey != "" {
		http.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &restClient{http: http}
}

// FetchRange pulls all samples recorded for a device between from and
// to. Non-success responses and transport errors surface to the
// caller as recovery failures.
func (c *restClient) FetchRange(ctx context.Context, deviceID, objectKey string, from, to time.Time) ([]timeseries.Sample, error) {
	var result historyResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"device": deviceID,
			"from":   from.UTC().Format(time.RFC3339),
			"to":     to.UTC().Format(time.RFC3339),
		}).
		SetResult(&result).
		Get("/api/v1/objects/" + objectKey + "/history")
	if err != nil {
		return nil, errors.Wrap(err, "upstream history request failed")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("upstream history request returned %s", resp.Status())
	}

	samples := make([]timeseries.Sample, 0, len(result.Samples))
	for _, s := range result.Samples {
		// Measurement is stamped by the caller; the platform only
		// knows object keys
		samples = append(samples, timeseries.Sample{
			DeviceID:  s.DeviceID,
			Fields:    s.Fields,
			Timestamp: s.Timestamp,
		})
	}
	return samples, nil
}
