package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const blsName = "bls"

// BLS fetches the latest data point of a Bureau of Labor Statistics time
// series. The public tier works without a key; a registration key lifts the
// daily quota.
type BLS struct {
	healthTracker
	cfg    Config
	client *restClient
}

type blsTimeseriesResponse struct {
	Status  string `json:"status"`
	Results struct {
		Series []struct {
			SeriesID string `json:"seriesID"`
			Data     []struct {
				Year  string `json:"year"`
				Value string `json:"value"`
			} `json:"data"`
		} `json:"series"`
	} `json:"Results"`
}

// NewBLS creates the BLS adapter.
func NewBLS(cfg Config, deps Deps) *BLS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bls.gov"
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 25
	}

	b := &BLS{
		healthTracker: newHealthTracker(blsName),
		cfg:           cfg,
	}
	b.client = newRESTClient(restClientConfig{
		Name:            blsName,
		RateLimitRPM:    cfg.RateLimitRPM,
		RateLimitBurst:  cfg.RateLimitBurst,
		Cache:           deps.Cache,
		CacheTTL:        deps.CacheTTL,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
		OnCircuitChange: b.setCircuitState,
	})
	return b
}

func (b *BLS) Name() string { return blsName }

// Available always reports true: BLS serves unauthenticated requests.
func (b *BLS) Available() bool { return true }

// FetchMarketSize returns the latest data point for the series named by id.
// Region is ignored: BLS series identifiers encode their own geography.
func (b *BLS) FetchMarketSize(ctx context.Context, id, region string) (*MarketSize, error) {
	key := CacheKey(blsName, "latest_datapoint", map[string]string{"series_id": id})
	if ms, ok := b.client.cachedMarketSize(ctx, key); ok {
		return ms, nil
	}

	endpoint := b.cfg.BaseURL + "/publicAPI/v2/timeseries/data/" + url.PathEscape(id)
	if b.cfg.APIKey != "" {
		q := url.Values{}
		q.Set("registrationkey", b.cfg.APIKey)
		endpoint += "?" + q.Encode()
	}

	start := time.Now()
	var resp blsTimeseriesResponse
	err := b.client.getJSON(ctx, endpoint, &resp)
	duration := time.Since(start)
	b.client.metrics.RecordSourceCall(ctx, blsName, duration, err)

	if err != nil {
		b.recordFailure(err, duration)
		return nil, err
	}
	b.recordSuccess(duration)

	if resp.Status != "REQUEST_SUCCEEDED" {
		return nil, ErrNoData
	}
	if len(resp.Results.Series) == 0 || len(resp.Results.Series[0].Data) == 0 {
		return nil, ErrNoData
	}

	point := resp.Results.Series[0].Data[0]
	raw := strings.ReplaceAll(point.Value, ",", "")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: parse data point %q: %w", blsName, point.Value, err)
	}

	ms := &MarketSize{
		Value:  value,
		Year:   point.Year,
		Series: id,
	}
	b.client.storeMarketSize(ctx, key, ms)
	return ms, nil
}
