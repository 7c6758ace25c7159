package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const censusName = "census"

// censusVintage is the County Business Patterns dataset year queried.
const censusVintage = "2021"

// Census sizes US industries by NAICS code using annual payroll from the
// Census County Business Patterns dataset. A key is optional for low volume.
type Census struct {
	healthTracker
	cfg    Config
	client *restClient
}

// NewCensus creates the Census adapter.
func NewCensus(cfg Config, deps Deps) *Census {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.census.gov"
	}
	if cfg.RateLimitRPM == 0 {
		cfg.RateLimitRPM = 60
	}

	c := &Census{
		healthTracker: newHealthTracker(censusName),
		cfg:           cfg,
	}
	c.client = newRESTClient(restClientConfig{
		Name:            censusName,
		RateLimitRPM:    cfg.RateLimitRPM,
		RateLimitBurst:  cfg.RateLimitBurst,
		Cache:           deps.Cache,
		CacheTTL:        deps.CacheTTL,
		Logger:          deps.Logger,
		Metrics:         deps.Metrics,
		OnCircuitChange: c.setCircuitState,
	})
	return c
}

func (c *Census) Name() string { return censusName }

// Available always reports true: the key only raises the request quota.
func (c *Census) Available() bool { return true }

// FetchMarketSize returns the annual payroll for the NAICS industry code, in
// dollars. Only US-wide data is served; any other region yields ErrNoData.
func (c *Census) FetchMarketSize(ctx context.Context, id, region string) (*MarketSize, error) {
	if region != "" && normalizeParam(region) != "us" {
		return nil, ErrNoData
	}

	key := CacheKey(censusName, "annual_payroll", map[string]string{
		"naics": id,
		"year":  censusVintage,
	})
	if ms, ok := c.client.cachedMarketSize(ctx, key); ok {
		return ms, nil
	}

	q := url.Values{}
	q.Set("get", "PAYANN,NAICS2017_LABEL")
	q.Set("for", "us:*")
	q.Set("NAICS2017", id)
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	endpoint := c.cfg.BaseURL + "/data/" + censusVintage + "/cbp?" + q.Encode()

	start := time.Now()
	// Census answers as a row-oriented table: header row, then data rows.
	var rows [][]string
	err := c.client.getJSON(ctx, endpoint, &rows)
	duration := time.Since(start)
	c.client.metrics.RecordSourceCall(ctx, censusName, duration, err)

	if err != nil {
		c.recordFailure(err, duration)
		return nil, err
	}
	c.recordSuccess(duration)

	if len(rows) < 2 || len(rows[1]) == 0 {
		return nil, ErrNoData
	}

	row := rows[1]
	payann, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return nil, fmt.Errorf("%s: parse annual payroll %q: %w", censusName, row[0], err)
	}

	ms := &MarketSize{
		Value:    payann * 1000, // PAYANN is reported in thousands of dollars
		Currency: "USD",
		Year:     censusVintage,
		Series:   "CBP PAYANN NAICS " + id,
	}
	if len(row) > 1 {
		ms.Raw = map[string]interface{}{"naics_label": row[1]}
	}
	c.client.storeMarketSize(ctx, key, ms)
	return ms, nil
}
