package orchestrator

import (
	"fmt"
	"regexp"
)

// Kind is the shape of a lookup identifier, used to choose a provider chain.
type Kind string

const (
	// KindTicker matches stock symbols such as "AAPL".
	KindTicker Kind = "ticker"

	// KindIndustry matches NAICS-style industry codes such as "5112" or
	// "31-33".
	KindIndustry Kind = "industry_code"

	// KindGeneric is everything else: series names, indicator codes, free
	// text.
	KindGeneric Kind = "generic"
)

const (
	defaultTickerPattern   = `^[A-Z]{1,5}$`
	defaultIndustryPattern = `^\d{2,6}(-\d{2,6})?$`
)

// ClassifierConfig overrides the identifier classification patterns.
// Empty fields keep the defaults.
type ClassifierConfig struct {
	TickerPattern   string `mapstructure:"ticker_pattern"`
	IndustryPattern string `mapstructure:"industry_pattern"`
}

// Classifier buckets identifiers by shape. Classification is heuristic
// policy, not validation: a wrong guess only changes which providers are
// tried first.
type Classifier struct {
	ticker   *regexp.Regexp
	industry *regexp.Regexp
}

// NewClassifier compiles the classification patterns.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.TickerPattern == "" {
		cfg.TickerPattern = defaultTickerPattern
	}
	if cfg.IndustryPattern == "" {
		cfg.IndustryPattern = defaultIndustryPattern
	}

	ticker, err := regexp.Compile(cfg.TickerPattern)
	if err != nil {
		return nil, fmt.Errorf("compile ticker pattern: %w", err)
	}
	industry, err := regexp.Compile(cfg.IndustryPattern)
	if err != nil {
		return nil, fmt.Errorf("compile industry pattern: %w", err)
	}

	return &Classifier{ticker: ticker, industry: industry}, nil
}

// Classify returns the kind of the identifier. Ticker wins over industry
// when both patterns match.
func (c *Classifier) Classify(id string) Kind {
	switch {
	case c.ticker.MatchString(id):
		return KindTicker
	case c.industry.MatchString(id):
		return KindIndustry
	default:
		return KindGeneric
	}
}
