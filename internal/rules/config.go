package rules

import (
	"fmt"
	"math"
)

// CombineMode decides how the scores of matched rules fold into one.
type CombineMode string

const (
	CombineCappedSum CombineMode = "capped_sum"
	CombineMax       CombineMode = "max"
)

type Config struct {
	Combine             CombineMode `yaml:"combine"`
	LongURLThreshold    int         `yaml:"long_url_threshold"`
	SubdomainThreshold  int         `yaml:"subdomain_threshold"`
	HyphenThreshold     int         `yaml:"hyphen_threshold"`
	DigitRatioThreshold float64     `yaml:"digit_ratio_threshold"`
	EntropyThreshold    float64     `yaml:"entropy_threshold"`
	// Brands are the names the typosquatting rule protects.
	Brands []string `yaml:"brands"`
	// TyposquatMinBrandLength skips the edit-distance check for brands
	// shorter than this. Zero checks every brand.
	TyposquatMinBrandLength int `yaml:"typosquat_min_brand_length"`
	// TyposquatSubstitutions also flags hosts that spell a brand once
	// look-alike characters are undone (0->o, rn->m), at any edit distance.
	TyposquatSubstitutions bool `yaml:"typosquat_substitutions"`
	// Scores overrides the contribution of a rule by name.
	Scores map[string]float64 `yaml:"scores"`
}

func DefaultConfig() Config {
	return Config{
		Combine:             CombineCappedSum,
		LongURLThreshold:    100,
		SubdomainThreshold:  3,
		HyphenThreshold:     2,
		DigitRatioThreshold: 0.3,
		EntropyThreshold:    4.8,
		Brands: []string{
			"paypal", "amazon", "google", "facebook", "microsoft", "apple",
			"netflix", "instagram", "twitter", "linkedin", "dropbox", "chase",
			"wellsfargo", "bankofamerica", "citibank", "walmart", "bestbuy",
			"office365", "outlook", "yahoo", "coinbase", "binance", "venmo",
		},
	}
}

func (c Config) Validate() error {
	switch c.Combine {
	case CombineCappedSum, CombineMax:
	default:
		return fmt.Errorf("unknown rule combine mode %q", c.Combine)
	}
	if c.LongURLThreshold <= 0 || c.SubdomainThreshold < 0 || c.HyphenThreshold < 0 {
		return fmt.Errorf("rule thresholds must be positive")
	}
	if c.TyposquatMinBrandLength < 0 {
		return fmt.Errorf("typosquat_min_brand_length must not be negative, got %d", c.TyposquatMinBrandLength)
	}
	if c.DigitRatioThreshold < 0 || c.DigitRatioThreshold > 1 {
		return fmt.Errorf("digit_ratio_threshold must be within [0,1], got %v", c.DigitRatioThreshold)
	}
	if c.EntropyThreshold <= 0 {
		return fmt.Errorf("entropy_threshold must be positive, got %v", c.EntropyThreshold)
	}
	known := map[string]bool{}
	for _, d := range catalog {
		known[d.name] = true
	}
	for name, v := range c.Scores {
		if !known[name] {
			return fmt.Errorf("score override for unknown rule %q", name)
		}
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("score for %s must be within [0,1], got %v", name, v)
		}
	}
	return nil
}
