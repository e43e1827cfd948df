package server

import "time"

type Config struct {
	// ListenAddr is the HTTP listen address of the API server.
	ListenAddr string `yaml:"listen_addr"`
	// RateLimitPerMinute caps requests per client IP on /api; 0 disables it.
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	// AllowedOrigin is sent as Access-Control-Allow-Origin.
	AllowedOrigin string `yaml:"allowed_origin"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8080",
		RateLimitPerMinute: 60,
		ReadTimeout:        15 * time.Second,
		AllowedOrigin:      "*",
	}
}
