package threat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"logsentry/core"
	"logsentry/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultGeoTimeout bounds a single geo lookup
const DefaultGeoTimeout = 2 * time.Second

// ErrGeoUnknown is returned when a locator has no data for an address
var ErrGeoUnknown = errors.New("no geo data for address")

// GeoLocator resolves an IP address to a location
type GeoLocator interface {
	Lookup(ctx context.Context, ip string) (*core.GeoInfo, error)
}

// GeoRange maps a CIDR block to a location
type GeoRange struct {
	CIDR string       `yaml:"cidr"`
	Info core.GeoInfo `yaml:"info"`
}

// StaticGeoLocator answers from an in-memory table of CIDR ranges.
// The first matching range wins.
type StaticGeoLocator struct {
	ranges []staticRange
}

type staticRange struct {
	network *net.IPNet
	info    core.GeoInfo
}

// NewStaticGeoLocator compiles a range table. Nil means DefaultGeoRanges().
func NewStaticGeoLocator(ranges []GeoRange) (*StaticGeoLocator, error) {
	if ranges == nil {
		ranges = DefaultGeoRanges()
	}
	l := &StaticGeoLocator{ranges: make([]staticRange, 0, len(ranges))}
	for _, r := range ranges {
		_, network, err := net.ParseCIDR(r.CIDR)
		if err != nil {
			return nil, fmt.Errorf("invalid geo range %q: %w", r.CIDR, err)
		}
		l.ranges = append(l.ranges, staticRange{network: network, info: r.Info})
	}
	return l, nil
}

// Lookup implements GeoLocator
func (l *StaticGeoLocator) Lookup(ctx context.Context, ip string) (*core.GeoInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, fmt.Errorf("invalid ip %q", ip)
	}
	for _, r := range l.ranges {
		if r.network.Contains(addr) {
			info := r.info
			return &info, nil
		}
	}
	return nil, ErrGeoUnknown
}

// DefaultGeoRanges is a small built-in table covering the documentation
// ranges and the seeded feed addresses
func DefaultGeoRanges() []GeoRange {
	return []GeoRange{
		{CIDR: "185.220.100.0/22", Info: core.GeoInfo{Country: "Germany", City: "Frankfurt", ASN: "AS60729", Latitude: 50.11, Longitude: 8.68}},
		{CIDR: "45.155.205.0/24", Info: core.GeoInfo{Country: "Russia", City: "Moscow", ASN: "AS204428", Latitude: 55.75, Longitude: 37.62}},
		{CIDR: "192.0.2.0/24", Info: core.GeoInfo{Country: "United States", City: "New York", ASN: "AS64496", Latitude: 40.71, Longitude: -74.01}},
		{CIDR: "198.51.100.0/24", Info: core.GeoInfo{Country: "United Kingdom", City: "London", ASN: "AS64497", Latitude: 51.51, Longitude: -0.13}},
		{CIDR: "203.0.113.0/24", Info: core.GeoInfo{Country: "Japan", City: "Tokyo", ASN: "AS64498", Latitude: 35.68, Longitude: 139.69}},
		{CIDR: "8.8.8.0/24", Info: core.GeoInfo{Country: "United States", City: "Mountain View", ASN: "AS15169", Latitude: 37.39, Longitude: -122.08}},
		{CIDR: "1.1.1.0/24", Info: core.GeoInfo{Country: "Australia", City: "Sydney", ASN: "AS13335", Latitude: -33.87, Longitude: 151.21}},
	}
}

// ResilientGeoConfig configures ResilientGeoLocator
type ResilientGeoConfig struct {
	Timeout        time.Duration
	CircuitBreaker core.CircuitBreakerConfig
	// FallbackSize bounds the cache of last known good answers
	FallbackSize int
	Logger       *zap.SugaredLogger
}

// ResilientGeoLocator wraps a GeoLocator with a per-call timeout, a circuit
// breaker, and a cache of the last good answer per address that is served
// while the upstream is failing.
type ResilientGeoLocator struct {
	next     GeoLocator
	timeout  time.Duration
	breaker  *core.CircuitBreaker
	fallback *lru.Cache[string, core.GeoInfo]
	logger   *zap.SugaredLogger
}

// NewResilientGeoLocator wraps next
func NewResilientGeoLocator(next GeoLocator, config ResilientGeoConfig) (*ResilientGeoLocator, error) {
	if next == nil {
		return nil, errors.New("geo locator is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultGeoTimeout
	}
	cbConfig := config.CircuitBreaker
	if cbConfig == (core.CircuitBreakerConfig{}) {
		cbConfig = core.DefaultCircuitBreakerConfig()
	}
	breaker, err := core.NewCircuitBreaker(cbConfig)
	if err != nil {
		return nil, err
	}
	size := config.FallbackSize
	if size <= 0 {
		size = 1000
	}
	fallback, err := lru.New[string, core.GeoInfo](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create geo fallback cache: %w", err)
	}
	return &ResilientGeoLocator{
		next:     next,
		timeout:  timeout,
		breaker:  breaker,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Lookup implements GeoLocator. ErrGeoUnknown is a valid answer and does not
// count against the circuit breaker.
func (r *ResilientGeoLocator) Lookup(ctx context.Context, ip string) (*core.GeoInfo, error) {
	var info *core.GeoInfo
	err := r.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		type answer struct {
			info *core.GeoInfo
			err  error
		}
		done := make(chan answer, 1)
		go func() {
			i, e := r.next.Lookup(callCtx, ip)
			done <- answer{i, e}
		}()

		select {
		case a := <-done:
			if errors.Is(a.err, ErrGeoUnknown) {
				return nil
			}
			info = a.info
			return a.err
		case <-callCtx.Done():
			return callCtx.Err()
		}
	})

	if err == nil {
		if info == nil {
			return nil, ErrGeoUnknown
		}
		r.fallback.Add(ip, *info)
		return info, nil
	}

	metrics.GeoLookupFailures.Inc()
	if cached, ok := r.fallback.Get(ip); ok {
		r.logger.Debugw("Serving cached geo answer", "ip", ip, "error", err)
		return &cached, nil
	}
	r.logger.Warnw("Geo lookup failed", "ip", ip, "error", err, "breaker", r.breaker.State())
	return nil, err
}

// Locate returns a "City, Country" label for an IP address. It implements
// the behavior engine's location resolver.
func (s *Service) Locate(ctx context.Context, ip string) (string, bool) {
	if s.geo == nil || ip == "" {
		return "", false
	}
	info, err := s.geo.Lookup(ctx, ip)
	if err != nil || info == nil {
		return "", false
	}
	return info.Location(), true
}
