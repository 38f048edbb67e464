/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-ratelimit/audit"
	"github.com/acronis/go-ratelimit/config"
	"github.com/acronis/go-ratelimit/whitelist"
)

// Rate-limiting algorithms that may be specified in the zone configuration.
const (
	ZoneAlgTokenBucket   = "token_bucket"
	ZoneAlgLeakyBucket   = "leaky_bucket"
	ZoneAlgSlidingWindow = "sliding_window"
)

// Config represents a configuration for rate limiting of HTTP requests on the server side.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// RateLimitZones contains rate limiting zones.
	// Key is a zone's name, and value is a zone's configuration.
	RateLimitZones map[string]RateLimitZoneConfig `mapstructure:"rateLimitZones" yaml:"rateLimitZones" json:"rateLimitZones"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts configOptions
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(_ config.DataProvider) {
}

// Set sets rate limiting configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := dp.Unmarshal(c, func(decoderConfig *mapstructure.DecoderConfig) {
		decoderConfig.DecodeHook = MapstructureDecodeHook()
	}); err != nil {
		return err
	}
	return c.Validate()
}

// Validate validates configuration.
func (c *Config) Validate() error {
	for zoneName, zone := range c.RateLimitZones {
		if err := zone.Validate(); err != nil {
			return fmt.Errorf("validate rate limit zone %q: %w", zoneName, err)
		}
	}
	return nil
}

// ZoneConfig represents a basic zone configuration.
type ZoneConfig struct {
	Key                ZoneKeyConfig `mapstructure:"key" yaml:"key" json:"key"`
	MaxKeys            int           `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`
	ResponseStatusCode int           `mapstructure:"responseStatusCode" yaml:"responseStatusCode" json:"responseStatusCode"`
	DryRun             bool          `mapstructure:"dryRun" yaml:"dryRun" json:"dryRun"`

	// Whitelist contains keys for which rate limiting is bypassed.
	Whitelist []string `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`

	// WhitelistPatterns contains glob patterns ("svc-*") for keys
	// for which rate limiting is bypassed.
	WhitelistPatterns []string `mapstructure:"whitelistPatterns" yaml:"whitelistPatterns" json:"whitelistPatterns"`
}

// Validate validates zone configuration.
func (c *ZoneConfig) Validate() error {
	if err := c.Key.Validate(); err != nil {
		return err
	}
	if c.ResponseStatusCode < 0 {
		return fmt.Errorf("response status code should be >= 0, got %d", c.ResponseStatusCode)
	}
	if c.MaxKeys < 0 {
		return fmt.Errorf("maximum keys should be >= 0, got %d", c.MaxKeys)
	}
	return nil
}

func (c *ZoneConfig) getResponseStatusCode() int {
	if c.ResponseStatusCode != 0 {
		return c.ResponseStatusCode
	}
	if c.Key.Type == ZoneKeyTypeIdentity {
		return http.StatusTooManyRequests
	}
	return http.StatusServiceUnavailable
}

func (c *ZoneConfig) makeWhitelist() *whitelist.Registry {
	if len(c.Whitelist) == 0 && len(c.WhitelistPatterns) == 0 {
		return nil
	}
	registry := whitelist.NewRegistry()
	registry.Add(c.Whitelist...)
	registry.AddPattern(c.WhitelistPatterns...)
	return registry
}

// RateLimitZoneConfig represents zone configuration for rate limiting.
type RateLimitZoneConfig struct {
	ZoneConfig         `mapstructure:",squash" yaml:",inline"`
	Alg                string                   `mapstructure:"alg" yaml:"alg" json:"alg"`
	RateLimit          Rate                     `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`
	BurstLimit         int                      `mapstructure:"burstLimit" yaml:"burstLimit" json:"burstLimit"`
	BacklogLimit       int                      `mapstructure:"backlogLimit" yaml:"backlogLimit" json:"backlogLimit"`
	BacklogTimeout     config.TimeDuration      `mapstructure:"backlogTimeout" yaml:"backlogTimeout" json:"backlogTimeout"`
	ResponseRetryAfter RateLimitRetryAfterValue `mapstructure:"responseRetryAfter" yaml:"responseRetryAfter" json:"responseRetryAfter"`
}

// Validate validates zone configuration for rate limiting.
func (c *RateLimitZoneConfig) Validate() error {
	if err := c.ZoneConfig.Validate(); err != nil {
		return err
	}
	if c.Alg != "" && c.Alg != ZoneAlgTokenBucket && c.Alg != ZoneAlgLeakyBucket && c.Alg != ZoneAlgSlidingWindow {
		return fmt.Errorf("unknown rate limit alg %q", c.Alg)
	}
	if c.RateLimit.Count < 1 {
		return fmt.Errorf("rate limit should be >= 1, got %d", c.RateLimit.Count)
	}
	if c.BurstLimit < 0 {
		return fmt.Errorf("burst limit should be >= 0, got %d", c.BurstLimit)
	}
	if c.BacklogLimit < 0 {
		return fmt.Errorf("backlog limit should be >= 0, got %d", c.BacklogLimit)
	}
	return nil
}

// ZoneKeyType is a type of keys zone.
type ZoneKeyType string

// Zone key types.
const (
	ZoneKeyTypeNoKey      ZoneKeyType = ""
	ZoneKeyTypeIdentity   ZoneKeyType = "identity"
	ZoneKeyTypeHTTPHeader ZoneKeyType = "header"
	ZoneKeyTypeRemoteAddr ZoneKeyType = "remote_addr"
)

// ZoneKeyConfig represents a configuration of zone's key.
type ZoneKeyConfig struct {
	// Type determines type of key that will be used for rate limiting.
	Type ZoneKeyType `mapstructure:"type" yaml:"type" json:"type"`

	// HeaderName is a name of the HTTP request header which value will be used as a key.
	// Matters only when Type is a "header".
	HeaderName string `mapstructure:"headerName" yaml:"headerName" json:"headerName"`

	// NoBypassEmpty specifies whether rate limiting will be used if the value obtained by the key is empty.
	NoBypassEmpty bool `mapstructure:"noBypassEmpty" yaml:"noBypassEmpty" json:"noBypassEmpty"`
}

// Validate validates keys zone configuration.
func (c *ZoneKeyConfig) Validate() error {
	switch c.Type {
	case ZoneKeyTypeNoKey, ZoneKeyTypeIdentity, ZoneKeyTypeRemoteAddr:
	case ZoneKeyTypeHTTPHeader:
		if c.HeaderName == "" {
			return fmt.Errorf("header name should be specified for %q key zone type", ZoneKeyTypeHTTPHeader)
		}
	default:
		return fmt.Errorf("unknown key zone type %q", c.Type)
	}
	return nil
}

// RateLimitRetryAfterValue represents structured retry-after value for rate limiting.
type RateLimitRetryAfterValue struct {
	IsAuto   bool
	Duration time.Duration
}

const rateLimitRetryAfterAuto = "auto"

// String returns a string representation of the retry-after value.
// Implements fmt.Stringer interface.
func (ra RateLimitRetryAfterValue) String() string {
	if ra.IsAuto {
		return rateLimitRetryAfterAuto
	}
	return ra.Duration.String()
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (ra *RateLimitRetryAfterValue) UnmarshalText(text []byte) error {
	return ra.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (ra *RateLimitRetryAfterValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return ra.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ra *RateLimitRetryAfterValue) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return ra.unmarshal(text)
}

func (ra *RateLimitRetryAfterValue) unmarshal(retryAfterVal string) error {
	switch v := retryAfterVal; v {
	case "":
		*ra = RateLimitRetryAfterValue{Duration: 0}
	case rateLimitRetryAfterAuto:
		*ra = RateLimitRetryAfterValue{IsAuto: true}
	default:
		dur, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*ra = RateLimitRetryAfterValue{Duration: dur}
	}
	return nil
}

// MarshalText implements the encoding.TextMarshaler interface.
func (ra RateLimitRetryAfterValue) MarshalText() ([]byte, error) {
	return []byte(ra.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (ra RateLimitRetryAfterValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(ra.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (ra RateLimitRetryAfterValue) MarshalYAML() (interface{}, error) {
	return ra.String(), nil
}

// RateLimitZoneOpts represents an options for the rate limiting middleware constructed from a configuration zone.
type RateLimitZoneOpts struct {
	// GetKeyIdentity is a function that returns identity string representation.
	// The returned string is used as a key for the zone when key.type is "identity".
	GetKeyIdentity func(r *http.Request) (key string, bypass bool, err error)

	// AuditTrail records rejected and whitelisted requests when it is not nil.
	AuditTrail *audit.Trail

	// Metrics collects rejects and bypasses. No metrics are collected if it is nil.
	Metrics MetricsCollector

	// OnReject is a callback that is called for rejecting HTTP request when the rate limit is exceeded.
	OnReject RateLimitOnRejectFunc

	// OnRejectInDryRun is a callback that is called for rejecting HTTP request in the dry-run mode
	// when the rate limit is exceeded.
	OnRejectInDryRun RateLimitOnRejectFunc

	// OnError is a callback that is called in case of any error that may occur during the rate limiting.
	OnError RateLimitOnErrorFunc
}

// RateLimitZone creates a middleware that limits the rate of HTTP requests
// based on the named zone of the passed configuration.
func RateLimitZone(cfg *Config, zoneName, errDomain string) (func(next http.Handler) http.Handler, error) {
	return RateLimitZoneWithOpts(cfg, zoneName, errDomain, RateLimitZoneOpts{})
}

// MustRateLimitZone is a version of RateLimitZone that panics if an error occurs.
func MustRateLimitZone(cfg *Config, zoneName, errDomain string) func(next http.Handler) http.Handler {
	mw, err := RateLimitZone(cfg, zoneName, errDomain)
	if err != nil {
		panic(err)
	}
	return mw
}

// RateLimitZoneWithOpts is a more configurable version of RateLimitZone.
func RateLimitZoneWithOpts(
	cfg *Config, zoneName, errDomain string, opts RateLimitZoneOpts,
) (func(next http.Handler) http.Handler, error) {
	cfgZone, ok := cfg.RateLimitZones[zoneName]
	if !ok {
		return nil, fmt.Errorf("rate limit zone %q is not defined", zoneName)
	}

	var alg RateLimitAlg
	switch cfgZone.Alg {
	case "", ZoneAlgTokenBucket:
		alg = RateLimitAlgTokenBucket
	case ZoneAlgLeakyBucket:
		alg = RateLimitAlgLeakyBucket
	case ZoneAlgSlidingWindow:
		alg = RateLimitAlgSlidingWindow
	default:
		return nil, fmt.Errorf("unknown rate limit alg %q", cfgZone.Alg)
	}

	if cfgZone.Key.Type == ZoneKeyTypeIdentity && opts.GetKeyIdentity == nil {
		return nil, fmt.Errorf("GetKeyIdentity is required for identity key type")
	}

	getKey, err := makeGetKeyFunc(cfgZone.Key, opts.GetKeyIdentity)
	if err != nil {
		return nil, err
	}

	var getRetryAfter RateLimitGetRetryAfterFunc
	switch {
	case cfgZone.ResponseRetryAfter.IsAuto:
		getRetryAfter = GetRetryAfterEstimatedTime
	case cfgZone.ResponseRetryAfter.Duration == 0:
		getRetryAfter = nil
	default:
		getRetryAfter = func(_ *http.Request, _ time.Duration) time.Duration {
			return cfgZone.ResponseRetryAfter.Duration
		}
	}

	return RateLimitWithOpts(cfgZone.RateLimit, errDomain, RateLimitOpts{
		Alg:                alg,
		MaxBurst:           cfgZone.BurstLimit,
		GetKey:             getKey,
		MaxKeys:            cfgZone.MaxKeys,
		BacklogLimit:       cfgZone.BacklogLimit,
		BacklogTimeout:     time.Duration(cfgZone.BacklogTimeout),
		ResponseStatusCode: cfgZone.getResponseStatusCode(),
		GetRetryAfter:      getRetryAfter,
		DryRun:             cfgZone.DryRun,
		ZoneName:           zoneName,
		Whitelist:          cfgZone.makeWhitelist(),
		AuditTrail:         opts.AuditTrail,
		Metrics:            opts.Metrics,
		OnReject:           opts.OnReject,
		OnRejectInDryRun:   opts.OnRejectInDryRun,
		OnError:            opts.OnError,
	})
}

// MustRateLimitZoneWithOpts is a version of RateLimitZoneWithOpts that panics if an error occurs.
func MustRateLimitZoneWithOpts(
	cfg *Config, zoneName, errDomain string, opts RateLimitZoneOpts,
) func(next http.Handler) http.Handler {
	mw, err := RateLimitZoneWithOpts(cfg, zoneName, errDomain, opts)
	if err != nil {
		panic(err)
	}
	return mw
}

func makeGetKeyFunc(
	cfg ZoneKeyConfig, getKeyIdentity func(r *http.Request) (string, bool, error),
) (RateLimitGetKeyFunc, error) {
	switch cfg.Type {
	case ZoneKeyTypeIdentity:
		return getKeyIdentity, nil
	case ZoneKeyTypeHTTPHeader:
		return func(r *http.Request) (string, bool, error) {
			headerVal := strings.TrimSpace(r.Header.Get(cfg.HeaderName))
			if cfg.NoBypassEmpty {
				return headerVal, false, nil
			}
			return headerVal, headerVal == "", nil
		}, nil
	case ZoneKeyTypeRemoteAddr:
		return func(r *http.Request) (string, bool, error) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			return host, false, err
		}, nil
	case ZoneKeyTypeNoKey:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown key zone type %q", cfg.Type)
}

func mapstructureTrimSpaceStringsHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Kind,
		t reflect.Kind,
		data interface{}) (interface{}, error) {
		if f != reflect.Slice || t != reflect.Slice {
			return data, nil
		}
		switch dt := data.(type) {
		case []string:
			res := make([]string, 0, len(dt))
			for _, s := range dt {
				res = append(res, strings.TrimSpace(s))
			}
			return res, nil
		default:
			return data, nil
		}
	}
}

// MapstructureDecodeHook returns a DecodeHookFunc for mapstructure to handle custom types.
func MapstructureDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructureTrimSpaceStringsHookFunc(),
	)
}
