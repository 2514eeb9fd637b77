// Package config loads the YAML configuration of the goxades tools.
package config

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/goxades/evidence"
	"github.com/georgepadayatti/goxades/keys"
	"github.com/georgepadayatti/goxades/xades"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnexpectedField      = errors.New("unexpected field in configuration")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err == nil {
		return ErrConfigurationError
	}
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

func missing(field string) *ConfigError {
	return &ConfigError{Field: field, Message: "required field is missing", Err: ErrMissingRequiredField}
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json, compact).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return NewConfigError("logging.level", fmt.Sprintf("unknown level %q", c.Level))
	}
	switch strings.ToLower(c.Format) {
	case "text", "json", "compact":
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Format))
	}
	return nil
}

// TimestampConfig contains timestamp service configuration.
type TimestampConfig struct {
	// URL is the timestamp service URL.
	URL string `yaml:"url" json:"url"`

	// Username for HTTP authentication.
	Username string `yaml:"username" json:"username,omitempty"`

	// Password for HTTP authentication.
	Password string `yaml:"password" json:"password,omitempty"`

	// Timeout bounds one timestamp request.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// SetDefaults sets default values for the timestamp configuration.
func (c *TimestampConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate validates the timestamp configuration.
func (c *TimestampConfig) Validate() error {
	if c.URL == "" {
		return NewConfigError("timestamp.url", "timestamp URL is required")
	}
	if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return NewConfigError("timestamp.url", fmt.Sprintf("invalid timestamp URL %q", c.URL))
	}
	return nil
}

// LocalTSAConfig configures an in-process time-stamping unit, for testing
// and offline use. Either PKCS12File or CertFile and KeyFile are required.
type LocalTSAConfig struct {
	// PKCS12File holds the TSA key, certificate and chain.
	PKCS12File string `yaml:"pkcs12-file" json:"pkcs12_file,omitempty"`

	// Password is the PKCS#12 password.
	Password string `yaml:"password" json:"password,omitempty"`

	// CertFile and KeyFile are PEM or DER alternatives to PKCS12File.
	CertFile string `yaml:"cert-file" json:"cert_file,omitempty"`
	KeyFile  string `yaml:"key-file" json:"key_file,omitempty"`

	// ChainFiles are embedded in tokens after the TSA certificate.
	ChainFiles []string `yaml:"chain" json:"chain,omitempty"`

	// Policy is the dotted TSA policy OID written into tokens. Empty keeps
	// the timestamper default.
	Policy string `yaml:"policy" json:"policy,omitempty"`
}

// Validate validates the local TSA configuration.
func (c *LocalTSAConfig) Validate() error {
	if _, err := c.PolicyOID(); err != nil {
		return &ConfigError{Field: "local-tsa.policy", Message: err.Error(), Err: err}
	}
	if c.PKCS12File != "" {
		return nil
	}
	if c.CertFile == "" {
		return missing("local-tsa.cert-file")
	}
	if c.KeyFile == "" {
		return missing("local-tsa.key-file")
	}
	return nil
}

// PolicyOID parses Policy. It returns nil when no policy is configured.
func (c *LocalTSAConfig) PolicyOID() (asn1.ObjectIdentifier, error) {
	if c.Policy == "" {
		return nil, nil
	}
	arcs := strings.Split(c.Policy, ".")
	if len(arcs) < 2 {
		return nil, fmt.Errorf("%w: invalid OID %q", ErrConfigurationError, c.Policy)
	}
	oid := make(asn1.ObjectIdentifier, len(arcs))
	for i, arc := range arcs {
		n, err := strconv.Atoi(arc)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid OID %q", ErrConfigurationError, c.Policy)
		}
		oid[i] = n
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] > 39) {
		return nil, fmt.Errorf("%w: invalid OID %q", ErrConfigurationError, c.Policy)
	}
	return oid, nil
}

// Load loads the TSA credential.
func (c *LocalTSAConfig) Load() (*keys.Credential, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var cred *keys.Credential
	var err error
	if c.PKCS12File != "" {
		cred, err = keys.LoadPKCS12(c.PKCS12File, c.Password)
	} else {
		cred, err = keys.LoadPEMCredential(c.CertFile, c.KeyFile, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load local TSA credential: %w", err)
	}
	if len(c.ChainFiles) > 0 {
		chain, err := keys.LoadCertificateFiles(c.ChainFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to load local TSA chain: %w", err)
		}
		cred.Chain = append(cred.Chain, chain...)
	}
	return cred, nil
}

// RetryConfig mirrors the fetcher retry settings.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max-attempts" json:"max_attempts,omitempty"`
	InitialDelay time.Duration `yaml:"initial-delay" json:"initial_delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max-delay" json:"max_delay,omitempty"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier,omitempty"`
	Jitter       float64       `yaml:"jitter" json:"jitter,omitempty"`
}

// SetDefaults sets default values for the retry configuration.
func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
}

// FetcherConfig configures OCSP, CRL and AIA retrieval.
type FetcherConfig struct {
	Timeout         time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	UserAgent       string        `yaml:"user-agent" json:"user_agent,omitempty"`
	MaxResponseSize int64         `yaml:"max-response-size" json:"max_response_size,omitempty"`
	ProxyURL        string        `yaml:"proxy-url" json:"proxy_url,omitempty"`
	Retry           *RetryConfig  `yaml:"retry" json:"retry,omitempty"`
}

// SetDefaults sets default values for the fetcher configuration.
func (c *FetcherConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "goxades/1.0"
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = 10 * 1024 * 1024
	}
	if c.Retry == nil {
		c.Retry = &RetryConfig{Jitter: 0.1}
	}
	c.Retry.SetDefaults()
}

// Validate validates the fetcher configuration.
func (c *FetcherConfig) Validate() error {
	if c.Timeout < 0 {
		return NewConfigError("fetcher.timeout", "must not be negative")
	}
	if c.MaxResponseSize < 0 {
		return NewConfigError("fetcher.max-response-size", "must not be negative")
	}
	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return &ConfigError{Field: "fetcher.proxy-url", Message: "invalid URL", Err: err}
		}
	}
	if c.Retry != nil {
		if c.Retry.MaxAttempts < 1 {
			return NewConfigError("fetcher.retry.max-attempts", "must be at least 1")
		}
		if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
			return NewConfigError("fetcher.retry.jitter", "must be between 0 and 1")
		}
	}
	return nil
}

// CacheConfig configures the sweep of abandoned evidence caches.
type CacheConfig struct {
	SweepInterval time.Duration `yaml:"sweep-interval" json:"sweep_interval,omitempty"`
	MaxAge        time.Duration `yaml:"max-age" json:"max_age,omitempty"`
}

// SetDefaults sets default values for the cache configuration.
func (c *CacheConfig) SetDefaults() {
	if c.SweepInterval == 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.MaxAge == 0 {
		c.MaxAge = 30 * time.Minute
	}
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.SweepInterval < 0 {
		return NewConfigError("cache.sweep-interval", "must not be negative")
	}
	if c.MaxAge <= 0 {
		return NewConfigError("cache.max-age", "must be positive")
	}
	return nil
}

// ExtensionConfig configures extension passes.
type ExtensionConfig struct {
	// TargetLevel is the default target, e.g. "XL" or "XAdES-A".
	TargetLevel string `yaml:"target-level" json:"target_level,omitempty"`

	// DigestAlgorithm is used in reference blocks.
	DigestAlgorithm string `yaml:"digest-algorithm" json:"digest_algorithm,omitempty"`

	// TrustRoots are paths to trust anchor certificate files.
	TrustRoots []string `yaml:"trust-roots" json:"trust_roots,omitempty"`

	// AllowUntrusted skips path building to a trust root.
	AllowUntrusted bool `yaml:"allow-untrusted" json:"allow_untrusted"`
}

// SetDefaults sets default values for the extension configuration.
func (c *ExtensionConfig) SetDefaults() {
	if c.TargetLevel == "" {
		c.TargetLevel = "XL"
	}
	if c.DigestAlgorithm == "" {
		c.DigestAlgorithm = "sha256"
	}
}

// Validate validates the extension configuration.
func (c *ExtensionConfig) Validate() error {
	level, err := xades.ParseLevel(c.TargetLevel)
	if err != nil {
		return &ConfigError{Field: "extension.target-level", Message: err.Error(), Err: err}
	}
	if level == xades.LevelB {
		return NewConfigError("extension.target-level", "target must be above XAdES-B")
	}
	if _, err := evidence.ParseDigestAlgorithm(c.DigestAlgorithm); err != nil {
		return &ConfigError{Field: "extension.digest-algorithm", Message: err.Error(), Err: err}
	}
	if len(c.TrustRoots) == 0 && !c.AllowUntrusted {
		return missing("extension.trust-roots")
	}
	return nil
}

// Level returns the parsed target level.
func (c *ExtensionConfig) Level() (xades.Level, error) {
	return xades.ParseLevel(c.TargetLevel)
}

// Digest returns the parsed digest algorithm.
func (c *ExtensionConfig) Digest() (evidence.DigestAlgorithm, error) {
	return evidence.ParseDigestAlgorithm(c.DigestAlgorithm)
}

// LoadTrustRoots loads the configured trust anchors.
func (c *ExtensionConfig) LoadTrustRoots() ([]*x509.Certificate, error) {
	if len(c.TrustRoots) == 0 {
		return nil, nil
	}
	certs, err := keys.LoadCertificateFiles(c.TrustRoots)
	if err != nil {
		return nil, fmt.Errorf("failed to load trust roots: %w", err)
	}
	return certs, nil
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	Logging   *LoggingConfig   `yaml:"logging" json:"logging,omitempty"`
	Timestamp *TimestampConfig `yaml:"timestamp" json:"timestamp,omitempty"`
	LocalTSA  *LocalTSAConfig  `yaml:"local-tsa" json:"local_tsa,omitempty"`
	Fetcher   *FetcherConfig   `yaml:"fetcher" json:"fetcher,omitempty"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache,omitempty"`
	Extension *ExtensionConfig `yaml:"extension" json:"extension,omitempty"`
}

var appConfigKeys = []string{"logging", "timestamp", "local-tsa", "fetcher", "cache", "extension"}

// SetDefaults fills every missing section and value.
func (c *AppConfig) SetDefaults() {
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
	if c.Timestamp != nil {
		c.Timestamp.SetDefaults()
	}
	if c.Fetcher == nil {
		c.Fetcher = &FetcherConfig{}
	}
	c.Fetcher.SetDefaults()
	if c.Cache == nil {
		c.Cache = &CacheConfig{}
	}
	c.Cache.SetDefaults()
	if c.Extension == nil {
		c.Extension = &ExtensionConfig{}
	}
	c.Extension.SetDefaults()
}

// Validate validates every section. Exactly one of timestamp and local-tsa
// must be configured.
func (c *AppConfig) Validate() error {
	switch {
	case c.Timestamp == nil && c.LocalTSA == nil:
		return missing("timestamp")
	case c.Timestamp != nil && c.LocalTSA != nil:
		return NewConfigError("local-tsa", "cannot be combined with timestamp")
	}
	validators := []interface{ Validate() error }{c.Logging, c.Fetcher, c.Cache, c.Extension}
	if c.Timestamp != nil {
		validators = append(validators, c.Timestamp)
	}
	if c.LocalTSA != nil {
		validators = append(validators, c.LocalTSA)
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadAppConfig loads, completes and validates the configuration file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAppConfig(data)
}

// ParseAppConfig parses, completes and validates YAML configuration data.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	supplied := make([]string, 0, len(raw))
	for k := range raw {
		supplied = append(supplied, k)
	}
	sort.Strings(supplied)
	if err := CheckConfigKeys("goxades", appConfigKeys, supplied); err != nil {
		return nil, err
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// CheckConfigKeys checks if all provided keys are valid for a given configuration type.
func CheckConfigKeys(configName string, expectedKeys, suppliedKeys []string) error {
	expectedSet := make(map[string]bool)
	for _, k := range expectedKeys {
		expectedSet[normalizeKey(k)] = true
	}

	var unexpected []string
	for _, k := range suppliedKeys {
		if !expectedSet[normalizeKey(k)] {
			unexpected = append(unexpected, k)
		}
	}

	if len(unexpected) > 0 {
		keyWord := "key"
		if len(unexpected) > 1 {
			keyWord = "keys"
		}
		return fmt.Errorf("%w: unexpected %s in configuration for %s: %s",
			ErrUnexpectedField, keyWord, configName, strings.Join(unexpected, ", "))
	}

	return nil
}

// normalizeKey normalizes a configuration key (underscores to dashes).
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
