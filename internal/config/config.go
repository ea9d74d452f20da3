package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	ListenAddr         string      `toml:"listen_addr"`
	LogLevel           string      `toml:"log_level"`
	Timezone           string      `toml:"timezone"`
	InsecureSkipVerify bool        `toml:"insecure_skip_verify"`
	CACertPath         string      `toml:"ca_cert_path"`
	HTTPTimeout        Duration    `toml:"http_timeout"`
	TLSCertPath        string      `toml:"tls_cert_path"`
	TLSKeyPath         string      `toml:"tls_key_path"`
	OAuth              OAuthConfig `toml:"oauth"`
}

// OAuthConfig defines the single OAuth2 provider the harness talks to.
type OAuthConfig struct {
	Issuer         string   `toml:"issuer"`           // OIDC Discovery (optional)
	AuthorizeURL   string   `toml:"authorize_url"`    // required if no issuer
	AccessTokenURL string   `toml:"access_token_url"` // required if no issuer
	ClientID       string   `toml:"client_id"`
	ClientSecret   string   `toml:"client_secret"`
	DefaultScopes  []string `toml:"default_scopes"`
	RequestMethod  string   `toml:"request_method"` // token request method: GET or POST
	AuthStyle      string   `toml:"auth_style"`     // params, header or auto
	CallbackURL    string   `toml:"callback_url"`

	// Computed fields (not from TOML)
	CallbackPath string // path component of callback_url
}

// Duration is a time.Duration that unmarshals from a TOML string like "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

const (
	DefaultListenAddr  = ":8080"
	DefaultCallbackURL = "http://localhost:8080/callback"
	DefaultHTTPTimeout = 10 * time.Second
)

// Load reads the configuration from a TOML file. ${VAR} references in the
// file are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(os.ExpandEnv(string(data)))
}

// Parse decodes TOML text, applies defaults and validates the result.
func Parse(data string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HTTPTimeout.Duration == 0 {
		cfg.HTTPTimeout.Duration = DefaultHTTPTimeout
	}

	o := &cfg.OAuth
	if len(o.DefaultScopes) == 0 {
		o.DefaultScopes = []string{"openid", "profile", "email"}
	}
	o.RequestMethod = strings.ToUpper(o.RequestMethod)
	if o.RequestMethod == "" {
		o.RequestMethod = "POST"
	}
	o.AuthStyle = strings.ToLower(o.AuthStyle)
	if o.AuthStyle == "" {
		o.AuthStyle = "params"
	}
	if o.CallbackURL == "" {
		o.CallbackURL = DefaultCallbackURL
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: must be debug, info, warn or error", c.LogLevel)
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
	}
	if c.HTTPTimeout.Duration < 0 {
		return fmt.Errorf("http_timeout must not be negative")
	}
	if (c.TLSCertPath != "") != (c.TLSKeyPath != "") {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be specified together")
	}

	o := &c.OAuth
	if o.Issuer == "" && (o.AuthorizeURL == "" || o.AccessTokenURL == "") {
		return fmt.Errorf("oauth: either issuer or both authorize_url and access_token_url are required")
	}
	if o.ClientID == "" {
		return fmt.Errorf("oauth: client_id is required")
	}
	switch o.RequestMethod {
	case "GET", "POST":
	default:
		return fmt.Errorf("oauth: request_method %q: must be GET or POST", o.RequestMethod)
	}
	switch o.AuthStyle {
	case "params", "header", "auto":
	default:
		return fmt.Errorf("oauth: auth_style %q: must be params, header or auto", o.AuthStyle)
	}
	for _, u := range []struct{ key, value string }{
		{"issuer", o.Issuer},
		{"authorize_url", o.AuthorizeURL},
		{"access_token_url", o.AccessTokenURL},
	} {
		if u.value == "" {
			continue
		}
		if err := checkAbsoluteURL(u.value); err != nil {
			return fmt.Errorf("oauth: %s: %w", u.key, err)
		}
	}

	if err := checkAbsoluteURL(o.CallbackURL); err != nil {
		return fmt.Errorf("oauth: callback_url: %w", err)
	}
	cb, _ := url.Parse(o.CallbackURL)
	o.CallbackPath = cb.Path
	if o.CallbackPath == "" || o.CallbackPath == "/" {
		return fmt.Errorf("oauth: callback_url %q: path must not be empty or /", o.CallbackURL)
	}
	if strings.HasSuffix(o.CallbackPath, "/") {
		return fmt.Errorf("oauth: callback_url %q: path must not end with /", o.CallbackURL)
	}
	// The path becomes a ServeMux pattern.
	if strings.ContainsAny(o.CallbackPath, "{} \t") {
		return fmt.Errorf("oauth: callback_url %q: path must not contain braces or whitespace", o.CallbackURL)
	}
	if strings.HasPrefix(o.CallbackPath, "/static/") {
		return fmt.Errorf("oauth: callback_url %q: path conflicts with /static/", o.CallbackURL)
	}
	for _, reserved := range []string{"/login", "/logout", "/healthz"} {
		if o.CallbackPath == reserved {
			return fmt.Errorf("oauth: callback_url %q: path conflicts with %s", o.CallbackURL, reserved)
		}
	}
	return nil
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q: host is required", raw)
	}
	return nil
}

// TLSEnabled returns true if TLS cert files are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != ""
}

// Location returns the display time zone, defaulting to the system local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
