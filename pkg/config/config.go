package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName       = "server.toml"
	defaultClientConfigFileName = "client.toml"
	appDirName                  = "portfolio-assistant"

	ProviderTypeOpenAI = "openai"
	ProviderTypeSSE    = "sse"

	DefaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel     = "gemini-2.5-flash"
	DefaultAPIKeyEnv = "GEMINI_API_KEY"
	FallbackKeyEnv   = "OPENAI_API_KEY"

	defaultTemperature = 0.7
)

type ProviderConfig struct {
	Name           string  `toml:"name" json:"name"`
	Type           string  `toml:"type" json:"type"`
	BaseURL        string  `toml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey         string  `toml:"api_key,omitempty" json:"-"`
	APIKeyEnv      string  `toml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	Model          string  `toml:"model,omitempty" json:"model,omitempty"`
	Temperature    float64 `toml:"temperature" json:"temperature"`
	PromptMode     string  `toml:"prompt_mode,omitempty" json:"prompt_mode,omitempty"`
	SystemPrompt   string  `toml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	TimeoutSeconds int     `toml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

type LimitsConfig struct {
	MaxBodyBytes      int64 `toml:"max_body_bytes"`
	MaxQuestionChars  int   `toml:"max_question_chars"`
	MaxContextChars   int   `toml:"max_context_chars"`
	MaxProjectIDChars int   `toml:"max_project_id_chars"`
}

type RateLimitConfig struct {
	WindowSeconds        int `toml:"window_seconds"`
	MaxRequests          int `toml:"max_requests"`
	PruneIntervalSeconds int `toml:"prune_interval_seconds"`
}

type AssistantConfig struct {
	SimulateRateLimitPhrase string `toml:"simulate_rate_limit_phrase"`
}

type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

type TLSConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	Domain     string `toml:"domain"`
	Email      string `toml:"email"`
	CacheDir   string `toml:"cache_dir"`
}

type ServerConfig struct {
	ListenAddr  string          `toml:"listen_addr"`
	LogLevel    string          `toml:"log_level"`
	LogFormat   string          `toml:"log_format"`
	CatalogPath string          `toml:"catalog_path,omitempty"`
	Provider    ProviderConfig  `toml:"provider"`
	Limits      LimitsConfig    `toml:"limits"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Assistant   AssistantConfig `toml:"assistant"`
	CORS        CORSConfig      `toml:"cors"`
	TLS         TLSConfig       `toml:"tls"`
}

// ClientConfig is read by the ask command.
type ClientConfig struct {
	ServerURL string `toml:"server_url"`
}

func DefaultServerConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", appDirName, defaultConfigFileName)
}

func DefaultClientConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultClientConfigFileName
	}
	return filepath.Join(home, ".config", appDirName, defaultClientConfigFileName)
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", appDirName, "tls-autocert")
}

func NewDefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Name:        "gemini",
		Type:        ProviderTypeOpenAI,
		BaseURL:     DefaultBaseURL,
		APIKeyEnv:   DefaultAPIKeyEnv,
		Model:       DefaultModel,
		Temperature: defaultTemperature,
		PromptMode:  "single",
	}
}

func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: ":3000",
		LogLevel:   "info",
		LogFormat:  "text",
		Provider:   NewDefaultProviderConfig(),
		Limits: LimitsConfig{
			MaxBodyBytes:      200000,
			MaxQuestionChars:  500,
			MaxContextChars:   8000,
			MaxProjectIDChars: 100,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds:        60,
			MaxRequests:          10,
			PruneIntervalSeconds: 300,
		},
		Assistant: AssistantConfig{
			SimulateRateLimitPhrase: "test failure",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		TLS: TLSConfig{
			Enabled:    false,
			ListenAddr: ":443",
			CacheDir:   DefaultTLSCacheDir(),
		},
	}
}

func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL: "http://127.0.0.1:3000",
	}
}

func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrCreateServerConfig writes the defaults to path when no file exists.
func LoadOrCreateServerConfig(path string) (*ServerConfig, error) {
	cfg := NewDefaultServerConfig()
	if err := loadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := NewDefaultClientConfig()
	if err := load(path, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadOrCreate(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := writeAtomic(path, v); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	return load(path, v)
}

func load(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse toml: %w", err)
	}
	return nil
}

func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(path, v)
}

func writeAtomic(path string, v any) error {
	b, err := MarshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func MarshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetArraysMultiline(true)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	enc.SetTablesInline(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}

// ApplyEnv overlays environment overrides. The provider key is only taken
// from the environment when none is configured.
func (c *ServerConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("PORTFOLIO_LISTEN_ADDR"); ok && strings.TrimSpace(v) != "" {
		c.ListenAddr = strings.TrimSpace(v)
	} else if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		c.ListenAddr = ":" + strings.TrimSpace(v)
	}
	if v, ok := lookup("PORTFOLIO_LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		c.LogLevel = strings.TrimSpace(v)
	}
	if v, ok := lookup("PORTFOLIO_LOG_FORMAT"); ok && strings.TrimSpace(v) != "" {
		c.LogFormat = strings.TrimSpace(v)
	}
	if strings.TrimSpace(c.Provider.APIKey) != "" {
		return
	}
	for _, name := range c.Provider.keyEnvNames() {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			c.Provider.APIKey = strings.TrimSpace(v)
			return
		}
	}
}

func (p ProviderConfig) keyEnvNames() []string {
	names := []string{}
	if env := strings.TrimSpace(p.APIKeyEnv); env != "" {
		names = append(names, env)
	}
	if p.Type == ProviderTypeOpenAI && strings.TrimSpace(p.APIKeyEnv) == DefaultAPIKeyEnv {
		names = append(names, FallbackKeyEnv)
	}
	return names
}

func (c *ServerConfig) Normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	c.CatalogPath = strings.TrimSpace(c.CatalogPath)
	c.Provider.Normalize()

	def := NewDefaultServerConfig()
	if c.Limits.MaxBodyBytes <= 0 {
		c.Limits.MaxBodyBytes = def.Limits.MaxBodyBytes
	}
	if c.Limits.MaxQuestionChars <= 0 {
		c.Limits.MaxQuestionChars = def.Limits.MaxQuestionChars
	}
	if c.Limits.MaxContextChars <= 0 {
		c.Limits.MaxContextChars = def.Limits.MaxContextChars
	}
	if c.Limits.MaxProjectIDChars <= 0 {
		c.Limits.MaxProjectIDChars = def.Limits.MaxProjectIDChars
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = def.RateLimit.WindowSeconds
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = def.RateLimit.MaxRequests
	}
	if c.RateLimit.PruneIntervalSeconds <= 0 {
		c.RateLimit.PruneIntervalSeconds = def.RateLimit.PruneIntervalSeconds
	}

	origins := make([]string, 0, len(c.CORS.AllowedOrigins))
	seen := map[string]struct{}{}
	for _, o := range c.CORS.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		origins = append(origins, o)
	}
	c.CORS.AllowedOrigins = origins

	c.TLS.ListenAddr = strings.TrimSpace(c.TLS.ListenAddr)
	if c.TLS.ListenAddr == "" {
		c.TLS.ListenAddr = ":443"
	}
	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (p *ProviderConfig) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	if p.Type == "" {
		p.Type = ProviderTypeOpenAI
	}
	if p.Name == "" {
		p.Name = p.Type
	}
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if p.BaseURL == "" && p.Type == ProviderTypeOpenAI {
		p.BaseURL = DefaultBaseURL
	}
	p.APIKey = strings.TrimSpace(p.APIKey)
	p.APIKeyEnv = strings.TrimSpace(p.APIKeyEnv)
	p.Model = strings.TrimSpace(p.Model)
	if p.Model == "" && p.Type == ProviderTypeOpenAI {
		p.Model = DefaultModel
	}
	p.PromptMode = strings.ToLower(strings.TrimSpace(p.PromptMode))
	if p.PromptMode == "" {
		p.PromptMode = "single"
	}
	p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
	if p.TimeoutSeconds < 0 {
		p.TimeoutSeconds = 0
	}
}

func (c *ServerConfig) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of trace, debug, info, warn, error (got %q)", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("log_format must be one of text, json, logfmt (got %q)", c.LogFormat)
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if c.Limits.MaxBodyBytes < 1024 {
		return errors.New("limits.max_body_bytes must be >= 1024")
	}
	if c.RateLimit.MaxRequests > 100000 {
		return errors.New("rate_limit.max_requests must be <= 100000")
	}
	for _, o := range c.CORS.AllowedOrigins {
		if o == "*" {
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("cors.allowed_origins entry %q must be an absolute origin or *", o)
		}
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls.enabled=true")
	}
	return nil
}

func (p ProviderConfig) Validate() error {
	switch p.Type {
	case ProviderTypeOpenAI, ProviderTypeSSE:
	default:
		return fmt.Errorf("provider.type must be one of %s, %s (got %q)", ProviderTypeOpenAI, ProviderTypeSSE, p.Type)
	}
	if p.BaseURL == "" {
		return errors.New("provider.base_url is required")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("provider.base_url %q must be an http(s) URL", p.BaseURL)
	}
	if p.Type == ProviderTypeOpenAI && p.Model == "" {
		return errors.New("provider.model is required for openai providers")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return errors.New("provider.temperature must be between 0 and 2")
	}
	if p.PromptMode != "single" && p.PromptMode != "multi" {
		return errors.New("provider.prompt_mode must be one of single, multi")
	}
	return nil
}

// KeyEnvName names the variable a missing key should be read from.
func (p ProviderConfig) KeyEnvName() string {
	if p.APIKeyEnv != "" {
		return p.APIKeyEnv
	}
	return DefaultAPIKeyEnv
}

func (c *ClientConfig) Normalize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
}

func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q must be an absolute URL", c.ServerURL)
	}
	return nil
}
