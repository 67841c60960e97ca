// Package settings holds the user's rewriting-service settings: which
// provider and model to ask for, the API key handed to the service, and
// the service URL.
package settings

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hazyhaar/promptify/internal/horosafe"
)

// Keys of the settings record.
const (
	KeyProvider = "provider"
	KeyModel    = "model"
	KeyAPIKey   = "apiKey"
	KeyAPIURL   = "apiUrl"
)

// Keys lists the record's keys in display order.
var Keys = []string{KeyProvider, KeyModel, KeyAPIKey, KeyAPIURL}

const (
	DefaultProvider = "cerebras"
	DefaultAPIURL   = "http://localhost:8000/refine"
)

// ErrUnknownKey is returned for a key outside Keys.
var ErrUnknownKey = errors.New("settings: unknown key")

// Settings is the record sent along with every refine request.
type Settings struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	APIKey   string `json:"apiKey" yaml:"apiKey"`
	APIURL   string `json:"apiUrl" yaml:"apiUrl"`
}

// Provider describes a model backend the rewriting service understands.
type Provider struct {
	Name         string
	DefaultModel string
	Description  string
}

// Providers are the backends known to the rewriting service.
var Providers = map[string]Provider{
	"cerebras":  {Name: "cerebras", DefaultModel: "cerebras/llama3.1-8b", Description: "Cerebras Cloud (free tier)"},
	"openai":    {Name: "openai", DefaultModel: "gpt-3.5-turbo", Description: "OpenAI"},
	"anthropic": {Name: "anthropic", DefaultModel: "claude-3-5-sonnet-20241022", Description: "Anthropic"},
	"gemini":    {Name: "gemini", DefaultModel: "gemini-2.5-flash", Description: "Google Gemini"},
	"local":     {Name: "local", DefaultModel: "local-model", Description: "OpenAI-compatible local endpoint"},
}

// Preset is a named provider/model pair.
type Preset struct {
	Name     string
	Provider string
	Model    string
}

// Presets are shortcuts accepted by "config set preset".
var Presets = []Preset{
	{"default", "cerebras", "cerebras/llama3.1-8b"},
	{"cerebras-8b", "cerebras", "cerebras/llama3.1-8b"},
	{"cerebras-70b", "cerebras", "cerebras/llama-3.3-70b"},
	{"gpt-4o", "openai", "gpt-4o"},
	{"gpt-3.5", "openai", "gpt-3.5-turbo"},
	{"claude", "anthropic", "claude-3-5-sonnet-20241022"},
	{"gemini-flash", "gemini", "gemini-2.5-flash"},
}

// LookupPreset returns the preset called name.
func LookupPreset(name string) (Preset, bool) {
	for _, p := range Presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// ProviderNames lists known providers, sorted.
func ProviderNames() []string {
	out := make([]string, 0, len(Providers))
	for k := range Providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Provider: DefaultProvider,
		Model:    Providers[DefaultProvider].DefaultModel,
		APIURL:   DefaultAPIURL,
	}
}

// Resolve fills unset fields with built-in values. An unset model takes the
// default of the selected provider.
func (s Settings) Resolve() Settings {
	if s.Provider == "" {
		s.Provider = DefaultProvider
	}
	if s.Model == "" {
		if p, ok := Providers[s.Provider]; ok {
			s.Model = p.DefaultModel
		}
	}
	if s.APIURL == "" {
		s.APIURL = DefaultAPIURL
	}
	return s
}

// Validate checks a resolved record.
func (s Settings) Validate() error {
	if _, ok := Providers[s.Provider]; !ok {
		return fmt.Errorf("settings: unknown provider %q (known: %s)", s.Provider, strings.Join(ProviderNames(), ", "))
	}
	if err := horosafe.ValidateEndpoint(s.APIURL); err != nil {
		return fmt.Errorf("settings: apiUrl: %w", err)
	}
	return nil
}

// Redacted hides all but the last four characters of the API key.
func (s Settings) Redacted() Settings {
	if n := len(s.APIKey); n > 0 {
		if n <= 4 {
			s.APIKey = strings.Repeat("*", n)
		} else {
			s.APIKey = strings.Repeat("*", n-4) + s.APIKey[n-4:]
		}
	}
	return s
}

// Get returns the field stored under key.
func (s Settings) Get(key string) (string, error) {
	switch key {
	case KeyProvider:
		return s.Provider, nil
	case KeyModel:
		return s.Model, nil
	case KeyAPIKey:
		return s.APIKey, nil
	case KeyAPIURL:
		return s.APIURL, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// With returns a copy with key set to value.
func (s Settings) With(key, value string) (Settings, error) {
	switch key {
	case KeyProvider:
		s.Provider = value
	case KeyModel:
		s.Model = value
	case KeyAPIKey:
		s.APIKey = value
	case KeyAPIURL:
		s.APIURL = value
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return s, nil
}

// Env variables that override stored settings.
const (
	EnvProvider = "PROMPTIFY_PROVIDER"
	EnvModel    = "PROMPTIFY_MODEL"
	EnvAPIKey   = "PROMPTIFY_API_KEY"
	EnvAPIURL   = "PROMPTIFY_API_URL"
)

// ApplyEnv overrides fields with non-empty environment values. lookup is
// os.LookupEnv in production.
func (s Settings) ApplyEnv(lookup func(string) (string, bool)) Settings {
	for env, key := range map[string]string{
		EnvProvider: KeyProvider,
		EnvModel:    KeyModel,
		EnvAPIKey:   KeyAPIKey,
		EnvAPIURL:   KeyAPIURL,
	} {
		if v, ok := lookup(env); ok && v != "" {
			s, _ = s.With(key, v)
		}
	}
	return s
}
