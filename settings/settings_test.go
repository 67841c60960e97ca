package settings_test

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/promptify/internal/dbopen"
	"github.com/hazyhaar/promptify/settings"
)

func newStore(t *testing.T) *settings.SQLStore {
	t.Helper()
	st, err := settings.NewSQLStore(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestDefaults(t *testing.T) {
	d := settings.Defaults()
	if d.Provider != "cerebras" || d.Model != "cerebras/llama3.1-8b" || d.APIURL != "http://localhost:8000/refine" || d.APIKey != "" {
		t.Fatalf("defaults: %+v", d)
	}
	if err := d.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		in   settings.Settings
		want settings.Settings
	}{
		{"empty", settings.Settings{}, settings.Defaults()},
		{
			"provider picks its model",
			settings.Settings{Provider: "anthropic"},
			settings.Settings{Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", APIURL: settings.DefaultAPIURL},
		},
		{
			"explicit values kept",
			settings.Settings{Provider: "openai", Model: "gpt-4o", APIKey: "sk", APIURL: "https://refine.example/v1"},
			settings.Settings{Provider: "openai", Model: "gpt-4o", APIKey: "sk", APIURL: "https://refine.example/v1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Resolve(); got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	bad := []settings.Settings{
		{Provider: "nope", APIURL: settings.DefaultAPIURL},
		{Provider: "cerebras", APIURL: "ftp://x"},
	}
	for _, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("%+v accepted", s)
		}
	}
}

func TestRedacted(t *testing.T) {
	s := settings.Settings{APIKey: "sk-abcdef1234"}
	if got := s.Redacted().APIKey; got != "*********1234" {
		t.Fatalf("got %q", got)
	}
	if got := (settings.Settings{APIKey: "abc"}).Redacted().APIKey; got != "***" {
		t.Fatalf("short key: %q", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		settings.EnvProvider: "local",
		settings.EnvAPIURL:   "http://127.0.0.1:9000/refine",
		settings.EnvModel:    "",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	got := settings.Settings{Provider: "openai", Model: "gpt-4o"}.ApplyEnv(lookup)
	want := settings.Settings{Provider: "local", Model: "gpt-4o", APIURL: "http://127.0.0.1:9000/refine"}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSQLStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	got, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != (settings.Settings{}) {
		t.Fatalf("fresh store not empty: %+v", got)
	}

	rec := settings.Settings{Provider: "gemini", APIKey: "k", APIURL: "https://x.example/refine"}
	if err := st.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, _ = st.Load(ctx)
	if got != rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
	if got.Resolve().Model != "gemini-2.5-flash" {
		t.Fatalf("unset model not resolved from provider: %+v", got.Resolve())
	}

	if err := st.Set(ctx, settings.KeyAPIKey, ""); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Get(ctx, settings.KeyAPIKey); ok {
		t.Fatal("empty value should delete the key")
	}
}

func TestSQLStore_UnknownKey(t *testing.T) {
	st := newStore(t)
	if err := st.Set(context.Background(), "temperature", "1"); !errors.Is(err, settings.ErrUnknownKey) {
		t.Fatalf("got %v", err)
	}
	if _, _, err := st.Get(context.Background(), "temperature"); !errors.Is(err, settings.ErrUnknownKey) {
		t.Fatalf("got %v", err)
	}
}

func TestEffective(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	st.Set(ctx, settings.KeyProvider, "openai")
	t.Setenv(settings.EnvAPIKey, "from-env")

	got, err := settings.Effective(ctx, st)
	if err != nil {
		t.Fatal(err)
	}
	if got.Provider != "openai" || got.Model != "gpt-3.5-turbo" || got.APIKey != "from-env" || got.APIURL != settings.DefaultAPIURL {
		t.Fatalf("got %+v", got)
	}
}

func TestLookupPreset(t *testing.T) {
	p, ok := settings.LookupPreset("cerebras-70b")
	if !ok || p.Model != "cerebras/llama-3.3-70b" {
		t.Fatalf("got %+v, %v", p, ok)
	}
	for _, p := range settings.Presets {
		if _, ok := settings.Providers[p.Provider]; !ok {
			t.Errorf("preset %s names unknown provider %s", p.Name, p.Provider)
		}
	}
}
