package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/promptify/confirm"
	"github.com/hazyhaar/promptify/dom/memdom"
	"github.com/hazyhaar/promptify/history"
	"github.com/hazyhaar/promptify/internal/dbopen"
	"github.com/hazyhaar/promptify/platform"
	"github.com/hazyhaar/promptify/relay"
	"github.com/hazyhaar/promptify/session"
	"github.com/hazyhaar/promptify/settings"
)

type fakeSessions map[string]*session.Session

func (f fakeSessions) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(f))
	for _, s := range f {
		out = append(out, s)
	}
	return out
}

func (f fakeSessions) Get(id string) (*session.Session, bool) {
	s, ok := f[id]
	return s, ok
}

var chatgpt = &platform.Descriptor{
	ID:             "chatgpt",
	Name:           "ChatGPT",
	Hosts:          []string{"chatgpt.com"},
	InputSelectors: []string{"#prompt-textarea"},
}

func newSession(t *testing.T, html string) (*session.Session, *memdom.Document) {
	t.Helper()
	r := relay.New()
	r.Handle(relay.TypeRefinePrompt, func(_ context.Context, p []byte) ([]byte, error) {
		var m relay.Message
		json.Unmarshal(p, &m)
		return []byte(strings.ToUpper(m.Prompt)), nil
	})
	doc := memdom.MustParse(html, "https://chatgpt.com/")
	s, err := session.New(session.Config{
		ID:         "ses_1",
		Document:   doc,
		Descriptor: chatgpt,
		Relay:      r,
		Gate: confirm.GateFunc(func(_ context.Context, c string) (string, bool, error) {
			return c, true, nil
		}),
		Window: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, doc
}

type fixture struct {
	srv     *httptest.Server
	store   *settings.SQLStore
	history *history.Log
	doc     *memdom.Document
}

func setup(t *testing.T) *fixture {
	t.Helper()
	for _, k := range []string{settings.EnvProvider, settings.EnvModel, settings.EnvAPIKey, settings.EnvAPIURL} {
		t.Setenv(k, "")
	}
	db := dbopen.OpenMemory(t)
	store, err := settings.NewSQLStore(db)
	if err != nil {
		t.Fatal(err)
	}
	hist, err := history.Open(db, 16)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	sess, doc := newSession(t, `<html><body><textarea id="prompt-textarea">make it better</textarea></body></html>`)
	s, err := New(Config{
		Sessions: fakeSessions{sess.ID(): sess},
		Settings: store,
		History:  hist,
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: ts, store: store, history: hist, doc: doc}
}

func do(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := setup(t)
	var body map[string]string
	if code := do(t, "GET", f.srv.URL+"/health", "", &body); code != 200 || body["status"] != "ok" {
		t.Fatalf("%d %v", code, body)
	}
}

func TestSessions(t *testing.T) {
	f := setup(t)
	var list []session.Info
	if code := do(t, "GET", f.srv.URL+"/sessions", "", &list); code != 200 {
		t.Fatalf("status %d", code)
	}
	if len(list) != 1 || list[0].ID != "ses_1" || list[0].PlatformID != "chatgpt" {
		t.Fatalf("list %+v", list)
	}

	var one session.Info
	if code := do(t, "GET", f.srv.URL+"/sessions/ses_1", "", &one); code != 200 || one.URL != "https://chatgpt.com/" {
		t.Fatalf("%d %+v", code, one)
	}
	if code := do(t, "GET", f.srv.URL+"/sessions/nope", "", nil); code != 404 {
		t.Fatalf("unknown session: %d", code)
	}
}

func TestRefine(t *testing.T) {
	f := setup(t)
	var res refineResult
	if code := do(t, "POST", f.srv.URL+"/sessions/ses_1/refine", "", &res); code != 200 {
		t.Fatalf("status %d %+v", code, res)
	}
	if res.Kind != "applied" || res.Text != "MAKE IT BETTER" {
		t.Fatalf("result %+v", res)
	}
	if got, _ := f.doc.Find("#prompt-textarea").Value(); got != "MAKE IT BETTER" {
		t.Fatalf("textarea %q", got)
	}
	if code := do(t, "POST", f.srv.URL+"/sessions/nope/refine", "", nil); code != 404 {
		t.Fatalf("unknown session: %d", code)
	}
}

func TestRefine_NoInput(t *testing.T) {
	sess, _ := newSession(t, `<html><body><p>empty</p></body></html>`)
	s, err := New(Config{
		Sessions: fakeSessions{sess.ID(): sess},
		Settings: settingsStore(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, localRequest("POST", "/sessions/ses_1/refine"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
}

func localRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Host = "127.0.0.1:7766"
	return req
}

func settingsStore(t *testing.T) *settings.SQLStore {
	t.Helper()
	st, err := settings.NewSQLStore(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSettings(t *testing.T) {
	f := setup(t)

	var got settings.Settings
	if code := do(t, "GET", f.srv.URL+"/settings", "", &got); code != 200 {
		t.Fatalf("status %d", code)
	}
	if got.Provider != settings.DefaultProvider || got.APIURL != settings.DefaultAPIURL {
		t.Fatalf("defaults %+v", got)
	}

	body := `{"provider":"openai","apiKey":"sk-abcdefgh1234"}`
	if code := do(t, "PUT", f.srv.URL+"/settings", body, &got); code != 200 {
		t.Fatalf("put status %d", code)
	}
	if got.Provider != "openai" || got.Model != "gpt-3.5-turbo" || got.APIKey != "**********1234" {
		t.Fatalf("after put %+v", got)
	}
	stored, err := f.store.Load(context.Background())
	if err != nil || stored.APIKey != "sk-abcdefgh1234" {
		t.Fatalf("stored %+v, %v", stored, err)
	}

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown key", `{"color":"red"}`},
		{"unknown provider", `{"provider":"acme"}`},
		{"bad url", `{"apiUrl":"ftp://x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, "PUT", f.srv.URL+"/settings", tt.body, nil); code != 400 {
				t.Fatalf("status %d", code)
			}
		})
	}
	stored, _ = f.store.Load(context.Background())
	if stored.Provider != "openai" {
		t.Fatalf("rejected put changed the store: %+v", stored)
	}
}

func TestHistory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for _, st := range []history.Status{history.StatusApplied, history.StatusCancelled, history.StatusApplied} {
		if err := f.history.Append(ctx, history.Event{Origin: "https://chatgpt.com", PlatformID: "chatgpt", Status: st}); err != nil {
			t.Fatal(err)
		}
	}

	var events []history.Event
	if code := do(t, "GET", f.srv.URL+"/history?limit=2", "", &events); code != 200 || len(events) != 2 {
		t.Fatalf("%d %d events", code, len(events))
	}
	if code := do(t, "GET", f.srv.URL+"/history?status=cancelled", "", &events); code != 200 || len(events) != 1 {
		t.Fatalf("%d %d events", code, len(events))
	}

	var counts map[string]int
	if code := do(t, "GET", f.srv.URL+"/history/counts", "", &counts); code != 200 || counts["applied"] != 2 {
		t.Fatalf("%d %v", code, counts)
	}

	for _, q := range []string{"limit=0", "limit=x", "since=yesterday"} {
		if code := do(t, "GET", f.srv.URL+"/history?"+q, "", nil); code != 400 {
			t.Fatalf("%s: status %d", q, code)
		}
	}
}

func TestHistory_Disabled(t *testing.T) {
	s, err := New(Config{Sessions: fakeSessions{}, Settings: settingsStore(t)})
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, localRequest("GET", "/history"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("missing deps accepted")
	}
	st := settingsStore(t)
	for _, addr := range []string{"0.0.0.0:7766", "192.168.1.2:80", "nohost"} {
		if _, err := New(Config{Addr: addr, Sessions: fakeSessions{}, Settings: st}); err == nil {
			t.Errorf("%s accepted", addr)
		}
	}
	for _, addr := range []string{"localhost:1", "[::1]:7766", DefaultAddr} {
		if _, err := New(Config{Addr: addr, Sessions: fakeSessions{}, Settings: st}); err != nil {
			t.Errorf("%s: %v", addr, err)
		}
	}
}

func TestServe_Shutdown(t *testing.T) {
	s, err := New(Config{Addr: "127.0.0.1:0", Sessions: fakeSessions{}, Settings: settingsStore(t)})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestLocalOnly(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name   string
		header string
		value  string
		host   string
		want   int
	}{
		{"plain", "", "", "", 200},
		{"cross-site fetch", "Origin", "https://evil.example", "", 403},
		{"rebound host", "", "", "evil.example:7766", 403},
		{"localhost name", "", "", "localhost:7766", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", f.srv.URL+"/settings", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			if tt.host != "" {
				req.Host = tt.host
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.want)
			}
			if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
				t.Fatal("security headers missing")
			}
		})
	}
}

func TestPutSettings_BodyLimit(t *testing.T) {
	f := setup(t)
	body := `{"model":"` + strings.Repeat("m", maxBody) + `"}`
	if code := do(t, "PUT", f.srv.URL+"/settings", body, nil); code != 400 {
		t.Fatalf("status %d", code)
	}
}
