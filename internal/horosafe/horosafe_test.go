package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEndpoint(t *testing.T) {
	cases := []struct {
		url string
		ok  bool
	}{
		{"http://localhost:8000/refine", true},
		{"https://api.example.com/refine", true},
		{"ftp://example.com/x", false},
		{"http:///nohost", false},
		{"::bad", false},
	}
	for _, tc := range cases {
		err := ValidateEndpoint(tc.url)
		if (err == nil) != tc.ok {
			t.Errorf("ValidateEndpoint(%q): err=%v, want ok=%v", tc.url, err, tc.ok)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	_, err = LimitedReadAll(strings.NewReader("hello!"), 5)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
