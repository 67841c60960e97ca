package platform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSubmitSelectors recognise a send button on sites whose descriptor
// does not name one.
var DefaultSubmitSelectors = []string{
	`[data-testid="send-button"]`,
	`button[aria-label*="Send"]`,
}

// Builtin returns the descriptors shipped with promptify, in match order.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			ID:                "chatgpt",
			Name:              "ChatGPT",
			Hosts:             []string{"chatgpt.com", "chat.openai.com"},
			InputSelectors:    []string{"div#prompt-textarea", "textarea#prompt-textarea"},
			ContainerSelector: "div.relative.flex.h-full.max-w-full.flex-1",
			SubmitSelectors:   []string{`[data-testid="send-button"]`, "button#composer-submit-button"},
		},
		{
			ID:                "claude",
			Name:              "Claude",
			Hosts:             []string{"claude.ai"},
			InputSelectors:    []string{`div.ProseMirror[contenteditable="true"]`},
			ContainerSelector: "div.cursor-text",
			SubmitSelectors:   []string{`button[aria-label="Send message"]`, `button[aria-label*="Send"]`},
		},
		{
			ID:              "gemini",
			Name:            "Gemini",
			Hosts:           []string{"gemini.google.com"},
			InputSelectors:  []string{`rich-textarea div.ql-editor[contenteditable="true"]`, `div.ql-editor[contenteditable="true"]`},
			SubmitSelectors: []string{"button.send-button", `button[aria-label="Send message"]`},
		},
		{
			ID:              "mistral",
			Name:            "Le Chat",
			Hosts:           []string{"chat.mistral.ai"},
			InputSelectors:  []string{`div.ProseMirror[contenteditable="true"]`, "textarea"},
			SubmitSelectors: []string{`button[type="submit"]`, `button[aria-label*="Send"]`},
		},
		{
			ID:              "deepseek",
			Name:            "DeepSeek",
			Hosts:           []string{"chat.deepseek.com"},
			InputSelectors:  []string{"textarea#chat-input", "textarea"},
			SubmitSelectors: []string{`div[role="button"][aria-disabled]`, `button[aria-label*="Send"]`},
		},
		{
			ID:              "perplexity",
			Name:            "Perplexity",
			Hosts:           []string{"perplexity.ai"},
			InputSelectors:  []string{`div#ask-input[contenteditable="true"]`, "textarea[placeholder]"},
			SubmitSelectors: []string{`button[aria-label="Submit"]`, `button[data-testid="submit-button"]`},
		},
		{
			ID:              "copilot",
			Name:            "Bing Copilot",
			Hosts:           []string{"bing.com/chat"},
			InputSelectors:  []string{"textarea#searchbox", "textarea"},
			SubmitSelectors: []string{`button[aria-label="Submit"]`},
			ShadowHosts:     []string{"cib-serp", "cib-action-bar", "cib-text-input"},
		},
	}
}

// NewBuiltinRegistry returns a registry holding the built-in table
// followed by extras.
func NewBuiltinRegistry(extras ...Descriptor) (*Registry, error) {
	r := NewRegistry().MustRegister(Builtin()...)
	for _, d := range extras {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type descriptorFile struct {
	Descriptors []Descriptor `yaml:"descriptors"`
}

// DecodeYAML reads a "descriptors:" list.
func DecodeYAML(r io.Reader) ([]Descriptor, error) {
	var f descriptorFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("platform: decode descriptors: %w", err)
	}
	for i := range f.Descriptors {
		if err := f.Descriptors[i].validate(); err != nil {
			return nil, err
		}
	}
	return f.Descriptors, nil
}

// LoadFile reads descriptors from a YAML file.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("platform: read %s: %w", path, err)
	}
	return DecodeYAML(bytes.NewReader(data))
}
