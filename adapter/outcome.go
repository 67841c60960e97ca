package adapter

import "strings"

// Strategy names one rung of the write ladder.
type Strategy string

const (
	StrategyNone        Strategy = ""
	StrategyNative      Strategy = "native_setter"
	StrategyBeforeInput Strategy = "beforeinput"
	StrategyExecCommand Strategy = "exec_command"
	StrategyPaste       Strategy = "synthetic_paste"
	StrategyDirect      Strategy = "direct_replace"
	StrategyClipboard   Strategy = "clipboard"
)

// Ladder is the fixed order in which strategies are tried.
var Ladder = []Strategy{
	StrategyNative,
	StrategyBeforeInput,
	StrategyExecCommand,
	StrategyPaste,
	StrategyDirect,
	StrategyClipboard,
}

// Status is the overall result of a write.
type Status string

const (
	// Applied means the element now holds the requested text.
	Applied Status = "applied"
	// AppliedWithFallback means every in-page strategy failed but the text
	// was placed on the system clipboard for a manual paste.
	AppliedWithFallback Status = "applied_with_fallback"
	// Failed means the text reached neither the element nor the clipboard.
	Failed Status = "failed"
)

// Result is what happened to one strategy.
type Result string

const (
	// ResultSkipped: the strategy does not apply to this kind of element.
	ResultSkipped Result = "skipped"
	// ResultRejected: the strategy ran but the post-check did not see the text.
	ResultRejected Result = "rejected"
	// ResultErrored: the strategy raised an error.
	ResultErrored Result = "errored"
	// ResultApplied: the post-check saw the text.
	ResultApplied Result = "applied"
)

// Attempt records one rung of the ladder.
type Attempt struct {
	Strategy Strategy `json:"strategy"`
	Result   Result   `json:"result"`
	Err      string   `json:"error,omitempty"`
}

// Outcome is returned by every write. Failures are values, not panics.
type Outcome struct {
	Status   Status    `json:"status"`
	Strategy Strategy  `json:"strategy,omitempty"`
	Attempts []Attempt `json:"attempts,omitempty"`
	Err      error     `json:"-"`
}

// OK reports whether the element holds the text.
func (o Outcome) OK() bool { return o.Status == Applied }

// Tried lists the strategies that actually ran, skipping the ones that did
// not apply.
func (o Outcome) Tried() []Strategy {
	var out []Strategy
	for _, a := range o.Attempts {
		if a.Result != ResultSkipped {
			out = append(out, a.Strategy)
		}
	}
	return out
}

// String renders the attempt chain, e.g. "native_setter:skipped beforeinput:applied".
func (o Outcome) String() string {
	var b strings.Builder
	b.WriteString(string(o.Status))
	for _, a := range o.Attempts {
		b.WriteByte(' ')
		b.WriteString(string(a.Strategy))
		b.WriteByte(':')
		b.WriteString(string(a.Result))
	}
	return b.String()
}
