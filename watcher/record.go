package watcher

// Op is the kind of change the page script reported.
type Op string

const (
	OpInsert Op = "insert"
	OpRemove Op = "remove"
	OpText   Op = "text"
	OpAttr   Op = "attr"
	// OpShadow reports a newly attached open shadow root.
	OpShadow Op = "shadow"
	// OpNavigate reports a same-document (history API) navigation.
	OpNavigate Op = "navigate"
	// OpScan asks for a locate pass without any observed change.
	OpScan Op = "scan"
)

// Record is one change signal. The page script already drops mutations of
// promptify's own nodes.
type Record struct {
	Op Op `json:"op"`
}
