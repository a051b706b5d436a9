package models

// StrategySource records which strategy produced an ExtractionResult.
type StrategySource string

const (
	// SourceCached marks a result replayed from the result cache.
	SourceCached StrategySource = "cached"
	// SourceExhausted marks a terminal zero after every strategy was tried.
	SourceExhausted StrategySource = "exhausted"
	// SourceNone is used when the pipeline failed before any strategy answered.
	SourceNone StrategySource = ""
)

// ErrorKind classifies why an extraction failed.
type ErrorKind string

const (
	ErrorNone          ErrorKind = ""
	ErrorInvalidTarget ErrorKind = "invalid_target"
	ErrorFetchTimeout  ErrorKind = "fetch_timeout"
	ErrorFetchNetwork  ErrorKind = "fetch_network"
	ErrorHTTPStatus    ErrorKind = "http_status"
)

// ExtractionResult is the terminal answer for one target.
//
// A nil Count with no Error is a valid "not found" state. Exhausted chains
// report Count 0 with SourceExhausted.
type ExtractionResult struct {
	Count          *int           `json:"count"`
	StrategySource StrategySource `json:"source"`
	RawEvidence    string         `json:"rawEvidence,omitempty"`
	Error          ErrorKind      `json:"error,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
}

// Failed reports whether the result carries an error.
func (r ExtractionResult) Failed() bool {
	return r.Error != ErrorNone
}

// CountValue returns the count or zero when absent.
func (r ExtractionResult) CountValue() int {
	if r.Count == nil {
		return 0
	}
	return *r.Count
}

// IntPtr is a small helper for building results.
func IntPtr(n int) *int {
	return &n
}
