package models

// LinkScope classifies a queued URL's role in the traversal
type LinkScope string

const (
	ScopeUnset    LinkScope = ""         // Zero value = unset/unknown
	ScopeSeed     LinkScope = "seed"     // Configured start URL
	ScopeInternal LinkScope = "internal" // Host matched the allow-domain set
	ScopeExternal LinkScope = "external" // Outside the allow-domain set
)

// String implements fmt.Stringer for logging
func (s LinkScope) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the scope is a known operational value
func (s LinkScope) IsValid() bool {
	switch s {
	case ScopeSeed, ScopeInternal, ScopeExternal:
		return true
	}
	return false
}

// Expands reports whether a successful response for this scope is
// parsed for further links. External pages are fetched for their
// reachability only and never expanded.
func (s LinkScope) Expands() bool {
	return s == ScopeSeed || s == ScopeInternal
}

// PageStatus represents the outcome of one dispatched fetch task
type PageStatus string

const (
	PageStatusUnset   PageStatus = ""        // Zero value = unset/unknown
	PageStatusPending PageStatus = "pending" // Task queued but not processed
	PageStatusSuccess PageStatus = "success" // Response delivered and recorded
	PageStatusFailure PageStatus = "failure" // Failure classified and recorded
	PageStatusSkipped PageStatus = "skipped" // Dropped without a record (robots, redirect duplicate)
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusPending, PageStatusSuccess, PageStatusFailure, PageStatusSkipped:
		return true
	}
	return false
}
