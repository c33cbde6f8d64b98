package models

// WorkItem represents a URL queued for fetching, together with the
// origin that discovered it and the scope deciding how its response
// is handled
type WorkItem struct {
	URL    string    // normalized URL to fetch
	Origin string    // path of the discovering page, or "start_<url>" for seeds
	Scope  LinkScope // seed/internal pages expand; external pages are status-checked only
	Depth  int
}

// VisitRecord is one line of the visits log
type VisitRecord struct {
	URL string `json:"url"`
}

// LinkErrorRecord is one line of an origin's error log
type LinkErrorRecord struct {
	Link   string `json:"link"`
	Status string `json:"status"`
}
