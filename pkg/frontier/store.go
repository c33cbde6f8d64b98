package frontier

// Store is the seen-URL set every worker consults before dispatching a
// fetch. MarkURLSeen is an atomic check-and-insert: the first call for
// a given normalized URL returns added=true and claims it, every later
// call returns added=false. Implementations must be safe for concurrent
// use by all workers of a crawl.
type Store interface {
	MarkURLSeen(normalizedURL string) (added bool, err error)
	Close() error
}
