// Package classify decides which side of the site boundary a discovered
// URL falls on and maps fetch failures to normalized record statuses.
package classify

import (
	"net/url"
	"strings"

	"link-auditor/pkg/models"
)

// DomainSet is an immutable, case-insensitive set of allow-domains
type DomainSet struct {
	domains []string
}

// NewDomainSet builds a DomainSet from configured domain strings.
// Entries are lowercased and trimmed; empty entries are dropped.
func NewDomainSet(domains []string) *DomainSet {
	ds := &DomainSet{domains: make([]string, 0, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			ds.domains = append(ds.domains, d)
		}
	}
	return ds
}

// Matches reports whether host belongs to the set, either exactly or
// as a subdomain of an entry. Matching is case-insensitive in both
// directions and ignores ports (callers pass a bare hostname).
func (ds *DomainSet) Matches(host string) bool {
	if host == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, d := range ds.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Len returns the number of domains in the set
func (ds *DomainSet) Len() int {
	return len(ds.domains)
}

// Classify determines whether u is an internal or an external link.
// A URL with no host component is always external; the function never
// fails, so a malformed link cannot abort the traversal.
func Classify(u *url.URL, set *DomainSet) models.LinkScope {
	if u == nil {
		return models.ScopeExternal
	}
	if set.Matches(u.Hostname()) {
		return models.ScopeInternal
	}
	return models.ScopeExternal
}

// HasExcludedPrefix reports whether rawURL starts with any configured
// exclusion prefix. Prefixes are matched against the full URL string;
// empty entries never match.
func HasExcludedPrefix(rawURL string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(rawURL, p) {
			return true
		}
	}
	return false
}
