package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"link-auditor/pkg/utils"
)

// Normalized statuses recorded alongside a failing link. HTTP failures
// carry their exact code and are formatted by StatusForCode.
const (
	StatusDNSLookupError = "error DNSLookupError"
	StatusTimeoutError   = "error TimeoutError"
	StatusUnknownError   = "error Unknown"
)

// StatusForCode formats the status for a request rejected with an HTTP
// error response (the error-callback path).
func StatusForCode(code int) string {
	return fmt.Sprintf("error %d", code)
}

// StatusForResponse formats the status for a delivered response whose
// body was not parseable text and whose code was not 200.
func StatusForResponse(code int) string {
	return fmt.Sprintf("status %d", code)
}

// FailureStatus maps a fetch failure to its normalized record status.
// It walks the wrapped error chain, so the retry sentinel and
// url.Error layers are transparent. DNS errors are checked before
// generic timeouts: a resolver timeout still counts as a lookup
// failure, not a request timeout.
func FailureStatus(err error) string {
	if err == nil {
		return StatusUnknownError
	}

	var statusErr *utils.HTTPStatusError
	if errors.As(err, &statusErr) {
		return StatusForCode(statusErr.StatusCode)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(err.Error(), "no such host") {
		return StatusDNSLookupError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeoutError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeoutError
	}

	return StatusUnknownError
}
