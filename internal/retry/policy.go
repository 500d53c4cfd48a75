package retry

import (
	"math"
	"net/http"
	"strings"
	"time"
)

// Policy describes when and how often a request is retried.
type Policy struct {
	// Total bounds every retry, whatever its cause.
	Total int
	// Connect bounds retries caused by connection-level failures.
	Connect int
	// BackoffFactor is the delay before the first retry; it doubles on each retry.
	BackoffFactor time.Duration
	// MaxBackoff caps a single delay. Zero leaves delays uncapped.
	MaxBackoff time.Duration
	// StatusForcelist lists response codes that trigger a retry.
	StatusForcelist []int
	// MethodWhitelist restricts retries to these methods. Empty means all methods.
	MethodWhitelist []string
	// Prefixes are the URL prefixes the policy is mounted on.
	Prefixes []string
}

// DefaultPolicy returns the policy used for all Osiris traffic.
func DefaultPolicy() Policy {
	return Policy{
		Total:         10,
		Connect:       10,
		BackoffFactor: 5 * time.Second,
		StatusForcelist: []int{
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusGatewayTimeout,
		},
		Prefixes: []string{"http://", "https://"},
	}
}

// Backoff returns the delay before retry n, counting from 1.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.BackoffFactor <= 0 {
		return 0
	}
	// Saturate instead of wrapping around int64.
	delay := time.Duration(math.MaxInt64)
	if shift := n - 1; shift < 63 && p.BackoffFactor <= time.Duration(math.MaxInt64>>shift) {
		delay = p.BackoffFactor << shift
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Mounted reports whether the policy applies to url.
func (p Policy) Mounted(url string) bool {
	lower := strings.ToLower(url)
	for _, prefix := range p.Prefixes {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// MethodAllowed reports whether requests with method may be retried.
func (p Policy) MethodAllowed(method string) bool {
	if len(p.MethodWhitelist) == 0 {
		return true
	}
	for _, m := range p.MethodWhitelist {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// RetryStatus reports whether code is in the status forcelist.
func (p Policy) RetryStatus(code int) bool {
	for _, c := range p.StatusForcelist {
		if c == code {
			return true
		}
	}
	return false
}
