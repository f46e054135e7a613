// Package checks defines the check record and typed, write-serialized access
// to the "checks" collection of a store.Store.
package checks

import "strings"

// Collection is the store collection holding check documents.
const Collection = "checks"

type State string

const (
	StateUp   State = "up"
	StateDown State = "down"
)

type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

type Method string

const (
	MethodGet    Method = "get"
	MethodPost   Method = "post"
	MethodPut    Method = "put"
	MethodDelete Method = "delete"
)

// Check is a monitored endpoint and its success criteria.
type Check struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"ownerId"`
	Protocol       Protocol `json:"protocol"`
	URL            string   `json:"url"`
	Method         Method   `json:"method"`
	SuccessCodes   []int    `json:"successCodes"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
	State          State    `json:"state"`
	// LastCheckedAt is epoch milliseconds of the last completed run, nil before the first.
	LastCheckedAt *int64 `json:"lastCheckedAt,omitempty"`
}

// HasPriorRun reports whether the engine has recorded at least one outcome.
func (c Check) HasPriorRun() bool { return c.LastCheckedAt != nil }

// Target is the probe URL, e.g. "https://example.com/health".
func (c Check) Target() string {
	return string(c.Protocol) + "://" + c.URL
}

// HTTPMethod is the upper-cased request method.
func (c Check) HTTPMethod() string { return strings.ToUpper(string(c.Method)) }

// Accepts reports whether code is one of the success codes.
func (c Check) Accepts(code int) bool {
	for _, sc := range c.SuccessCodes {
		if sc == code {
			return true
		}
	}
	return false
}

func (c Check) clone() Check {
	out := c
	out.SuccessCodes = append([]int(nil), c.SuccessCodes...)
	if c.LastCheckedAt != nil {
		v := *c.LastCheckedAt
		out.LastCheckedAt = &v
	}
	return out
}
