// Package jsengine runs untrusted buyer and seller JavaScript. The rest of
// the service only depends on the Executor interface; the goja implementation
// below is the production engine and tests swap in fakes.
package jsengine

import (
	"context"
	"encoding/json"
	"time"
)

// Beacon is one registerAdBeacon(key, uri) call captured from a reporting
// script. Beacons are recorded in call order.
type Beacon struct {
	Key string
	URI string
}

// Response is the structured output of one script invocation.
type Response struct {
	// Result is the JSON-encoded return value of the invoked function.
	Result json.RawMessage
	// Beacons are the beacon registrations made during execution.
	Beacons []Beacon
}

// Executor invokes a named function inside an isolated script runtime.
//
// Implementations must be safe for concurrent use. Each call gets a fresh
// runtime: scripts cannot observe state from earlier executions.
type Executor interface {
	// Execute defines the functions in source, then calls functionName with
	// the given JSON arguments. The call is bounded by timeout; exceeding it
	// returns an *errortypes.Timeout. Script throw/parse failures return an
	// ordinary error.
	Execute(ctx context.Context, functionName, source string, args []json.RawMessage, timeout time.Duration) (*Response, error)
}
