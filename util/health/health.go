// Package health aggregates liveness and readiness checks into a single JSON report.
package health

import (
	"context"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

// CheckFunc reports an http status, a human readable message and an optional error.
// checkLiveness is true when only liveness (not readiness) is requested.
type CheckFunc func(ctx context.Context, checkLiveness bool) (int, string, error)

type Check struct {
	Name  string
	Check CheckFunc
}

type dependency struct {
	Resource     string                `json:"resource"`
	Status       int                   `json:"status"`
	Error        string                `json:"error,omitempty"`
	Message      string                `json:"message,omitempty"`
	Dependencies []jsoniter.RawMessage `json:"dependencies,omitempty"`
}

type report struct {
	Status       int          `json:"status"`
	Dependencies []dependency `json:"dependencies"`
}

// CheckAll runs every check in order. The overall status is 503 if any check fails.
// A message that is itself a JSON object is nested as a dependency.
func CheckAll(ctx context.Context, checkLiveness bool, checks []Check) (int, string, error) {
	r := report{
		Status:       http.StatusOK,
		Dependencies: make([]dependency, 0, len(checks)),
	}

	for _, check := range checks {
		status, message, err := check.Check(ctx, checkLiveness)
		if err != nil || status != http.StatusOK {
			r.Status = http.StatusServiceUnavailable
		}

		dep := dependency{
			Resource: check.Name,
			Status:   status,
		}

		if err != nil {
			dep.Error = err.Error()
		}

		if len(message) > 1 && message[0] == '{' && message[len(message)-1] == '}' && jsoniter.Valid([]byte(message)) {
			dep.Dependencies = []jsoniter.RawMessage{jsoniter.RawMessage(message)}
		} else {
			dep.Message = message
		}

		r.Dependencies = append(r.Dependencies, dep)
	}

	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(r)
	if err != nil {
		return http.StatusInternalServerError, "", err
	}

	return r.Status, string(b), nil
}

// CheckFlag turns a boolean probe into a check. The probe is only consulted for readiness;
// liveness always succeeds.
func CheckFlag(upMessage, downMessage string, probe func() bool) CheckFunc {
	return func(_ context.Context, checkLiveness bool) (int, string, error) {
		if checkLiveness || probe() {
			return http.StatusOK, upMessage, nil
		}

		return http.StatusServiceUnavailable, downMessage, nil
	}
}
