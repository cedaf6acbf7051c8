package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// CheckHTTPServer probes a GET endpoint, e.g. the node's wRPC JSON listener or a remote health path.
func CheckHTTPServer(address string, healthPath string) CheckFunc {
	return func(ctx context.Context, checkLiveness bool) (int, string, error) {
		client := &http.Client{
			Timeout: 2 * time.Second,
		}

		url := address + healthPath
		if len(address) > 0 && len(healthPath) > 0 && address[len(address)-1] == '/' && healthPath[0] == '/' {
			url = address + healthPath[1:]
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return http.StatusServiceUnavailable, "invalid health url " + url, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return http.StatusServiceUnavailable, address + " not accepting connections", err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return http.StatusOK, address + " is up", nil
		}

		return http.StatusServiceUnavailable, fmt.Sprintf("%s returned status %d", address, resp.StatusCode), nil
	}
}
