//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := doGet(t, path)
			defer resp.Body.Close()
			expectStatus(t, resp, http.StatusOK)

			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: got %q", ct)
			}
			body := decodeJSON[healthResponse](t, resp)
			if body.Status != "ok" || len(body.Checks) != 0 {
				t.Errorf("health body: got %+v, want ok without failing checks", body)
			}
		})
	}
}

func TestHealthEndpoints_MethodNotAllowed(t *testing.T) {
	resp := do(t, http.MethodPost, "/readyz", "", nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusMethodNotAllowed)
}
