package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const readyCheckTimeout = 2 * time.Second

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type readyReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// runChecks runs every check concurrently and reports per-check results.
func runChecks(ctx context.Context, checks []ReadyCheck) (map[string]string, bool) {
	results := make(map[string]string, len(checks))
	healthy := true
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, check := range checks {
		if check.Check == nil {
			continue
		}
		name := check.Name
		if name == "" {
			name = fmt.Sprintf("dependency_%d", i)
		}
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
			defer cancel()
			result := "ok"
			if err := fn(cctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = result
			if result != "ok" {
				healthy = false
			}
		}(name, check.Check)
	}
	wg.Wait()
	return results, healthy
}

func writeReport(w http.ResponseWriter, status int, report readyReport) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}

// NewBaseMuxWithReady returns a mux serving /healthz (process liveness) and
// /readyz (dependency checks, 503 when any fails).
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, http.StatusOK, readyReport{Status: "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		results, healthy := runChecks(r.Context(), checks)
		if !healthy {
			writeReport(w, http.StatusServiceUnavailable, readyReport{Status: "unavailable", Checks: results})
			return
		}
		writeReport(w, http.StatusOK, readyReport{Status: "ready", Checks: results})
	})
	return mux
}
