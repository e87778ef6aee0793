package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kata-ci/staticbuild/internal/executor"
	"github.com/kata-ci/staticbuild/internal/logfields"
)

// statusResponse is the JSON shape of GET /status.
type statusResponse struct {
	State   string         `json:"state"`
	LastRun *runSummary    `json:"last_run,omitempty"`
	Assets  []assetSummary `json:"assets,omitempty"`
}

type runSummary struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Tarball    string `json:"tarball,omitempty"`
}

type assetSummary struct {
	Asset      string `json:"asset"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (d *Daemon) startHTTP() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /status", d.handleStatus)
	if d.Options.MetricsHandler != nil {
		mux.Handle("GET /metrics", d.Options.MetricsHandler)
	}

	d.httpSrv = &http.Server{
		Addr:              d.Options.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.workers.Go(func() {
		slog.Info("HTTP server listening", logfields.Path(d.Options.ListenAddr))
		if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", logfields.Error(err))
		}
	})
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{State: "idle"}
	if last := d.LastResult(); last != nil {
		resp.LastRun = &runSummary{
			RunID:      last.RunID,
			Status:     string(last.Status),
			DurationMS: last.Duration.Milliseconds(),
		}
		if last.Tarball != nil {
			resp.LastRun.Tarball = last.Tarball.Path
		}
		for _, o := range last.Outcomes {
			s := assetSummary{Asset: o.Asset, Status: string(o.Status), DurationMS: o.Duration.Milliseconds()}
			if o.Err != nil {
				s.Error = o.Err.Error()
			}
			if o.Status != executor.TaskSucceeded {
				resp.State = "degraded"
			}
			resp.Assets = append(resp.Assets, s)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", logfields.Error(err))
	}
}
