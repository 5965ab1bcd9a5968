package main

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/soccer-diffusion/internal/httputil"
	"github.com/banshee-data/soccer-diffusion/internal/live"
)

type status struct {
	Steps   int64 `json:"steps"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

func schedulerStatus(s *live.Scheduler) status {
	return status{Steps: s.Steps(), Skipped: s.Skipped(), Failed: s.Failed()}
}

// attachStatus lists the inference counters on the debug index and serves
// them as JSON at /debug/live.
func attachStatus(mux *http.ServeMux, s *live.Scheduler) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Inference steps", func() any { return s.Steps() })
	debug.KVFunc("Inference ticks skipped", func() any { return s.Skipped() })
	debug.KVFunc("Inference failures", func() any { return s.Failed() })
	debug.HandleSilentFunc("live", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, schedulerStatus(s))
	})
}
