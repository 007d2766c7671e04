package frontend

import (
	"net/http"
	"net/http/pprof"
	"time"
)

func NewUtilityAPIHandlers(startTime time.Time) *UtilityAPIHandlers {
	return &UtilityAPIHandlers{startTime: startTime}
}

type UtilityAPIHandlers struct {
	startTime time.Time
}

// Handle registers the heartbeat and profiling endpoints on mux.
func (uah *UtilityAPIHandlers) Handle(mux *http.ServeMux) {
	mux.HandleFunc("/heartbeat", Heartbeat(uah.startTime))

	// profiling
	mux.HandleFunc("/pprof/", pprof.Index)
	mux.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/pprof/profile", pprof.Profile)
	mux.HandleFunc("/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/pprof/trace", pprof.Trace)
	mux.Handle("/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/pprof/goroutine", pprof.Handler("goroutine"))
}
