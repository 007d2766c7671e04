package frontend

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/atomic"

	"github.com/alpacahq/streamarchive/utils"
	"github.com/alpacahq/streamarchive/utils/log"
)

// Ready is set once the archive has recovered its catalog and accepts control requests.
var Ready = atomic.NewBool(false)

type HeartbeatMessage struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	GitHash string `json:"git_hash"`
	Uptime  string `json:"uptime"`
}

// Heartbeat reports readiness and uptime since startTime.
func Heartbeat(startTime time.Time) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		msg := HeartbeatMessage{
			Status:  "ready",
			Version: utils.Tag,
			GitHash: utils.GitHash,
			Uptime:  time.Since(startTime).String(),
		}
		status := http.StatusOK
		if !Ready.Load() {
			msg.Status = "not ready"
			status = http.StatusServiceUnavailable
		}

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		if err := json.NewEncoder(rw).Encode(msg); err != nil {
			log.Error("Failed to write heartbeat message - Error: %v", err)
		}
	}
}
