package frontend_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/streamarchive/frontend"
	"github.com/alpacahq/streamarchive/utils"
)

// not parallel: toggles the package level Ready flag
func TestHeartbeat(t *testing.T) {
	startTime := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	frontend.NewUtilityAPIHandlers(startTime).Handle(mux)

	tests := map[string]struct {
		ready      bool
		wantStatus string
		wantCode   int
	}{
		"not ready": {ready: false, wantStatus: "not ready", wantCode: http.StatusServiceUnavailable},
		"ready":     {ready: true, wantStatus: "ready", wantCode: http.StatusOK},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			// --- given ---
			frontend.Ready.Store(tt.ready)
			defer frontend.Ready.Store(false)
			rec := httptest.NewRecorder()

			// --- when ---
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/heartbeat", nil))

			// --- then ---
			hm := frontend.HeartbeatMessage{}
			require.Nil(t, json.NewDecoder(rec.Body).Decode(&hm))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, hm.Status)
			assert.Equal(t, utils.Tag, hm.Version)
			assert.NotEmpty(t, hm.Uptime)
		})
	}
}
