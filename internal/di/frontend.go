package di

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alpacahq/streamarchive/frontend"
	"github.com/alpacahq/streamarchive/frontend/stream"
	"github.com/alpacahq/streamarchive/utils/log"
)

func (c *Container) GetStreamHub() *stream.Hub {
	if c.hub != nil {
		return c.hub
	}
	c.hub = stream.NewHub()
	return c.hub
}

func (c *Container) GetArchiveService() *frontend.ArchiveService {
	if c.service != nil {
		return c.service
	}
	a := c.GetArchive()
	c.service = frontend.NewArchiveService(a, c.GetCatalog(), a.Positions())
	return c.service
}

func (c *Container) GetRPCServer() *frontend.RpcServer {
	if c.rpcServer != nil {
		return c.rpcServer
	}
	s, err := frontend.NewServer(c.GetArchiveService())
	if err != nil {
		log.Error("Unable to create the control server. err=%v", err)
		panic(err)
	}
	c.rpcServer = s
	return c.rpcServer
}

// GetHTTPMux routes /rpc, /ws, /metrics, /heartbeat and /pprof/.
func (c *Container) GetHTTPMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/rpc", c.GetRPCServer())
	mux.Handle("/ws", c.GetStreamHub())
	mux.Handle("/metrics", promhttp.Handler())
	frontend.NewUtilityAPIHandlers(c.GetStartTime()).Handle(mux)
	return mux
}
