// Package frontend serves the archive's control API: a JSON-RPC 2.0 service over HTTP,
// accepting JSON or msgpack bodies, plus the heartbeat endpoint.
package frontend

import (
	"context"
	"errors"
	"net/http"
	"time"

	rpc "github.com/alpacahq/rpc/rpc2"
	"github.com/alpacahq/rpc/rpc2/json2"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/metrics"
	"github.com/alpacahq/streamarchive/utils"
	"github.com/alpacahq/streamarchive/utils/log"
	"github.com/alpacahq/streamarchive/utils/rpc/msgpack2"
)

var argsNilError = errors.New("arguments are nil, can not serve nil arguments")

// ArchiveControl is the part of the archive the control service drives.
type ArchiveControl interface {
	StartRecording(channel string, streamID int32) (int64, error)
	StopRecording(recordingID int64) error
	StartReplay(recordingID, position, length int64, replayEndpoint string, streamID int32) (int64, error)
	StopReplay(replaySessionID int64) error
}

type ArchiveService struct {
	archive   ArchiveControl
	catalog   *catalog.Catalog
	positions archive.PositionSource
}

func NewArchiveService(a ArchiveControl, cat *catalog.Catalog, positions archive.PositionSource) *ArchiveService {
	return &ArchiveService{
		archive:   a,
		catalog:   cat,
		positions: positions,
	}
}

type RpcServer struct {
	*rpc.Server
}

func (s *RpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	w.Header().Set("streamarchive-version", utils.GitHash)
	s.Server.ServeHTTP(w, r)
	metrics.RPCTotalRequestDuration.Observe(time.Since(start).Seconds())
}

func NewServer(service *ArchiveService) (*RpcServer, error) {
	s := &RpcServer{
		Server: rpc.NewServer(),
	}
	s.RegisterCodec(json2.NewCodec(), "application/json")
	s.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	s.RegisterCodec(msgpack2.NewCodec(), msgpack2.ContentType)
	s.RegisterInterceptFunc(intercept)
	s.RegisterAfterFunc(after)
	if err := s.RegisterService(service, ""); err != nil {
		log.Error("Failed to register service - Error: %v", err)
		return nil, err
	}
	return s, nil
}

type key int

const startTimeKey key = 0

func intercept(i *rpc.RequestInfo) *http.Request {
	return i.Request.WithContext(context.WithValue(i.Request.Context(), startTimeKey, time.Now()))
}

func after(i *rpc.RequestInfo) {
	if i.Error != nil {
		return
	}
	v := i.Request.Context().Value(startTimeKey)
	if v == nil {
		log.Error("start time not set on context")
		return
	}
	t, ok := v.(time.Time)
	if !ok {
		log.Error("start time not correct type")
		return
	}

	metrics.RPCSuccessfulRequestDuration.WithLabelValues(i.Method).Observe(time.Since(t).Seconds())
}
