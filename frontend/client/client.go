// Package client talks to a running archive: control calls over msgpack RPC and recording
// events over the websocket stream.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/frontend"
	"github.com/alpacahq/streamarchive/frontend/stream"
	"github.com/alpacahq/streamarchive/utils/log"
	"github.com/alpacahq/streamarchive/utils/rpc/msgpack2"
)

const subscribeTimeout = 10 * time.Second

type Client struct {
	BaseURL string
	http    *http.Client
}

// NewClient intializes a new archive RPC client.
func NewClient(baseurl string) (cl *Client, err error) {
	if _, err = url.Parse(baseurl); err != nil {
		return nil, err
	}
	return &Client{BaseURL: strings.TrimSuffix(baseurl, "/"), http: &http.Client{}}, nil
}

// DoRPC calls ArchiveService.<functionName> and decodes the result into reply.
func (cl *Client) DoRPC(ctx context.Context, functionName string, args, reply interface{}) error {
	if args == nil {
		return fmt.Errorf("args must be non-nil - have: args: %v", args)
	}
	return msgpack2.Call(ctx, cl.http, cl.BaseURL+"/rpc", "ArchiveService."+functionName, args, reply)
}

func (cl *Client) ListRecordings(ctx context.Context, from int64, count int) ([]frontend.RecordingInfo, error) {
	resp := &frontend.ListRecordingsResponse{}
	err := cl.DoRPC(ctx, "ListRecordings", &frontend.ListRecordingsArgs{FromRecordingID: from, Count: count}, resp)
	return resp.Recordings, err
}

func (cl *Client) FindLastMatchingRecording(ctx context.Context, args *frontend.FindRecordingArgs,
) (frontend.RecordingInfo, error) {
	resp := &frontend.RecordingResponse{}
	err := cl.DoRPC(ctx, "FindLastMatchingRecording", args, resp)
	return resp.Recording, err
}

func (cl *Client) StartRecording(ctx context.Context, channel string, streamID int32) (int64, error) {
	resp := &frontend.RecordingIDResponse{}
	err := cl.DoRPC(ctx, "StartRecording", &frontend.StartRecordingArgs{Channel: channel, StreamID: streamID}, resp)
	return resp.RecordingID, err
}

func (cl *Client) StopRecording(ctx context.Context, recordingID int64) error {
	return cl.DoRPC(ctx, "StopRecording", &frontend.RecordingIDArgs{RecordingID: recordingID},
		&frontend.RecordingIDResponse{})
}

func (cl *Client) StartReplay(ctx context.Context, args *frontend.StartReplayArgs) (int64, error) {
	resp := &frontend.ReplayResponse{}
	err := cl.DoRPC(ctx, "StartReplay", args, resp)
	return resp.ReplaySessionID, err
}

func (cl *Client) StopReplay(ctx context.Context, replaySessionID int64) error {
	return cl.DoRPC(ctx, "StopReplay", &frontend.StopReplayArgs{ReplaySessionID: replaySessionID},
		&frontend.ReplayResponse{})
}

// EventHandler receives one recording event from the stream.
type EventHandler func(key string, ev archive.RecordingEvent) error

type eventPayload struct {
	Key  string                 `msgpack:"key"`
	Data archive.RecordingEvent `msgpack:"data"`
}

// Subscribe to the archive's websocket interface with an event handler, a set of streams
// ("recording/<id|*>/<type|*>") and a cancel channel. done is closed once the stream ends.
func (cl *Client) Subscribe(
	handler EventHandler,
	cancel <-chan struct{},
	streams ...string) (done <-chan struct{}, err error) {
	u, err := url.Parse(cl.BaseURL + "/ws")
	if err != nil {
		return nil, err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()

	buf, err := msgpack.Marshal(stream.SubscribeMessage{Streams: streams})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err = conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		conn.Close()
		return nil, err
	}

	// make sure subscription succeeded
	if err = conn.SetReadDeadline(time.Now().Add(subscribeTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	if _, buf, err = conn.ReadMessage(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream subscribe failed (%w)", err)
	}
	subRespMsg := &stream.SubscribeMessage{}
	if err = msgpack.Unmarshal(buf, subRespMsg); err != nil || !streamsEqual(streams, subRespMsg.Streams) {
		conn.Close()
		errMsg := &stream.ErrorMessage{}
		if msgpack.Unmarshal(buf, errMsg) == nil && errMsg.Error != "" {
			return nil, fmt.Errorf("stream subscribe failed (%s)", errMsg.Error)
		}
		return nil, fmt.Errorf("stream subscribe failed")
	}
	_ = conn.SetReadDeadline(time.Time{})

	return streamConn(conn, handler, cancel), nil
}

func streamConn(c *websocket.Conn, handler EventHandler, cancel <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	bufC := read(c, done)

	go func() {
		defer close(done)
		defer c.Close()
		for {
			select {
			case buf, ok := <-bufC:
				if !ok {
					return
				}
				pl := eventPayload{}
				if err := msgpack.Unmarshal(buf, &pl); err != nil {
					log.Error("error unmarshaling stream message (%v)", err)
					continue
				}
				if err := handler(pl.Key, pl.Data); err != nil {
					log.Error("error handling stream message (%v)", err)
				}
			case <-cancel:
				return
			}
		}
	}()

	return done
}

func read(c *websocket.Conn, done <-chan struct{}) chan []byte {
	bufC := make(chan []byte, 1)
	go func() {
		defer close(bufC)
		for {
			msgType, buf, err := c.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) &&
					!strings.Contains(err.Error(), "use of closed network connection") {
					log.Error("unexpected websocket closure (%v)", err)
				}
				return
			}
			switch msgType {
			case websocket.TextMessage, websocket.BinaryMessage:
				select {
				case bufC <- buf:
				case <-done:
					return
				}
			case websocket.CloseMessage:
				return
			}
		}
	}()
	return bufC
}

func streamsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if !strings.EqualFold(v, b[i]) {
			return false
		}
	}
	return true
}
