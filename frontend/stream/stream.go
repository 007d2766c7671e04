// Package stream pushes recording events to websocket subscribers. A subscriber sends a
// msgpack SubscribeMessage naming glob patterns over "recording/<id>/<event type>" keys and
// receives every matching event as a msgpack Payload.
package stream

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eapache/channels"
	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	msgpack "github.com/vmihailenco/msgpack"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/metrics"
	"github.com/alpacahq/streamarchive/utils/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Catalog maintains the set of active subscribers
type Catalog struct {
	sync.RWMutex
	subs map[*Subscriber]struct{}
}

// Add a new subscriber to the catalog
func (sc *Catalog) Add(sub *Subscriber) {
	sc.Lock()
	defer sc.Unlock()

	sc.subs[sub] = struct{}{}
}

// Remove a subscriber from the catalog
func (sc *Catalog) Remove(sub *Subscriber) {
	sc.Lock()
	defer sc.Unlock()

	delete(sc.subs, sub)
}

func (sc *Catalog) Len() int {
	sc.RLock()
	defer sc.RUnlock()
	return len(sc.subs)
}

// NewCatalog initializes the stream catalog
func NewCatalog() *Catalog {
	return &Catalog{
		subs: map[*Subscriber]struct{}{},
	}
}

// Subscriber includes the connection, and streams to
// manage a given stream client
type Subscriber struct {
	sync.RWMutex
	c       *websocket.Conn
	done    chan struct{}
	streams map[string]glob.Glob
}

// Subscribed matches the subscriber's subscribed streams
// with the supplied recording event key.
func (s *Subscriber) Subscribed(key string) bool {
	s.RLock()
	defer s.RUnlock()
	for _, g := range s.streams {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// SubscribeMessage is an inbound message for the client
// to subscribe to streams
type SubscribeMessage struct {
	Streams []string `msgpack:"streams"`
}

// ErrorMessage is used to report errors when a client
// subscribes to invalid streams
type ErrorMessage struct {
	Error string `msgpack:"error"`
}

func (s *Subscriber) handleOutbound(buf []byte) error {
	// prevents concurrent write to the websocket connection
	s.Lock()
	defer s.Unlock()
	if err := s.c.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.c.WriteMessage(websocket.BinaryMessage, buf)
}

func (s *Subscriber) handleInbound(msg SubscribeMessage) error {
	if len(msg.Streams) > 0 {
		// validate each stream before modifying the subscriber's stream map
		m := map[string]glob.Glob{}
		for _, stream := range msg.Streams {
			if !validStream(stream) {
				return fmt.Errorf("%s is an invalid stream", stream)
			}
			g, err := glob.Compile(stream, '/')
			if err != nil {
				return fmt.Errorf("%s is an invalid stream: %w", stream, err)
			}
			m[stream] = g
		}

		// prevents concurrent read/write of stream map
		s.Lock()
		defer s.Unlock()
		s.streams = m
	}
	return nil
}

var streamPattern = glob.MustCompile("recording/*/*", '/')

func validStream(stream string) bool {
	return streamPattern.Match(stream)
}

func (s *Subscriber) consume(catalog *Catalog) {
	defer func() {
		catalog.Remove(s)
		close(s.done)
	}()

	s.c.SetPongHandler(func(string) error {
		return s.c.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, buf, err := s.c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error("unexpected websocket closure (%v)", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			m := SubscribeMessage{}

			if err = msgpack.Unmarshal(buf, &m); err != nil {
				log.Error("failed to unmarshal inbound stream message (%v)", err)
				continue
			}
			if err := s.handleInbound(m); err != nil {
				buf, _ = msgpack.Marshal(ErrorMessage{Error: err.Error()})
			}
			// the subscribe message is echoed back as the acknowledgement
			if err := s.handleOutbound(buf); err != nil {
				log.Error("failed to send stream message (%v)", err)
			}
		case websocket.CloseMessage:
			return
		}
	}
}

func (s *Subscriber) produce() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Lock()
			_ = s.c.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait))
			s.Unlock()
		case <-s.done:
			return
		}
	}
}

// Payload is used to send data over the websocket
type Payload struct {
	Key  string      `msgpack:"key"`
	Data interface{} `msgpack:"data"`
}

// Key is the stream key of a recording event, "recording/<id>/<event type>".
func Key(ev archive.RecordingEvent) string {
	return fmt.Sprintf("recording/%d/%s", ev.RecordingID, ev.Type)
}

// Hub fans recording events out to websocket subscribers. Events are queued without bound so
// the archive's work loop never waits on a slow client.
type Hub struct {
	catalog *Catalog
	send    *channels.InfiniteChannel

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewHub builds the send channel and starts streaming. Close stops it.
func NewHub() *Hub {
	h := &Hub{
		catalog: NewCatalog(),
		send:    channels.NewInfiniteChannel(),
		done:    make(chan struct{}),
	}
	go h.stream()
	return h
}

// OnRecordingEvent queues ev for every subscriber whose streams match its key.
func (h *Hub) OnRecordingEvent(ev archive.RecordingEvent) {
	h.Push(Key(ev), ev)
}

// Push sends data over the stream interface
func (h *Hub) Push(key string, data interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		metrics.StreamEventsDroppedTotal.Inc()
		return
	}
	h.send.In() <- Payload{Key: key, Data: data}
}

func (h *Hub) stream() {
	defer close(h.done)
	for v := range h.send.Out() {
		if v == nil {
			continue
		}
		payload := v.(Payload)

		buf, err := msgpack.Marshal(payload)
		if err != nil {
			log.Error("failed to marshal outbound stream payload (%v)", err)
			metrics.StreamEventsDroppedTotal.Inc()
			continue
		}

		h.catalog.RLock()
		for s := range h.catalog.subs {
			if s.Subscribed(payload.Key) {
				if err := s.handleOutbound(buf); err != nil {
					log.Error("failed to stream outbound (%s)", err)
					metrics.StreamEventsDroppedTotal.Inc()
				}
			}
		}
		h.catalog.RUnlock()
	}
}

// Subscribers is the number of connected subscribers.
func (h *Hub) Subscribers() int {
	return h.catalog.Len()
}

// ServeHTTP upgrades the connection and registers the new subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// upgrade the socket
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade stream socket (%s)", err)
		return
	}

	// build the subscriber
	s := &Subscriber{
		c:    ws,
		done: make(chan struct{}),
	}
	log.Info("new stream listener: %v", ws.RemoteAddr().String())

	h.catalog.Add(s)

	// begin streaming
	go s.consume(h.catalog)
	go s.produce()
}

// Close delivers what is already queued and stops streaming. Events pushed afterwards are
// dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.send.Close()
	h.mu.Unlock()
	<-h.done
}
