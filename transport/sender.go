package transport

import "sync"

// Sender feeds frames that already carry stream positions, such as those read back from a
// recording, into the image on a receive endpoint.
type Sender struct {
	mu sync.Mutex

	id           int64
	endpoint     string
	sub          *Subscription
	image        *Image
	position     int64
	windowLength int64
	closed       bool
}

func (s *Sender) Endpoint() string {
	return s.endpoint
}

// Position is the end of the last frame sent.
func (s *Sender) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// IsConnected is false once the receive destination went away or the image closed.
func (s *Sender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.image.IsClosed() {
		return false
	}
	return s.image.transportStatus(s.id).Connected
}

// Send delivers frames, a run of aligned frames starting at the sender's position. It returns
// the new position, or NotConnected, BackPressured or Closed.
func (s *Sender) Send(frames []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Closed
	}
	if s.position+int64(len(frames)) > s.image.Position()+s.windowLength {
		return BackPressured
	}
	frame := append([]byte(nil), frames...)
	if !s.image.insert(s.id, s.position, frame) {
		return NotConnected
	}
	s.position += int64(len(frame))
	return s.position
}

// Close ends this sender's contribution to the image.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.sub.detachSender(s.endpoint, s.id)
	return nil
}
