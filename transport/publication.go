package transport

import (
	"sync"
)

// Offer results. A positive value is the new publication position.
const (
	NotConnected       int64 = -1
	BackPressured      int64 = -2
	Closed             int64 = -4
	MaxMessageExceeded int64 = -5
)

// Publication appends frames to a stream and delivers them to every attached image. It cannot
// run further ahead of its slowest consumer than its window.
type Publication struct {
	mu sync.Mutex

	media               *Media
	channel             string
	streamID            int32
	sessionID           int32
	initialTermID       int32
	termLength          int
	positionBitsToShift int
	windowLength        int64

	position  int64
	consumers map[int64]*Image
	closed    bool
}

func (p *Publication) Channel() string {
	return p.channel
}

func (p *Publication) StreamID() int32 {
	return p.streamID
}

func (p *Publication) SessionID() int32 {
	return p.sessionID
}

func (p *Publication) InitialTermID() int32 {
	return p.initialTermID
}

func (p *Publication) TermBufferLength() int {
	return p.termLength
}

// MaxPayloadLength is the largest payload a single Offer accepts.
func (p *Publication) MaxPayloadLength() int {
	return p.termLength/8 - HeaderLength
}

func (p *Publication) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *Publication) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && len(p.consumers) > 0
}

// Offer appends payload as one frame. It returns the new position, or one of NotConnected,
// BackPressured, Closed and MaxMessageExceeded.
func (p *Publication) Offer(payload []byte) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Closed
	}
	if len(payload) > p.MaxPayloadLength() {
		return MaxMessageExceeded
	}
	p.pruneClosedConsumers()
	if len(p.consumers) == 0 {
		return NotConnected
	}

	frameLength := HeaderLength + len(payload)
	alignedLength := Align(frameLength)
	termOffset := ComputeTermOffset(p.position, p.positionBitsToShift)
	padding := 0
	if termOffset+alignedLength > p.termLength {
		padding = p.termLength - termOffset
	}

	if p.position+int64(padding+alignedLength) > p.limit() {
		return BackPressured
	}

	if padding > 0 {
		pad := make([]byte, padding)
		p.header(padding, TypePad).write(pad)
		p.deliver(pad)
	}

	frame := make([]byte, alignedLength)
	p.header(frameLength, TypeData).write(frame)
	copy(frame[HeaderLength:], payload)
	p.deliver(frame)

	return p.position
}

func (p *Publication) header(frameLength int, frameType uint16) frameHeader {
	return frameHeader{
		frameLength: frameLength,
		frameType:   frameType,
		termOffset:  ComputeTermOffset(p.position, p.positionBitsToShift),
		sessionID:   p.sessionID,
		streamID:    p.streamID,
		termID:      ComputeTermID(p.position, p.positionBitsToShift, p.initialTermID),
	}
}

func (p *Publication) deliver(frame []byte) {
	for id, img := range p.consumers {
		img.insert(id, p.position, frame)
	}
	p.position += int64(len(frame))
}

func (p *Publication) limit() int64 {
	minPosition := p.position
	for _, img := range p.consumers {
		if pos := img.Position(); pos < minPosition {
			minPosition = pos
		}
	}
	return minPosition + p.windowLength
}

func (p *Publication) pruneClosedConsumers() {
	for id, img := range p.consumers {
		if img.IsClosed() {
			delete(p.consumers, id)
		}
	}
}

// attach connects sub to this publication. The image joins at the current position.
func (p *Publication) attach(sub *Subscription) (int64, *Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, ErrClosed
	}
	img, err := sub.imageFor(p.sessionID, p.streamID, p.initialTermID, p.termLength, p.position)
	if err != nil {
		return 0, nil, err
	}
	id := p.media.nextTransportID()
	img.addTransport(id, p.position)
	p.consumers[id] = img
	return id, img, nil
}

func (p *Publication) detach(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if img, ok := p.consumers[id]; ok {
		delete(p.consumers, id)
		img.removeTransport(id)
	}
}

// Close ends the stream for every attached image.
func (p *Publication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for id, img := range p.consumers {
		img.removeTransport(id)
	}
	p.consumers = map[int64]*Image{}
	p.media.removePublication(p)
	return nil
}
