package transport

import "sync"

// DestinationStatus reports what a single source has delivered into an image.
type DestinationStatus struct {
	Connected bool
	// JoinPosition is the first stream position this source delivers.
	JoinPosition int64
	// Position is the end of the furthest frame received from this source.
	Position int64
	Frames   int64
}

type transportState struct {
	joinPosition int64
	position     int64
	frames       int64
}

type fragment struct {
	offset      int
	frameLength int
	position    int64
}

// Image is the consumer side view of one publisher session on a subscription. Any number of
// sources (transports) may feed it; frames are placed by stream position, so a range delivered
// twice is only seen once and a source running ahead is held back until the gap is filled.
//
// Poll and BlockPoll must be called from a single goroutine.
type Image struct {
	mu sync.Mutex

	sessionID           int32
	streamID            int32
	initialTermID       int32
	termLength          int
	positionBitsToShift int
	joinPosition        int64

	// buf holds the contiguous stream from base up to the rebuild position.
	base     int64
	buf      []byte
	position int64
	pending  map[int64][]byte

	transports map[int64]*transportState
	eos        bool
	closed     bool

	scratch []fragment
}

func newImage(sessionID, streamID, initialTermID int32, termLength int, joinPosition int64) *Image {
	return &Image{
		sessionID:           sessionID,
		streamID:            streamID,
		initialTermID:       initialTermID,
		termLength:          termLength,
		positionBitsToShift: PositionBitsToShift(termLength),
		joinPosition:        joinPosition,
		base:                joinPosition,
		position:            joinPosition,
		pending:             map[int64][]byte{},
		transports:          map[int64]*transportState{},
	}
}

func (img *Image) SessionID() int32 {
	return img.sessionID
}

func (img *Image) StreamID() int32 {
	return img.streamID
}

func (img *Image) InitialTermID() int32 {
	return img.initialTermID
}

func (img *Image) TermBufferLength() int {
	return img.termLength
}

func (img *Image) JoinPosition() int64 {
	return img.joinPosition
}

// Position is the consumed position of the image.
func (img *Image) Position() int64 {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.position
}

// RebuildPosition is the end of the contiguous data received so far.
func (img *Image) RebuildPosition() int64 {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.base + int64(len(img.buf))
}

// IsClosed is true once the image was closed by its subscription, or once every source has
// gone away and the remaining data has been consumed.
func (img *Image) IsClosed() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.closed || (img.eos && img.position >= img.base+int64(len(img.buf)))
}

// ended is true once the image can receive no more data.
func (img *Image) ended() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.closed || img.eos
}

func (img *Image) ActiveTransportCount() int {
	img.mu.Lock()
	defer img.mu.Unlock()
	return len(img.transports)
}

func (img *Image) addTransport(id, joinPosition int64) {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.transports[id] = &transportState{joinPosition: joinPosition, position: joinPosition}
}

func (img *Image) removeTransport(id int64) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if _, ok := img.transports[id]; !ok {
		return
	}
	delete(img.transports, id)
	if len(img.transports) == 0 {
		img.eos = true
	}
}

func (img *Image) transportStatus(id int64) DestinationStatus {
	img.mu.Lock()
	defer img.mu.Unlock()
	ts, ok := img.transports[id]
	if !ok {
		return DestinationStatus{}
	}
	return DestinationStatus{
		Connected:    true,
		JoinPosition: ts.joinPosition,
		Position:     ts.position,
		Frames:       ts.frames,
	}
}

func (img *Image) close() {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.closed = true
	img.transports = map[int64]*transportState{}
	img.pending = map[int64][]byte{}
}

// insert places frame at position on behalf of source id. The frame is not modified but may be
// retained, so callers must not reuse it.
func (img *Image) insert(id, position int64, frame []byte) bool {
	img.mu.Lock()
	defer img.mu.Unlock()

	ts, ok := img.transports[id]
	if !ok || img.closed || img.eos {
		return false
	}
	end := position + int64(len(frame))
	ts.frames++
	if end > ts.position {
		ts.position = end
	}

	rebuild := img.base + int64(len(img.buf))
	switch {
	case end <= rebuild:
		// already rebuilt from another source
	case position > rebuild:
		if _, exists := img.pending[position]; !exists {
			img.pending[position] = frame
		}
	default:
		img.buf = append(img.buf, frame[rebuild-position:]...)
		img.drainPending()
	}
	return true
}

func (img *Image) drainPending() {
	for progressed := true; progressed; {
		progressed = false
		rebuild := img.base + int64(len(img.buf))
		for pos, frame := range img.pending {
			end := pos + int64(len(frame))
			if end <= rebuild {
				delete(img.pending, pos)
				continue
			}
			if pos <= rebuild {
				img.buf = append(img.buf, frame[rebuild-pos:]...)
				delete(img.pending, pos)
				progressed = true
				break
			}
		}
	}
}

// Poll delivers up to fragmentLimit data frames to handler and returns how many were delivered.
// Padding frames are skipped without counting.
func (img *Image) Poll(handler FragmentHandler, fragmentLimit int) int {
	img.mu.Lock()
	if img.closed {
		img.mu.Unlock()
		return 0
	}
	buf, base := img.buf, img.base
	offset := int(img.position - base)
	frags := img.scratch[:0]
	for offset < len(buf) && len(frags) < fragmentLimit {
		frameLength := FrameLength(buf, offset)
		if frameLength <= 0 {
			break
		}
		if !IsPaddingFrame(buf, offset) {
			frags = append(frags, fragment{
				offset:      offset,
				frameLength: frameLength,
				position:    base + int64(offset),
			})
		}
		offset += Align(frameLength)
	}
	img.mu.Unlock()

	header := &Header{buf: buf}
	for _, f := range frags {
		header.offset = f.offset
		header.position = f.position
		header.frameLength = f.frameLength
		handler(buf, f.offset+HeaderLength, f.frameLength-HeaderLength, header)
	}

	img.mu.Lock()
	img.scratch = frags
	img.position = base + int64(offset)
	img.compact()
	img.mu.Unlock()

	return len(frags)
}

// BlockPoll hands a run of complete frames, never crossing a term boundary, to handler. The
// image only advances when handler succeeds; the returned count is in bytes.
func (img *Image) BlockPoll(handler BlockHandler, blockLengthLimit int) (int, error) {
	img.mu.Lock()
	if img.closed {
		img.mu.Unlock()
		return 0, nil
	}
	buf, start := img.buf, img.position
	offset := int(start - img.base)
	limit := img.termLength - ComputeTermOffset(start, img.positionBitsToShift)
	if blockLengthLimit < limit {
		limit = blockLengthLimit
	}
	end := offset
	for end < len(buf) {
		frameLength := FrameLength(buf, end)
		if frameLength <= 0 {
			break
		}
		aligned := Align(frameLength)
		if end-offset+aligned > limit {
			break
		}
		end += aligned
	}
	img.mu.Unlock()

	length := end - offset
	if length == 0 {
		return 0, nil
	}

	termID := ComputeTermID(start, img.positionBitsToShift, img.initialTermID)
	if err := handler(buf, offset, length, img.sessionID, termID); err != nil {
		return 0, err
	}

	img.mu.Lock()
	img.position = start + int64(length)
	img.compact()
	img.mu.Unlock()

	return length, nil
}

// compact drops consumed bytes once a full term has been read past them.
func (img *Image) compact() {
	consumed := int(img.position - img.base)
	if consumed < img.termLength {
		return
	}
	img.buf = append([]byte(nil), img.buf[consumed:]...)
	img.base = img.position
}
