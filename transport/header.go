package transport

// FragmentHandler receives one data frame payload. buf[offset:offset+length] is the payload;
// the header describes the frame it came from. buf must not be retained after the call.
type FragmentHandler func(buf []byte, offset, length int, header *Header)

// BlockHandler receives a run of complete frames, buf[offset:offset+length], all belonging to
// the term identified by termID.
type BlockHandler func(buf []byte, offset, length int, sessionID, termID int32) error

// Header is a view over the frame currently being delivered to a FragmentHandler.
type Header struct {
	buf         []byte
	offset      int
	position    int64
	frameLength int
}

func (h *Header) FrameLength() int {
	return h.frameLength
}

func (h *Header) SessionID() int32 {
	return FrameSessionID(h.buf, h.offset)
}

func (h *Header) StreamID() int32 {
	return FrameStreamID(h.buf, h.offset)
}

func (h *Header) TermID() int32 {
	return FrameTermID(h.buf, h.offset)
}

func (h *Header) TermOffset() int {
	return FrameTermOffset(h.buf, h.offset)
}

// Position is the stream position just after this frame, i.e. the position a consumer has
// reached once the fragment is handled.
func (h *Header) Position() int64 {
	return h.position + int64(Align(h.frameLength))
}
