// Package transport is an in-process media layer with the delivery semantics the archive and the
// replay merge rely on: position addressed frames, multi-destination subscriptions whose images
// de-duplicate overlapping ranges, and window based flow control.
//
// It does no networking, retransmission or congestion control.
package transport

import (
	"fmt"
	"math/bits"

	"github.com/alpacahq/streamarchive/utils/io"
)

const (
	// HeaderLength is the length of the data frame header that precedes every payload.
	HeaderLength = 32
	// FrameAlignment is the alignment of each frame start within a stream.
	FrameAlignment = 32

	MinTermLength = 64 * 1024
	MaxTermLength = 1024 * 1024 * 1024

	frameLengthOffset = 0
	flagsOffset       = 4
	typeOffset        = 6
	termOffsetOffset  = 8
	sessionIDOffset   = 12
	streamIDOffset    = 16
	termIDOffset      = 20
	reservedOffset    = 24
)

// Frame types.
const (
	TypePad  uint16 = 0
	TypeData uint16 = 1
)

const unfragmented = 0xC0

// Align rounds length up to the next FrameAlignment boundary.
func Align(length int) int {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

func FrameLength(buf []byte, offset int) int {
	return int(io.ToInt32(buf[offset+frameLengthOffset:]))
}

func FrameType(buf []byte, offset int) uint16 {
	return io.ToUInt16(buf[offset+typeOffset:])
}

func FrameSessionID(buf []byte, offset int) int32 {
	return io.ToInt32(buf[offset+sessionIDOffset:])
}

func FrameStreamID(buf []byte, offset int) int32 {
	return io.ToInt32(buf[offset+streamIDOffset:])
}

func FrameTermID(buf []byte, offset int) int32 {
	return io.ToInt32(buf[offset+termIDOffset:])
}

func FrameTermOffset(buf []byte, offset int) int {
	return int(io.ToInt32(buf[offset+termOffsetOffset:]))
}

func IsPaddingFrame(buf []byte, offset int) bool {
	return FrameType(buf, offset) == TypePad
}

type frameHeader struct {
	frameLength int
	frameType   uint16
	termOffset  int
	sessionID   int32
	streamID    int32
	termID      int32
}

func (h frameHeader) write(buf []byte) {
	io.PutInt32(buf[frameLengthOffset:], int32(h.frameLength))
	buf[flagsOffset] = unfragmented
	io.PutUInt16(buf[typeOffset:], h.frameType)
	io.PutInt32(buf[termOffsetOffset:], int32(h.termOffset))
	io.PutInt32(buf[sessionIDOffset:], h.sessionID)
	io.PutInt32(buf[streamIDOffset:], h.streamID)
	io.PutInt32(buf[termIDOffset:], h.termID)
	io.PutInt64(buf[reservedOffset:], 0)
}

// ValidateTermLength checks that termLength is a power of two within the supported range.
func ValidateTermLength(termLength int) error {
	if termLength < MinTermLength || termLength > MaxTermLength {
		return fmt.Errorf("term length %d out of range [%d, %d]", termLength, MinTermLength, MaxTermLength)
	}
	if termLength&(termLength-1) != 0 {
		return fmt.Errorf("term length %d is not a power of two", termLength)
	}
	return nil
}

// PositionBitsToShift returns log2(termLength).
func PositionBitsToShift(termLength int) int {
	return bits.TrailingZeros(uint(termLength))
}

// ComputePosition converts a term id and offset into an absolute stream position.
func ComputePosition(termID int32, termOffset, positionBitsToShift int, initialTermID int32) int64 {
	termCount := int64(termID - initialTermID)
	return termCount<<positionBitsToShift + int64(termOffset)
}

func ComputeTermID(position int64, positionBitsToShift int, initialTermID int32) int32 {
	return int32(position>>positionBitsToShift) + initialTermID
}

func ComputeTermOffset(position int64, positionBitsToShift int) int {
	mask := int64(1)<<positionBitsToShift - 1
	return int(position & mask)
}
