// Package segment names, finds and reads the fixed-size files a recording is stored in.
//
// A recording with start position S and segment length L is laid out from the base position
// S rounded down to a multiple of L. Segment i holds stream positions [base+i*L, base+(i+1)*L)
// at the file offset equal to the position minus the segment's first position.
package segment

import (
	"fmt"
	"strconv"
	"strings"
)

// Ext is the file extension of every segment file.
const Ext = ".rec"

// FileName returns the segment file name for index i of recordingID.
func FileName(recordingID int64, index int) string {
	return fmt.Sprintf("%d-%d%s", recordingID, index, Ext)
}

// ParseFileName is the inverse of FileName. ok is false for names not produced by FileName.
func ParseFileName(name string) (recordingID int64, index int, ok bool) {
	if !strings.HasSuffix(name, Ext) {
		return 0, 0, false
	}
	parts := strings.Split(strings.TrimSuffix(name, Ext), "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id < 0 {
		return 0, 0, false
	}
	i, err := strconv.Atoi(parts[1])
	if err != nil || i < 0 {
		return 0, 0, false
	}
	return id, i, true
}

// BasePosition is the stream position at offset 0 of segment 0.
func BasePosition(startPosition int64, segmentLength int) int64 {
	return startPosition - startPosition%int64(segmentLength)
}

// Index returns the segment holding position.
func Index(startPosition, position int64, segmentLength int) int {
	return int((position - BasePosition(startPosition, segmentLength)) / int64(segmentLength))
}

// Offset returns the offset of position within its segment.
func Offset(startPosition, position int64, segmentLength int) int {
	return int((position - BasePosition(startPosition, segmentLength)) % int64(segmentLength))
}
