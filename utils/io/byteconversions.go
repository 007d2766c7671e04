package io

import "encoding/binary"

// Frame headers and catalog records are little endian on disk regardless of the host.

func ToInt32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

func ToUInt16(b []byte) uint16 {
	return binary.LittleEndian.Uint16(b)
}

func ToInt64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}

func PutInt32(b []byte, v int32) {
	binary.LittleEndian.PutUint32(b, uint32(v))
}

func PutUInt16(b []byte, v uint16) {
	binary.LittleEndian.PutUint16(b, v)
}

func PutInt64(b []byte, v int64) {
	binary.LittleEndian.PutUint64(b, uint64(v))
}
