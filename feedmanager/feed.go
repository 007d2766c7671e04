// Package feedmanager runs synthetic feeds: each one owns a publication and offers a sequenced
// message at a fixed interval, giving the archive something to record when no external
// publisher is attached.
package feedmanager

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"time"

	"github.com/alpacahq/streamarchive/transport"
)

type FeedKeyType string

func NewFeedKey(channel string, streamID int32) FeedKeyType {
	hasher := fnv.New64()
	_, _ = io.WriteString(hasher, channel)
	_ = binary.Write(hasher, binary.LittleEndian, streamID)
	return FeedKeyType(base64.URLEncoding.EncodeToString(hasher.Sum(nil)))
}

type Feed struct {
	Key           FeedKeyType
	Publication   *transport.Publication
	MessageLength int
	// Sequence is the number of the next message; it is written in the message's first 8 bytes.
	Sequence uint64
}

// NewFeed adds a publication on channel. MessageLength is clamped to [8, max payload].
func NewFeed(media *transport.Media, channel string, streamID int32, messageLength int) (*Feed, error) {
	pub, err := media.AddPublication(channel, streamID)
	if err != nil {
		return nil, err
	}
	if messageLength < 8 {
		messageLength = 8
	}
	if maxLength := pub.MaxPayloadLength(); messageLength > maxLength {
		messageLength = maxLength
	}
	return &Feed{
		Key:           NewFeedKey(channel, streamID),
		Publication:   pub,
		MessageLength: messageLength,
	}, nil
}

// Offer publishes the next message. It returns false when the message was not accepted and
// must be offered again.
func (fd *Feed) Offer() bool {
	msg := make([]byte, fd.MessageLength)
	binary.LittleEndian.PutUint64(msg, fd.Sequence)
	if fd.Publication.Offer(msg) < 0 {
		return false
	}
	fd.Sequence++
	return true
}

func (fd *Feed) Description(interval time.Duration) string {
	return fmt.Sprintf("%s stream=%d session=%d every %v",
		fd.Publication.Channel(), fd.Publication.StreamID(), fd.Publication.SessionID(), interval)
}

// MessageSequence reads the sequence number written by Offer.
func MessageSequence(payload []byte) uint64 {
	return binary.LittleEndian.Uint64(payload)
}
