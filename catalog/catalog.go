// Package catalog keeps the descriptor of every recording in the archive directory.
package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/streamarchive/utils/io"
	"github.com/alpacahq/streamarchive/utils/log"
)

// NullPosition is the stop position of a recording that is still active.
const NullPosition int64 = -1

// FileName is the name of the catalog file under the archive directory.
const FileName = "catalog.dat"

const version = 1

// RecordingDescriptor describes one recording and where its segments live.
type RecordingDescriptor struct {
	RecordingID       int64     `msgpack:"recording_id"`
	StartTimestamp    time.Time `msgpack:"start_timestamp"`
	StopTimestamp     time.Time `msgpack:"stop_timestamp"`
	StartPosition     int64     `msgpack:"start_position"`
	StopPosition      int64     `msgpack:"stop_position"`
	InitialTermID     int32     `msgpack:"initial_term_id"`
	SegmentFileLength int       `msgpack:"segment_file_length"`
	TermBufferLength  int       `msgpack:"term_buffer_length"`
	SessionID         int32     `msgpack:"session_id"`
	StreamID          int32     `msgpack:"stream_id"`
	Channel           string    `msgpack:"channel"`
}

// IsActive is true while the recording has no stop position.
func (d RecordingDescriptor) IsActive() bool {
	return d.StopPosition == NullPosition
}

type catalogFile struct {
	Version         int                    `msgpack:"version"`
	NextRecordingID int64                  `msgpack:"next_recording_id"`
	Recordings      []*RecordingDescriptor `msgpack:"recordings"`
}

// Catalog is the durable set of recording descriptors. Every change is written to a temporary
// file, synced and renamed over the catalog file before the call returns.
type Catalog struct {
	sync.RWMutex

	path            string
	nextRecordingID int64
	recordings      map[int64]*RecordingDescriptor
}

// Open loads the catalog under dir, or starts an empty one if there is none yet.
func Open(dir string) (*Catalog, error) {
	c := &Catalog{
		path:       filepath.Join(dir, FileName),
		recordings: map[int64]*RecordingDescriptor{},
	}
	buf, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		log.Info("creating a new catalog at %s", c.path)
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	var f catalogFile
	if err := msgpack.Unmarshal(buf, &f); err != nil {
		return nil, &ErrCorruptCatalog{filePath: c.path, msg: err.Error()}
	}
	if f.Version != version {
		return nil, &ErrCorruptCatalog{filePath: c.path, msg: "unsupported version " + strconv.Itoa(f.Version)}
	}
	c.nextRecordingID = f.NextRecordingID
	for _, d := range f.Recordings {
		c.recordings[d.RecordingID] = d
	}
	log.Info("loaded %d recordings from %s", len(c.recordings), c.path)
	return c, nil
}

func (c *Catalog) Path() string {
	return c.path
}

// AddNewRecording assigns the next recording id to d and stores it as active.
func (c *Catalog) AddNewRecording(d RecordingDescriptor) (int64, error) {
	c.Lock()
	defer c.Unlock()

	d.RecordingID = c.nextRecordingID
	d.StopPosition = NullPosition
	d.StopTimestamp = time.Time{}
	c.recordings[d.RecordingID] = &d
	c.nextRecordingID++
	if err := c.persist(); err != nil {
		delete(c.recordings, d.RecordingID)
		c.nextRecordingID--
		return 0, err
	}
	return d.RecordingID, nil
}

// RecordingDescriptor returns a copy of the descriptor of recordingID.
func (c *Catalog) RecordingDescriptor(recordingID int64) (RecordingDescriptor, error) {
	c.RLock()
	defer c.RUnlock()

	d, ok := c.recordings[recordingID]
	if !ok {
		return RecordingDescriptor{}, NotFoundError(strconv.FormatInt(recordingID, 10))
	}
	return *d, nil
}

// UpdateStopPosition marks recordingID as stopped at stopPosition.
func (c *Catalog) UpdateStopPosition(recordingID, stopPosition int64, stopTimestamp time.Time) error {
	c.Lock()
	defer c.Unlock()

	d, ok := c.recordings[recordingID]
	if !ok {
		return NotFoundError(strconv.FormatInt(recordingID, 10))
	}
	if !d.IsActive() {
		return AlreadyStoppedError(strconv.FormatInt(recordingID, 10))
	}
	d.StopPosition = stopPosition
	d.StopTimestamp = stopTimestamp
	if err := c.persist(); err != nil {
		d.StopPosition = NullPosition
		d.StopTimestamp = time.Time{}
		return err
	}
	return nil
}

// ListRecordings returns up to count descriptors with ids from fromRecordingID, in id order.
// A count <= 0 lists all of them.
func (c *Catalog) ListRecordings(fromRecordingID int64, count int) []RecordingDescriptor {
	c.RLock()
	defer c.RUnlock()

	ret := make([]RecordingDescriptor, 0, len(c.recordings))
	for id, d := range c.recordings {
		if id >= fromRecordingID {
			ret = append(ret, *d)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].RecordingID < ret[j].RecordingID })
	if count > 0 && len(ret) > count {
		ret = ret[:count]
	}
	return ret
}

// FindLastMatchingRecording returns the highest recording id >= minRecordingID whose channel
// contains channelFragment and whose stream matches. A negative sessionID matches any session.
func (c *Catalog) FindLastMatchingRecording(minRecordingID int64, channelFragment string,
	streamID, sessionID int32,
) (int64, error) {
	c.RLock()
	defer c.RUnlock()

	found := int64(-1)
	for id, d := range c.recordings {
		if id < minRecordingID || id <= found {
			continue
		}
		if d.StreamID != streamID || !strings.Contains(d.Channel, channelFragment) {
			continue
		}
		if sessionID >= 0 && d.SessionID != sessionID {
			continue
		}
		found = id
	}
	if found < 0 {
		return 0, NotFoundError(channelFragment + ":" + strconv.Itoa(int(streamID)))
	}
	return found, nil
}

func (c *Catalog) persist() error {
	f := catalogFile{
		Version:         version,
		NextRecordingID: c.nextRecordingID,
		Recordings:      make([]*RecordingDescriptor, 0, len(c.recordings)),
	}
	for _, d := range c.recordings {
		f.Recordings = append(f.Recordings, d)
	}
	sort.Slice(f.Recordings, func(i, j int) bool {
		return f.Recordings[i].RecordingID < f.Recordings[j].RecordingID
	})

	buf, err := msgpack.Marshal(&f)
	if err != nil {
		return UnableToPersist(err.Error())
	}

	tmp := c.path + ".tmp"
	fp, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return UnableToPersist(err.Error())
	}
	if _, err = fp.Write(buf); err == nil {
		err = fp.Sync()
	}
	if cerr := fp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return UnableToPersist(err.Error())
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return UnableToPersist(err.Error())
	}
	if err := io.SyncDir(filepath.Dir(c.path)); err != nil {
		return UnableToPersist(err.Error())
	}
	return nil
}
