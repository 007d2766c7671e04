package frontend

import (
	"net/http"

	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/utils/log"
)

type ListRecordingsArgs struct {
	FromRecordingID int64 `msgpack:"from_recording_id" json:"from_recording_id"`
	// Count <= 0 lists every recording from FromRecordingID on.
	Count int `msgpack:"count" json:"count"`
}

// RecordingInfo is a recording descriptor plus the recording's position right now.
type RecordingInfo struct {
	catalog.RecordingDescriptor
	Position int64 `msgpack:"position" json:"position"`
	Active   bool  `msgpack:"active" json:"active"`
}

type ListRecordingsResponse struct {
	Recordings []RecordingInfo `msgpack:"recordings" json:"recordings"`
}

func (s *ArchiveService) ListRecordings(_ *http.Request, args *ListRecordingsArgs,
	response *ListRecordingsResponse,
) error {
	if args == nil {
		return argsNilError
	}
	for _, d := range s.catalog.ListRecordings(args.FromRecordingID, args.Count) {
		response.Recordings = append(response.Recordings, s.info(d))
	}
	return nil
}

func (s *ArchiveService) info(d catalog.RecordingDescriptor) RecordingInfo {
	ri := RecordingInfo{RecordingDescriptor: d, Position: d.StopPosition}
	if pos, active := s.positions.RecordingPosition(d.RecordingID); active {
		ri.Position, ri.Active = pos, true
	}
	return ri
}

type FindRecordingArgs struct {
	MinRecordingID  int64  `msgpack:"min_recording_id" json:"min_recording_id"`
	ChannelFragment string `msgpack:"channel_fragment" json:"channel_fragment"`
	StreamID        int32  `msgpack:"stream_id" json:"stream_id"`
	// SessionID < 0 matches any session.
	SessionID int32 `msgpack:"session_id" json:"session_id"`
}

type RecordingResponse struct {
	Recording RecordingInfo `msgpack:"recording" json:"recording"`
}

// FindLastMatchingRecording returns the newest recording matching args.
func (s *ArchiveService) FindLastMatchingRecording(_ *http.Request, args *FindRecordingArgs,
	response *RecordingResponse,
) error {
	if args == nil {
		return argsNilError
	}
	id, err := s.catalog.FindLastMatchingRecording(args.MinRecordingID, args.ChannelFragment, args.StreamID,
		args.SessionID)
	if err != nil {
		return err
	}
	d, err := s.catalog.RecordingDescriptor(id)
	if err != nil {
		return err
	}
	response.Recording = s.info(d)
	return nil
}

type StartRecordingArgs struct {
	Channel  string `msgpack:"channel" json:"channel"`
	StreamID int32  `msgpack:"stream_id" json:"stream_id"`
}

type RecordingIDResponse struct {
	RecordingID int64 `msgpack:"recording_id" json:"recording_id"`
}

func (s *ArchiveService) StartRecording(_ *http.Request, args *StartRecordingArgs,
	response *RecordingIDResponse,
) error {
	if args == nil {
		return argsNilError
	}
	id, err := s.archive.StartRecording(args.Channel, args.StreamID)
	if err != nil {
		log.Error("failed to start recording %s/%d: %v", args.Channel, args.StreamID, err)
		return err
	}
	response.RecordingID = id
	return nil
}

type RecordingIDArgs struct {
	RecordingID int64 `msgpack:"recording_id" json:"recording_id"`
}

func (s *ArchiveService) StopRecording(_ *http.Request, args *RecordingIDArgs,
	response *RecordingIDResponse,
) error {
	if args == nil {
		return argsNilError
	}
	if err := s.archive.StopRecording(args.RecordingID); err != nil {
		return err
	}
	response.RecordingID = args.RecordingID
	return nil
}

type StartReplayArgs struct {
	RecordingID    int64  `msgpack:"recording_id" json:"recording_id"`
	Position       int64  `msgpack:"position" json:"position"`
	Length         int64  `msgpack:"length" json:"length"`
	ReplayEndpoint string `msgpack:"replay_endpoint" json:"replay_endpoint"`
	StreamID       int32  `msgpack:"stream_id" json:"stream_id"`
}

type ReplayResponse struct {
	ReplaySessionID int64 `msgpack:"replay_session_id" json:"replay_session_id"`
}

func (s *ArchiveService) StartReplay(_ *http.Request, args *StartReplayArgs, response *ReplayResponse) error {
	if args == nil {
		return argsNilError
	}
	id, err := s.archive.StartReplay(args.RecordingID, args.Position, args.Length, args.ReplayEndpoint,
		args.StreamID)
	if err != nil {
		return err
	}
	response.ReplaySessionID = id
	return nil
}

type StopReplayArgs struct {
	ReplaySessionID int64 `msgpack:"replay_session_id" json:"replay_session_id"`
}

func (s *ArchiveService) StopReplay(_ *http.Request, args *StopReplayArgs, response *ReplayResponse) error {
	if args == nil {
		return argsNilError
	}
	if err := s.archive.StopReplay(args.ReplaySessionID); err != nil {
		return err
	}
	response.ReplaySessionID = args.ReplaySessionID
	return nil
}
