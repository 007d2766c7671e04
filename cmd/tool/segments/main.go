package segments

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/alpacahq/streamarchive/archive/segment"
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/transport"
)

const (
	usage   = "segments"
	short   = "List, verify and dump the segment files of recordings"
	long    = "This command lists the recordings of an archive directory with their segment files, checks each segment's size and can dump the frames of a recording"
	example = "streamarchive tool segments --dir <path> --recording 3 --dump"

	// Flag descriptions.
	dirDesc       = "set filesystem path of the archive directory"
	recordingDesc = "limit the output to one recording id, negative for all"
	dumpDesc      = "print every frame header of the selected recordings"
)

var (
	// Available flags.
	dir         string
	recordingID int64
	dump        bool

	// Cmd is the segments command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"seg"},
		Example: example,
		RunE:    executeSegments,
	}
)

func init() {
	// Parse flags.
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", dirDesc)
	_ = Cmd.MarkFlagRequired("dir")
	Cmd.Flags().Int64VarP(&recordingID, "recording", "r", -1, recordingDesc)
	Cmd.Flags().BoolVar(&dump, "dump", false, dumpDesc)
}

func executeSegments(cmd *cobra.Command, _ []string) error {
	dir = filepath.Clean(dir)
	cat, err := catalog.Open(dir)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	invalid := 0
	for _, d := range cat.ListRecordings(0, 0) {
		if recordingID >= 0 && d.RecordingID != recordingID {
			continue
		}
		n, err := report(cmd.OutOrStdout(), dir, d)
		if err != nil {
			return err
		}
		invalid += n
	}
	if invalid > 0 {
		return fmt.Errorf("%d segment files have an unexpected size", invalid)
	}
	return nil
}

// report prints d and its segments and returns the number of segments whose size differs from
// the recording's segment file length.
func report(w io.Writer, dir string, d catalog.RecordingDescriptor) (int, error) {
	stop := "active"
	if !d.IsActive() {
		stop = fmt.Sprint(d.StopPosition)
	}
	fmt.Fprintf(w, "recording %d: %s stream=%d session=%d start=%d stop=%s segment=%s term=%s\n",
		d.RecordingID, d.Channel, d.StreamID, d.SessionID, d.StartPosition, stop,
		bytefmt.ByteSize(uint64(d.SegmentFileLength)), bytefmt.ByteSize(uint64(d.TermBufferLength)))

	files, err := segment.NewFinder(os.ReadDir).Find(dir, d.RecordingID)
	if err != nil {
		return 0, err
	}
	invalid := 0
	for _, f := range files {
		status := "ok"
		if f.Size != int64(d.SegmentFileLength) {
			status = "UNEXPECTED SIZE"
			invalid++
		}
		fmt.Fprintf(w, "  %s %s %s\n", filepath.Base(f.Path), bytefmt.ByteSize(uint64(f.Size)), status)
	}

	if dump && len(files) > 0 {
		dumpFrames(w, dir, d)
	}
	return invalid, nil
}

// dumpFrames walks the frames from the start of the recording until its stop position or the
// first byte range that does not hold a valid frame.
func dumpFrames(w io.Writer, dir string, d catalog.RecordingDescriptor) {
	reader := segment.NewReader(dir, d.RecordingID, d.StartPosition, d.SegmentFileLength)
	defer reader.Close()

	bitsToShift := transport.PositionBitsToShift(d.TermBufferLength)
	header := make([]byte, transport.HeaderLength)
	position := d.StartPosition
	frames := 0
	for d.IsActive() || position < d.StopPosition {
		n, err := reader.ReadAt(header, position)
		if err != nil || n < transport.HeaderLength {
			break
		}
		frameLength := transport.FrameLength(header, 0)
		termOffset := transport.ComputeTermOffset(position, bitsToShift)
		if frameLength < transport.HeaderLength || transport.FrameTermOffset(header, 0) != termOffset ||
			termOffset+transport.Align(frameLength) > d.TermBufferLength {
			break
		}
		kind := "data"
		if transport.IsPaddingFrame(header, 0) {
			kind = "pad"
		}
		fmt.Fprintf(w, "    %d: %s length=%d term=%d offset=%d\n", position, kind, frameLength,
			transport.FrameTermID(header, 0), termOffset)
		position += int64(transport.Align(frameLength))
		frames++
	}
	fmt.Fprintf(w, "  %d frames, end position %d\n", frames, position)
}
