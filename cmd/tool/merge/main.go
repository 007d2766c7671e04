package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/catchup"
	"github.com/alpacahq/streamarchive/transport"
	"github.com/alpacahq/streamarchive/utils/log"
)

const (
	usage   = "merge"
	short   = "Run a publish, record and replay merge scenario"
	long    = "This command publishes a stream, records it, lets a late consumer catch up from the recording while publishing continues, and checks that every message arrives once and in order"
	example = "streamarchive tool merge --messages 10000 --term-length 64K --segment-length 128K"

	// Flag descriptions.
	dirDesc           = "set the archive directory, a temporary one when empty"
	messagesDesc      = "number of messages published before the consumer starts, and again while it catches up"
	termLengthDesc    = "term buffer length, e.g. 64K"
	segmentLengthDesc = "segment file length, e.g. 128K"
	timeoutDesc       = "give up after this long"

	channel        = "localhost:23265"
	replayEndpoint = "localhost:0"
	streamID       = 1033
	messagePrefix  = "Message-Prefix-"
)

var (
	// Available flags.
	dir           string
	messages      int
	termLength    string
	segmentLength string
	timeout       time.Duration

	// Cmd is the merge command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    executeMerge,
	}
)

func init() {
	Cmd.Flags().StringVarP(&dir, "dir", "d", "", dirDesc)
	Cmd.Flags().IntVarP(&messages, "messages", "n", 10000, messagesDesc)
	Cmd.Flags().StringVar(&termLength, "term-length", "64K", termLengthDesc)
	Cmd.Flags().StringVar(&segmentLength, "segment-length", "128K", segmentLengthDesc)
	Cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, timeoutDesc)
}

func executeMerge(cmd *cobra.Command, _ []string) error {
	termLen, err := bytefmt.ToBytes(termLength)
	if err != nil {
		return err
	}
	segmentLen, err := bytefmt.ToBytes(segmentLength)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if dir == "" {
		tmp, err2 := os.MkdirTemp("", "streamarchive-merge-")
		if err2 != nil {
			return err2
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	result, err := Run(ctx, Scenario{
		Dir:           dir,
		Messages:      messages,
		TermLength:    int(termLen),
		SegmentLength: int(segmentLen),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "received %d messages in order up to position %d in %v (%d merge attempts)\n",
		result.Received, result.Position, result.Elapsed, result.Attempts)
	return nil
}

type Scenario struct {
	Dir           string
	Messages      int
	TermLength    int
	SegmentLength int
}

type Result struct {
	Received int
	Position int64
	Elapsed  time.Duration
	Attempts int
}

// Run publishes s.Messages messages while recording them, then starts a consumer from
// position 0 and publishes as many again while it catches up. It fails if any message is
// missing, repeated or out of order.
func Run(ctx context.Context, s Scenario) (Result, error) {
	media, err := transport.NewMedia(s.TermLength)
	if err != nil {
		return Result{}, err
	}
	pub, err := media.AddPublication(channel, streamID)
	if err != nil {
		return Result{}, err
	}
	cat, err := catalog.Open(s.Dir)
	if err != nil {
		return Result{}, err
	}
	a, err := archive.New(ctx, media, cat, archive.Config{
		ArchiveDir:        s.Dir,
		SegmentFileLength: s.SegmentLength,
		SparseFiles:       true,
	}, nil)
	if err != nil {
		return Result{}, err
	}
	defer a.Close()

	recordingID, err := a.StartRecording(channel, streamID)
	if err != nil {
		return Result{}, err
	}
	go a.Run(ctx, 10*time.Microsecond)

	sent := 0
	publish := func(count int) error {
		for target := sent + count; sent < target; {
			if pub.Offer([]byte(fmt.Sprintf("%s%d", messagePrefix, sent))) > 0 {
				sent++
				continue
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("publishing message %d: %w", sent, ctx.Err())
			case <-time.After(10 * time.Microsecond):
			}
		}
		return nil
	}
	if err = publish(s.Messages); err != nil {
		return Result{}, err
	}
	log.Info("published %d messages, recording %d at %d", sent, recordingID, pub.Position())

	var (
		received   int
		outOfOrder error
		attempts   int
	)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	follower := catchup.NewFollower(media.AddSubscription(streamID), &countingArchive{Archive: a, starts: &attempts},
		a.Positions(), catchup.Config{
			ReplayDestination: replayEndpoint,
			LiveDestination:   channel,
			StreamID:          streamID,
			RecordingID:       recordingID,
			IdleSleep:         10 * time.Microsecond,
		}, func(buf []byte, offset, length int, _ *transport.Header) {
			want := fmt.Sprintf("%s%d", messagePrefix, received)
			if got := string(buf[offset : offset+length]); got != want && outOfOrder == nil {
				outOfOrder = fmt.Errorf("message %d: got %q", received, got)
			}
			received++
			if received == 2*s.Messages {
				stop()
			}
		})

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- follower.Run(consumeCtx) }()
	if err = publish(s.Messages); err != nil {
		return Result{}, err
	}
	err = <-done
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("received %d of %d messages: %w", received, 2*s.Messages, ctx.Err())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return Result{}, err
	}
	if outOfOrder != nil {
		return Result{}, outOfOrder
	}
	if follower.Position() != pub.Position() {
		return Result{}, fmt.Errorf("consumer at %d, publication at %d", follower.Position(), pub.Position())
	}
	return Result{Received: received, Position: follower.Position(), Elapsed: time.Since(start),
		Attempts: attempts}, nil
}

// countingArchive counts replay requests, one per merge attempt.
type countingArchive struct {
	*archive.Archive
	starts *int
}

func (c *countingArchive) StartReplay(recordingID, position, length int64, replayEndpoint string, streamID int32,
) (int64, error) {
	*c.starts++
	return c.Archive.StartReplay(recordingID, position, length, replayEndpoint, streamID)
}
