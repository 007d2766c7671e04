package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/frontend"
	"github.com/alpacahq/streamarchive/frontend/client"
	"github.com/alpacahq/streamarchive/frontend/stream"
	"github.com/alpacahq/streamarchive/transport"
)

const (
	channel  = "localhost:31338"
	streamID = 9
)

func TestClient(t *testing.T) {
	t.Parallel()

	// --- given ---
	dir := t.TempDir()
	media, err := transport.NewMedia(64 * 1024)
	require.Nil(t, err)
	pub, err := media.AddPublication(channel, streamID)
	require.Nil(t, err)
	cat, err := catalog.Open(dir)
	require.Nil(t, err)
	hub := stream.NewHub()
	defer hub.Close()
	a, err := archive.New(context.Background(), media, cat, archive.Config{
		ArchiveDir:        dir,
		SegmentFileLength: 128 * 1024,
		SparseFiles:       true,
	}, hub)
	require.Nil(t, err)
	defer a.Close()

	serv, err := frontend.NewServer(frontend.NewArchiveService(a, cat, a.Positions()))
	require.Nil(t, err)
	mux := http.NewServeMux()
	mux.Handle("/rpc", serv)
	mux.Handle("/ws", hub)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cl, err := client.NewClient(srv.URL)
	require.Nil(t, err)
	ctx := context.Background()

	events := make(chan archive.RecordingEvent, 10)
	cancel := make(chan struct{})
	done, err := cl.Subscribe(func(_ string, ev archive.RecordingEvent) error {
		events <- ev
		return nil
	}, cancel, "recording/*/started", "recording/*/stopped")
	require.Nil(t, err)

	// --- when ---
	id, err := cl.StartRecording(ctx, channel, streamID)
	require.Nil(t, err)
	_, err = cl.StartRecording(ctx, channel, streamID)
	assert.NotNil(t, err, "already recorded")

	for i := 0; i < 10; i++ {
		require.Greater(t, pub.Offer([]byte("hello")), int64(0))
	}
	_, err = a.DoWork()
	require.Nil(t, err)

	recordings, err := cl.ListRecordings(ctx, 0, 0)
	require.Nil(t, err)
	found, err := cl.FindLastMatchingRecording(ctx, &frontend.FindRecordingArgs{
		ChannelFragment: "31338", StreamID: streamID, SessionID: -1,
	})
	require.Nil(t, err)
	require.Nil(t, cl.StopRecording(ctx, id))
	_, err = cl.StartReplay(ctx, &frontend.StartReplayArgs{RecordingID: id + 1, ReplayEndpoint: "localhost:0",
		StreamID: streamID})

	// --- then ---
	assert.NotNil(t, err, "unknown recording")
	require.Len(t, recordings, 1)
	assert.Equal(t, id, recordings[0].RecordingID)
	assert.True(t, recordings[0].Active)
	assert.Equal(t, pub.Position(), recordings[0].Position)
	assert.Equal(t, id, found.RecordingID)

	for _, want := range []archive.RecordingEventType{archive.RecordingStarted, archive.RecordingStopped} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.Type)
			assert.Equal(t, id, ev.RecordingID)
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s event", want)
		}
	}
	d, err := cat.RecordingDescriptor(id)
	require.Nil(t, err)
	assert.Equal(t, pub.Position(), d.StopPosition)

	close(cancel)
	<-done
}
