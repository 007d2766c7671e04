package recordings

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alpacahq/streamarchive/archive"
	"github.com/alpacahq/streamarchive/frontend/client"
)

const (
	usage   = "recordings"
	short   = "List the recordings of a running archive"
	long    = "This command lists the recordings of a running archive and can follow their events"
	example = "streamarchive tool recordings --url http://localhost:5993 --follow 'recording/*/*'"

	urlDesc    = "set the base URL of the archive"
	followDesc = "after listing, print recording events matching these streams until interrupted"
)

var (
	baseURL string
	follow  []string

	// Cmd is the recordings command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"rec"},
		Example: example,
		RunE:    executeRecordings,
	}
)

func init() {
	Cmd.Flags().StringVarP(&baseURL, "url", "u", "http://localhost:5993", urlDesc)
	Cmd.Flags().StringSliceVarP(&follow, "follow", "f", nil, followDesc)
}

func executeRecordings(cmd *cobra.Command, _ []string) error {
	cl, err := client.NewClient(baseURL)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	w := cmd.OutOrStdout()
	recs, err := cl.ListRecordings(context.Background(), 0, 0)
	if err != nil {
		return err
	}
	for _, r := range recs {
		state := "stopped"
		if r.Active {
			state = "active"
		}
		fmt.Fprintf(w, "%d\t%s\tstream=%d\tsession=%d\tstart=%d\tposition=%d\t%s\n",
			r.RecordingID, r.Channel, r.StreamID, r.SessionID, r.StartPosition, r.Position, state)
	}
	if len(follow) == 0 {
		return nil
	}

	cancel := make(chan struct{})
	done, err := cl.Subscribe(func(key string, ev archive.RecordingEvent) error {
		_, err := fmt.Fprintf(w, "%s\tposition=%d\n", key, ev.Position)
		return err
	}, cancel, follow...)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		close(cancel)
		<-done
	case <-done:
	}
	return nil
}
