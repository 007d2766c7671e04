package tool

import (
	"github.com/spf13/cobra"

	"github.com/alpacahq/streamarchive/cmd/tool/merge"
	"github.com/alpacahq/streamarchive/cmd/tool/recordings"
	"github.com/alpacahq/streamarchive/cmd/tool/segments"
)

const (
	toolUsage     = "tool"
	toolShortDesc = "Executes tools as subcommands"
	toolLongDesc  = "This command executes the specified tool against an archive directory or a running archive"
	toolExample   = "streamarchive tool segments --dir <path> [flags]"
)

var (
	// Cmd is the tool command.
	Cmd = &cobra.Command{
		Use:        toolUsage,
		Short:      toolShortDesc,
		Long:       toolLongDesc,
		Aliases:    []string{"t"},
		SuggestFor: []string{"segments", "merge", "recordings"},
		Example:    toolExample,
	}
)

func init() {
	Cmd.AddCommand(segments.Cmd)
	Cmd.AddCommand(merge.Cmd)
	Cmd.AddCommand(recordings.Cmd)
}
