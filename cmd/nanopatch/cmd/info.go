package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/embedfw/nanopatch"
	"github.com/embedfw/nanopatch/delta"
)

var infoCmd = &cobra.Command{
	Use:   "info <patch>",
	Short: "Show what a patch declares about itself",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		compression, err := nanopatch.ParseCompression(compressName)
		if err != nil {
			return err
		}

		payload, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading patch: %w", err)
		}

		raw, closeRaw, err := compression.NewReader(bytes.NewReader(payload))
		if err != nil {
			return err
		}
		oldLen, newLen, err := delta.Sizes(raw)
		closeRaw()
		if err != nil {
			return fmt.Errorf("reading patch header: %w", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendRows([]table.Row{
			{"Patch", args[0]},
			{"Stored size", humanize.Bytes(uint64(len(payload)))},
			{"Compression", compression.String()},
			{"Old image", humanize.Bytes(uint64(oldLen))},
			{"New image", humanize.Bytes(uint64(newLen))},
		})
		if newLen > 0 {
			t.AppendRow(table.Row{"Stored/new ratio",
				fmt.Sprintf("%.1f%%", float64(len(payload))*100/float64(newLen))})
		}
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
