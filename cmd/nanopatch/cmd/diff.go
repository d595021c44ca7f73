package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/embedfw/nanopatch"
	"github.com/embedfw/nanopatch/delta"
)

var diffCmd = &cobra.Command{
	Use:   "diff <old> <new> <patch>",
	Short: "Create a patch from two firmware images",
	Long: `Create an in-place-applicable patch that turns the old image into the
new one.

Examples:
  # Raw delta payload
  nanopatch diff app-v1.bin app-v2.bin v1-to-v2.patch

  # Compressed payload, the way it would be stored in a download partition
  nanopatch diff app-v1.bin app-v2.bin v1-to-v2.patch --compress zstd`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		compression, err := nanopatch.ParseCompression(compressName)
		if err != nil {
			return err
		}

		oldImage, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading old image: %w", err)
		}
		newImage, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading new image: %w", err)
		}

		payload, err := delta.Diff(oldImage, newImage)
		if err != nil {
			return fmt.Errorf("encoding delta: %w", err)
		}

		var out bytes.Buffer
		w, err := compression.NewWriter(&out)
		if err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("compressing payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("compressing payload: %w", err)
		}

		if err := os.WriteFile(args[2], out.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing patch: %w", err)
		}

		color.Green("Wrote %s patch %s (%s of the %s new image)",
			compression, args[2],
			humanize.Bytes(uint64(out.Len())), humanize.Bytes(uint64(len(newImage))))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
