package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	compressName string
	sectorSize   int64
)

var rootCmd = &cobra.Command{
	Use:   "nanopatch",
	Short: "Create and apply in-place firmware deltas",
	Long: `nanopatch creates binary deltas between firmware images and applies
them in place, the way the on-device engine rewrites the application
partition during an OTA update. Image files stand in for flash
partitions, so host-side tooling and CI can exercise the exact update
path a device will take.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&compressName, "compress", "none", "Patch payload compression: none, zstd, lz4 or xz")
	rootCmd.PersistentFlags().Int64Var(&sectorSize, "sector-size", 4096, "Flash erase-block size in bytes")
}
