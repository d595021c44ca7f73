package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/cheggaaa/pb"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/embedfw/nanopatch"
	"github.com/embedfw/nanopatch/delta"
	"github.com/embedfw/nanopatch/flash"
)

var applyBufferSize int64

var applyCmd = &cobra.Command{
	Use:   "apply <image> <patch>",
	Short: "Apply a patch to a firmware image in place",
	Long: `Apply a patch to an image file in place, rewriting it the way the
on-device engine rewrites the application partition. The file is grown
(erased, 0xFF) to the next sector boundary if the new image is larger
than the old one.

Examples:
  nanopatch apply app.bin v1-to-v2.patch
  nanopatch apply app.bin v1-to-v2.patch --compress zstd --buffer-size 65536`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		compression, err := nanopatch.ParseCompression(compressName)
		if err != nil {
			return err
		}

		payload, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading patch: %w", err)
		}

		raw, closeRaw, err := compression.NewReader(bytes.NewReader(payload))
		if err != nil {
			return err
		}
		_, newLen, err := delta.Sizes(raw)
		closeRaw()
		if err != nil {
			return fmt.Errorf("reading patch header: %w", err)
		}

		if err := growImage(args[0], newLen); err != nil {
			return err
		}

		dev, err := flash.OpenFileDevice(args[0], sectorSize)
		if err != nil {
			return err
		}
		defer dev.Close()
		image, err := flash.NewPartition("image", dev, 0, dev.Size())
		if err != nil {
			return err
		}

		patchPart, err := patchPartition(payload)
		if err != nil {
			return err
		}

		bar := pb.New(100)
		bar.ShowTimeLeft = false
		bar.Start()

		err = nanopatch.Apply(context.Background(), image,
			nanopatch.PatchWindow{Part: patchPart, Offset: 0, Length: int64(len(payload))},
			newLen,
			nanopatch.WithRAMBuffer(applyBufferSize),
			nanopatch.WithCompression(compression),
			nanopatch.WithProgress(func(percent int) { bar.Set(percent) }),
		)
		bar.Finish()
		if err != nil {
			return err
		}

		color.Green("Patched %s in place, new image is %s", args[0], humanize.Bytes(uint64(newLen)))
		return nil
	},
}

// growImage pads the file with erased bytes up to the sector boundary
// covering newLen, so the new image fits the simulated partition.
func growImage(path string, newLen int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	want := flash.AlignUp(newLen, sectorSize)
	if s := flash.AlignUp(info.Size(), sectorSize); s > want {
		want = s
	}
	if info.Size() >= want {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	pad := make([]byte, want-info.Size())
	for i := range pad {
		pad[i] = flash.ErasedByte
	}
	if _, err := f.Write(pad); err != nil {
		return fmt.Errorf("growing image: %w", err)
	}
	return nil
}

// patchPartition stages the patch payload in a memory device so the engine
// reads it through the same partition interface a device would.
func patchPartition(payload []byte) (*flash.Partition, error) {
	size := flash.AlignUp(int64(len(payload)), sectorSize)
	dev, err := flash.NewMemDevice(size, sectorSize)
	if err != nil {
		return nil, err
	}
	if _, err := dev.WriteAt(payload, 0); err != nil {
		return nil, err
	}
	return flash.NewPartition("patch", dev, 0, size)
}

func init() {
	applyCmd.Flags().Int64Var(&applyBufferSize, "buffer-size", 65536, "Commit buffer capacity in bytes (multiple of sector size)")
	rootCmd.AddCommand(applyCmd)
}
