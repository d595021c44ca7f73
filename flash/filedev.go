package flash

import (
	"fmt"
	"os"
)

// FileDevice adapts a regular file to the Device interface so host-side
// tools can apply patches to firmware image files in place. Erase fills the
// covered sectors with ErasedByte; the file size is fixed at open time.
type FileDevice struct {
	f      *os.File
	size   int64
	sector int64
}

// OpenFileDevice opens path read-write as a flash device with the given
// sector size. The file size must be a positive multiple of sectorSize.
func OpenFileDevice(path string, sectorSize int64) (*FileDevice, error) {
	if sectorSize <= 0 {
		return nil, fmt.Errorf("filedev: sector size must be positive, got %d", sectorSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("filedev: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filedev: %w", err)
	}
	if info.Size() <= 0 || info.Size()%sectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("filedev: file size %d is not a positive multiple of sector size %d",
			info.Size(), sectorSize)
	}
	return &FileDevice{f: f, size: info.Size(), sector: sectorSize}, nil
}

// SectorSize returns the erase-block size in bytes.
func (d *FileDevice) SectorSize() int64 { return d.sector }

// Size returns the device size in bytes.
func (d *FileDevice) Size() int64 { return d.size }

// ReadAt implements Device.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, NewRangeError(d.f.Name(), "read", off, int64(len(p)), d.size)
	}
	return d.f.ReadAt(p, off)
}

// WriteAt implements Device.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, NewRangeError(d.f.Name(), "write", off, int64(len(p)), d.size)
	}
	return d.f.WriteAt(p, off)
}

// Erase implements Device by filling the covered sectors with ErasedByte.
func (d *FileDevice) Erase(off, length int64) error {
	if off < 0 || length < 0 || off+length > d.size {
		return NewRangeError(d.f.Name(), "erase", off, length, d.size)
	}
	start := off / d.sector * d.sector
	end := AlignUp(off+length, d.sector)
	if end > d.size {
		end = d.size
	}
	blank := make([]byte, d.sector)
	for i := range blank {
		blank[i] = ErasedByte
	}
	for pos := start; pos < end; pos += d.sector {
		if _, err := d.f.WriteAt(blank, pos); err != nil {
			return fmt.Errorf("filedev erase@%d: %w", pos, err)
		}
	}
	return nil
}

// Close syncs and closes the underlying file.
func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
