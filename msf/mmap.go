package msf

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapCloser unmaps the backing region before closing the underlying file
// descriptor, so OpenMmap callers get a single Close that releases both.
type mmapCloser struct {
	region mmap.MMap
	file   *os.File
}

func (c *mmapCloser) Close() error {
	unmapErr := c.region.Unmap()
	closeErr := c.file.Close()
	if unmapErr != nil {
		return fmt.Errorf("msf: failed to unmap file: %w", unmapErr)
	}
	return closeErr
}

// OpenMmap opens an MSF container from path using a read-only memory
// mapping instead of buffered reads, which avoids copying stream bytes
// through the page cache twice for large PDBs.
func OpenMmap(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("msf: failed to open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("msf: failed to stat file: %w", err)
	}

	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("msf: failed to mmap file: %w", err)
	}

	msfFile, err := NewFile(bytes.NewReader(region), stat.Size())
	if err != nil {
		region.Unmap()
		f.Close()
		return nil, err
	}
	msfFile.closer = &mmapCloser{region: region, file: f}
	return msfFile, nil
}
