package msfz

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// OpenMmap opens an MSFZ container from path using a read-only memory
// mapping instead of buffered reads. The returned Reader's data source
// stays valid until closer.Close is called; callers that need the
// mapping released should keep the returned closer and close it
// themselves once done with the Reader, as Reader itself has no Close.
func OpenMmap(path string) (reader *Reader, closer func() error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("msfz: failed to open file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("msfz: failed to stat file: %w", err)
	}

	region, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("msfz: failed to mmap file: %w", err)
	}

	reader, err = Open(bytes.NewReader(region), stat.Size())
	if err != nil {
		region.Unmap()
		f.Close()
		return nil, nil, err
	}

	closer = func() error {
		unmapErr := region.Unmap()
		closeErr := f.Close()
		if unmapErr != nil {
			return fmt.Errorf("msfz: failed to unmap file: %w", unmapErr)
		}
		return closeErr
	}
	return reader, closer, nil
}
