package status

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Reader is a read-only mmap view of a Writer's backing file, for
// out-of-process consumers (edr-console, health probes).
type Reader struct {
	file *os.File
	data []byte
}

// NewReader opens and maps path read-only. path must already exist and
// be at least RecordSize bytes (i.e. a Writer must have created it).
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("status: failed to open %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, RecordSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("status: mmap failed: %w", err)
	}

	return &Reader{file: f, data: data}, nil
}

// Read takes a defensive copy of the mapped bytes and decodes it. A copy
// is used rather than decoding the mapping directly because the writer
// may be updating the same pages concurrently; torn reads are tolerated
// (the next refresh self-heals) but magic/version validation ensures a
// sufficiently torn read is rejected rather than misinterpreted.
func (r *Reader) Read() (Record, error) {
	buf := make([]byte, RecordSize)
	copy(buf, r.data)
	return Decode(buf)
}

// Close unmaps and closes the backing file.
func (r *Reader) Close() error {
	err := unix.Munmap(r.data)
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
