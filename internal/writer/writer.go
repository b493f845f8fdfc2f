package writer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// backing is the random-access target a FileWriter writes into: a real
// file or an in-memory buffer.
type backing interface {
	io.WriterAt
	io.ReaderAt
	Sync() error
	Close() error
}

// FileWriter wraps a random-access output for writing MDF files. It
// provides space allocation tracking via Allocator, write-at-address
// operations, and link backpatching.
//
// Not thread-safe; caller must synchronize access.
type FileWriter struct {
	file      backing
	allocator *Allocator
}

// CreateMode specifies the file creation behavior.
type CreateMode int

const (
	// ModeTruncate creates a new file, truncating if it exists.
	ModeTruncate CreateMode = iota

	// ModeExclusive creates a new file, fails if it exists.
	ModeExclusive
)

// NewFileWriter creates a writer for a new MDF file. The file is opened
// for reading and writing; initialOffset is the first allocatable address,
// typically the identification block size.
func NewFileWriter(filename string, mode CreateMode, initialOffset uint64) (*FileWriter, error) {
	var osFile *os.File
	var err error

	switch mode {
	case ModeTruncate:
		osFile, err = os.Create(filename)
	case ModeExclusive:
		osFile, err = os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &FileWriter{
		file:      osFile,
		allocator: NewAllocator(initialOffset),
	}, nil
}

// NewFileWriterFor wraps an already-open file, for tests writing into a
// temporary file.
func NewFileWriterFor(f *os.File, initialOffset uint64) *FileWriter {
	return &FileWriter{file: f, allocator: NewAllocator(initialOffset)}
}

// NewBufferWriter creates a writer backed by an in-memory buffer, for
// serializing to a stream instead of a file.
func NewBufferWriter() (*FileWriter, *MemFile) {
	m := &MemFile{}
	return &FileWriter{file: m, allocator: NewAllocator(0)}, m
}

// MemFile is a growable in-memory write-at target.
type MemFile struct {
	buf []byte
}

// WriteAt implements io.WriterAt, growing the buffer as needed.
func (m *MemFile) WriteAt(p []byte, off int64) (int, error) {
	if need := int(off) + len(p); need > len(m.buf) {
		m.buf = append(m.buf, make([]byte, need-len(m.buf))...)
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

// ReadAt implements io.ReaderAt.
func (m *MemFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Sync is a no-op for memory backing.
func (m *MemFile) Sync() error { return nil }

// Close is a no-op for memory backing.
func (m *MemFile) Close() error { return nil }

// Bytes returns the serialized image.
func (m *MemFile) Bytes() []byte { return m.buf }

// Allocate reserves a block of space in the file and returns its address.
func (w *FileWriter) Allocate(size uint64) (uint64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.allocator.Allocate(size)
}

// WriteAt writes data at a specific address. Implements io.WriterAt.
func (w *FileWriter) WriteAt(data []byte, offset int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	if len(data) == 0 {
		return 0, nil
	}
	return w.file.WriteAt(data, offset)
}

// WriteBlock allocates space for data and writes it, returning the block's
// address.
func (w *FileWriter) WriteBlock(data []byte) (uint64, error) {
	addr, err := w.Allocate(uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if _, err := w.WriteAt(data, int64(addr)); err != nil {
		return 0, err
	}
	return addr, nil
}

// PatchLink overwrites a 32-bit link field at a previously written
// address. Links are emitted as zero placeholders and patched once the
// target block's address is known.
func (w *FileWriter) PatchLink(at, target uint64) error {
	if target > 0xFFFFFFFF {
		return fmt.Errorf("link target %d exceeds 32-bit address space", target)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(target))
	_, err := w.WriteAt(buf[:], int64(at))
	return err
}

// ReadAt reads previously written data. Implements io.ReaderAt, used by
// round-trip verification.
func (w *FileWriter) ReadAt(buf []byte, addr int64) (int, error) {
	if w.file == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.file.ReadAt(buf, addr)
}

// EndOfFile returns the current end-of-file address.
func (w *FileWriter) EndOfFile() uint64 {
	return w.allocator.EndOfFile()
}

// Allocator exposes the underlying allocator, for integrity checks.
func (w *FileWriter) Allocator() *Allocator {
	return w.allocator
}

// Flush commits buffered writes to stable storage.
func (w *FileWriter) Flush() error {
	if w.file == nil {
		return fmt.Errorf("writer is closed")
	}
	return w.file.Sync()
}

// Close flushes and closes the file. Safe to call twice.
func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	w.file = nil
	return err
}

var _ io.WriterAt = (*FileWriter)(nil)
var _ io.ReaderAt = (*FileWriter)(nil)
