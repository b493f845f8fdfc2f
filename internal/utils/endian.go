package utils

import (
	"encoding/binary"
	"math"
)

// ReaderAt is a simplified interface for io.ReaderAt.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// ReadBytes reads exactly size bytes at offset into a fresh slice.
func ReadBytes(r ReaderAt, offset int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadUint16 reads a 16-bit value at the specified offset.
func ReadUint16(r ReaderAt, offset int64, order binary.ByteOrder) (uint16, error) {
	buf := GetBuffer(2)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return order.Uint16(buf), nil
}

// ReadUint32 reads a 32-bit value at the specified offset.
func ReadUint32(r ReaderAt, offset int64, order binary.ByteOrder) (uint32, error) {
	buf := GetBuffer(4)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return order.Uint32(buf), nil
}

// ReadUint64 reads a 64-bit value at the specified offset.
func ReadUint64(r ReaderAt, offset int64, order binary.ByteOrder) (uint64, error) {
	buf := GetBuffer(8)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return order.Uint64(buf), nil
}

// ReadFloat64 reads an IEEE-754 double at the specified offset.
func ReadFloat64(r ReaderAt, offset int64, order binary.ByteOrder) (float64, error) {
	bits, err := ReadUint64(r, offset, order)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// Float64At decodes a double from an in-memory buffer.
func Float64At(buf []byte, off int, order binary.ByteOrder) float64 {
	return math.Float64frombits(order.Uint64(buf[off : off+8]))
}

// Float32At decodes a single from an in-memory buffer.
func Float32At(buf []byte, off int, order binary.ByteOrder) float32 {
	return math.Float32frombits(order.Uint32(buf[off : off+4]))
}
