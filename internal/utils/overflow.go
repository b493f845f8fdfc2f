package utils

import (
	"fmt"
	"math"
)

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}
	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}
	return nil
}

// SafeMultiply multiplies two uint64 values, failing on overflow.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// SafeAdd adds two uint64 values, failing on overflow. Used for
// offset+length arithmetic before seeking into a file.
func SafeAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("addition overflow: %d + %d exceeds uint64 max", a, b)
	}
	return a + b, nil
}

// RecordBufferSize computes cycleCount*recordStride with overflow checking
// and an upper bound, so a corrupt channel group cannot drive a huge
// allocation.
func RecordBufferSize(cycleCount, recordStride uint64) (uint64, error) {
	size, err := SafeMultiply(cycleCount, recordStride)
	if err != nil {
		return 0, err
	}
	if err := ValidateBufferSize(size, MaxDataBlockSize, "record buffer"); err != nil {
		return 0, err
	}
	return size, nil
}

// ValidateBufferSize validates that a buffer size is within limits.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}
	return nil
}

// Buffer size limits.
const (
	// MaxDataBlockSize limits one data group's raw payload to 4GB.
	MaxDataBlockSize = 4 * 1024 * 1024 * 1024

	// MaxTextSize limits text/metadata block size to 16MB.
	MaxTextSize = 16 * 1024 * 1024

	// MaxDecompressedSize limits a DZ block's declared original size to 1GB.
	MaxDecompressedSize = 1024 * 1024 * 1024
)
