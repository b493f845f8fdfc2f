// Package core implements the low-level block reader for MDF files:
// identification-block parsing, dialect detection, block headers for both
// dialects, and text decoding.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/mdf/internal/utils"
)

// Magic is the file signature at offset 0 of every MDF file.
const Magic = "MDF     "

// MagicUnfinished marks files from a logger that crashed mid-measurement.
// The block graph is still readable.
const MagicUnfinished = "UnFinMF "

// Dialect selects between the two incompatible major format versions.
type Dialect int

// Supported dialects.
const (
	DialectV3 Dialect = 3
	DialectV4 Dialect = 4
)

// IDBlockSize is the fixed size of the identification block.
const IDBlockSize = 64

// Identification is the decoded identification block at offset 0.
type Identification struct {
	VersionString string // e.g. "3.30" or "4.10"
	Program       string
	ByteOrder     binary.ByteOrder // v3 only; v4 is always little-endian
	FloatFormat   uint16
	Version       uint16 // numeric version, e.g. 330, 410
	CodePage      uint16
	Dialect       Dialect
	Unfinished    bool
}

// ReadIdentification reads and validates the identification block.
// The numeric version selects the dialect: below 400 is v3, otherwise v4.
func ReadIdentification(r utils.ReaderAt) (*Identification, error) {
	buf, err := utils.ReadBytes(r, 0, IDBlockSize)
	if err != nil {
		return nil, utils.WrapError("identification block read failed", utils.ErrTruncatedBlock)
	}

	magic := string(buf[:8])
	if magic != Magic && magic != MagicUnfinished {
		return nil, errors.New("not an MDF file")
	}

	id := &Identification{
		VersionString: DecodeText(buf[8:16], Latin1),
		Program:       DecodeText(buf[16:24], Latin1),
		Unfinished:    magic == MagicUnfinished,
	}

	// Numeric fields at offset 24: byte order, float format, version, code page.
	byteOrder := binary.LittleEndian.Uint16(buf[24:26])
	if byteOrder == 0 {
		id.ByteOrder = binary.LittleEndian
	} else {
		id.ByteOrder = binary.BigEndian
	}
	id.FloatFormat = binary.LittleEndian.Uint16(buf[26:28])
	id.Version = binary.LittleEndian.Uint16(buf[28:30])
	id.CodePage = binary.LittleEndian.Uint16(buf[30:32])

	switch {
	case id.Version >= 400:
		id.Dialect = DialectV4
		id.ByteOrder = binary.LittleEndian // all v4 links and fields
	case id.Version >= 200:
		id.Dialect = DialectV3
	default:
		return nil, fmt.Errorf("unsupported format version: %d", id.Version)
	}

	return id, nil
}
