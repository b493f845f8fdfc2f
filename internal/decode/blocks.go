// Package decode turns a channel group's raw byte payload into typed
// columns: block loading with decompression, the bulk column fast path,
// per-record bit extraction, record-ID demultiplexing and VLSD string
// resolution.
package decode

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/structures"
	"github.com/scigolib/mdf/internal/utils"
)

// DZ block body layout, after the 24-byte block header.
const (
	dzBodySize   = 24
	dzZipDeflate = 0
	dzZipShuffle = 1
)

// LoadRaw reads one data group's complete raw payload. v3 payloads are
// headerless records; v4 payloads sit behind a DT/RD/DZ/DL/HL block.
func LoadRaw(r utils.ReaderAt, g *structures.Graph, dg *structures.DataGroup) ([]byte, error) {
	if dg.DataOffset == 0 {
		return nil, nil
	}
	if g.Dialect == core.DialectV3 {
		return loadRawV3(r, dg)
	}
	return loadBlockV4(r, dg.DataOffset)
}

// loadRawV3 reads the headerless record area. Its size follows from the
// record geometry of every channel group sharing the payload.
func loadRawV3(r utils.ReaderAt, dg *structures.DataGroup) ([]byte, error) {
	idBytes := uint64(dg.RecordIDSize)
	var size uint64
	for i := range dg.Groups {
		cg := &dg.Groups[i]
		recordSize, err := utils.SafeAdd(uint64(cg.RecordStride()), idBytes)
		if err != nil {
			return nil, err
		}
		groupSize, err := utils.SafeMultiply(recordSize, cg.CycleCount)
		if err != nil {
			return nil, err
		}
		size, err = utils.SafeAdd(size, groupSize)
		if err != nil {
			return nil, err
		}
	}
	// Zero cycles with a pre-allocated data pointer is a legal empty
	// measurement.
	if size == 0 {
		return nil, nil
	}
	if err := utils.ValidateBufferSize(size, utils.MaxDataBlockSize, "record area"); err != nil {
		return nil, err
	}
	return utils.ReadBytes(r, dg.DataOffset, int(size))
}

// loadBlockV4 resolves a v4 data link, following HL and DL indirection and
// inflating DZ payloads. The returned slice is the logical payload.
func loadBlockV4(r utils.ReaderAt, offset int64) ([]byte, error) {
	h, err := core.ReadBlockHeaderV4(r, offset)
	if err != nil {
		return nil, err
	}
	switch h.ID {
	case "##DT", "##RD", "##SD", "##DV":
		size := int64(h.Length) - core.BlockHeaderV4Size
		if size < 0 {
			return nil, utils.WrapError("data block", utils.ErrTruncatedBlock)
		}
		if size == 0 {
			// Header-only data block: an empty measurement.
			return nil, nil
		}
		if err := utils.ValidateBufferSize(uint64(size), utils.MaxDataBlockSize, "data block"); err != nil {
			return nil, err
		}
		return utils.ReadBytes(r, offset+core.BlockHeaderV4Size, int(size))
	case "##DZ":
		return inflateDZ(r, offset, h)
	case "##DL":
		return concatDL(r, offset)
	case "##HL":
		links, err := core.ReadLinksV4(r, offset, h.LinkCount)
		if err != nil || len(links) < 1 {
			return nil, utils.WrapError("header list links", utils.ErrTruncatedBlock)
		}
		if links[0] == 0 {
			return nil, nil
		}
		return loadBlockV4(r, int64(links[0]))
	default:
		return nil, utils.WrapError(
			fmt.Sprintf("data block %q", h.ID), utils.ErrUnsupportedBlockType)
	}
}

// concatDL walks a data-list chain and concatenates every referenced
// block's payload in link order.
func concatDL(r utils.ReaderAt, offset int64) ([]byte, error) {
	var out []byte
	walker := map[int64]struct{}{}
	for offset != 0 {
		if _, seen := walker[offset]; seen {
			return nil, utils.WrapError(
				fmt.Sprintf("data list cycle at %d", offset), utils.ErrMalformedGraph)
		}
		walker[offset] = struct{}{}

		h, err := core.ReadBlockHeaderV4(r, offset)
		if err != nil {
			return nil, err
		}
		if h.ID != "##DL" {
			return nil, utils.WrapError(
				fmt.Sprintf("expected ##DL, found %q", h.ID), utils.ErrUnknownBlockType)
		}
		links, err := core.ReadLinksV4(r, offset, h.LinkCount)
		if err != nil || len(links) < 1 {
			return nil, utils.WrapError("data list links", utils.ErrTruncatedBlock)
		}
		for _, l := range links[1:] {
			if l == 0 {
				continue
			}
			part, err := loadBlockV4(r, int64(l))
			if err != nil {
				return nil, err
			}
			out = append(out, part...)
		}
		offset = int64(links[0])
	}
	return out, nil
}

// inflateDZ inflates one DZ block: zlib stream, optionally undoing the
// byte-transpose applied before compression.
func inflateDZ(r utils.ReaderAt, offset int64, h core.BlockHeaderV4) ([]byte, error) {
	body, err := utils.ReadBytes(r, offset+core.BlockHeaderV4Size, dzBodySize)
	if err != nil {
		return nil, utils.WrapError("compressed block body", utils.ErrTruncatedBlock)
	}
	zipType := body[2]
	zipParameter := binary.LittleEndian.Uint32(body[4:8])
	orgLength := binary.LittleEndian.Uint64(body[8:16])
	dataLength := binary.LittleEndian.Uint64(body[16:24])

	if err := utils.ValidateBufferSize(orgLength, utils.MaxDecompressedSize, "decompressed block"); err != nil {
		return nil, err
	}

	compressed, err := utils.ReadBytes(r, offset+core.BlockHeaderV4Size+dzBodySize, int(dataLength))
	if err != nil {
		return nil, utils.WrapError("compressed block payload", utils.ErrTruncatedBlock)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, utils.WrapError("zlib stream", err)
	}
	defer zr.Close()

	out := make([]byte, orgLength)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, utils.WrapError("zlib inflate", err)
	}

	switch zipType {
	case dzZipDeflate:
		return out, nil
	case dzZipShuffle:
		return untranspose(out, int(zipParameter)), nil
	default:
		return nil, utils.WrapError(
			fmt.Sprintf("zip type %d", zipType), utils.ErrUnsupportedBlockType)
	}
}

// untranspose undoes the column-major byte shuffle: the stream was written
// as a (param, n/param) matrix transposed, trailing bytes untouched.
func untranspose(data []byte, param int) []byte {
	if param <= 0 || len(data) < param {
		return data
	}
	cols := len(data) / param
	body := cols * param
	out := make([]byte, len(data))
	for i := 0; i < param; i++ {
		for j := 0; j < cols; j++ {
			out[j*param+i] = data[i*cols+j]
		}
	}
	copy(out[body:], data[body:])
	return out
}
