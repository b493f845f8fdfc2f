package core

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/mdf/internal/utils"
)

// BlockHeaderV4Size is the fixed size of every v4 block header:
// 4-byte tag, 4 reserved bytes, 8-byte length, 8-byte link count.
const BlockHeaderV4Size = 24

// BlockHeaderV4 is the common header of every v4 block.
type BlockHeaderV4 struct {
	ID        string // "##XX"
	Length    uint64 // total block length including this header
	LinkCount uint64
}

// ReadBlockHeaderV4 reads the 24-byte header at offset.
func ReadBlockHeaderV4(r utils.ReaderAt, offset int64) (BlockHeaderV4, error) {
	buf, err := utils.ReadBytes(r, offset, BlockHeaderV4Size)
	if err != nil {
		return BlockHeaderV4{}, utils.WrapError(
			fmt.Sprintf("block header at %d", offset), utils.ErrTruncatedBlock)
	}

	h := BlockHeaderV4{
		ID:        string(buf[:4]),
		Length:    binary.LittleEndian.Uint64(buf[8:16]),
		LinkCount: binary.LittleEndian.Uint64(buf[16:24]),
	}
	if h.ID[0] != '#' || h.ID[1] != '#' {
		return BlockHeaderV4{}, utils.WrapError(
			fmt.Sprintf("block at %d has tag %q", offset, h.ID), utils.ErrUnknownBlockType)
	}
	if h.Length < BlockHeaderV4Size {
		return BlockHeaderV4{}, utils.WrapError(
			fmt.Sprintf("block at %d declares length %d", offset, h.Length), utils.ErrTruncatedBlock)
	}
	return h, nil
}

// ReadLinksV4 reads the link section that follows a v4 block header.
func ReadLinksV4(r utils.ReaderAt, offset int64, count uint64) ([]uint64, error) {
	buf, err := utils.ReadBytes(r, offset+BlockHeaderV4Size, int(count)*8)
	if err != nil {
		return nil, utils.WrapError(
			fmt.Sprintf("link section at %d", offset), utils.ErrTruncatedBlock)
	}
	links := make([]uint64, count)
	for i := range links {
		links[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return links, nil
}

// ReadBlockHeaderV3 reads a v3 block header: 2-byte tag plus 16-bit size.
func ReadBlockHeaderV3(r utils.ReaderAt, offset int64, order binary.ByteOrder) (tag string, size uint16, err error) {
	buf, err := utils.ReadBytes(r, offset, 4)
	if err != nil {
		return "", 0, utils.WrapError(
			fmt.Sprintf("block header at %d", offset), utils.ErrTruncatedBlock)
	}
	return string(buf[:2]), order.Uint16(buf[2:4]), nil
}

// ReadLinkV3 reads a v3 link field. Versions below 3.20 store links as
// signed 32-bit values; later versions use unsigned 32-bit. Both resolve
// to an absolute file offset, 0 meaning absent.
func ReadLinkV3(r utils.ReaderAt, offset int64, order binary.ByteOrder, version uint16) (int64, error) {
	v, err := utils.ReadUint32(r, offset, order)
	if err != nil {
		return 0, err
	}
	if version < 320 {
		return int64(int32(v)), nil
	}
	return int64(v), nil
}
