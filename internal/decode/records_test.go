package decode

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/layout"
	"github.com/scigolib/mdf/internal/structures"
)

func v4Graph() *structures.Graph {
	return &structures.Graph{Dialect: core.DialectV4, ByteOrder: binary.LittleEndian}
}

func compile(t *testing.T, g *structures.Graph, dg *structures.DataGroup, cg *structures.ChannelGroup) *layout.Layout {
	t.Helper()
	l, err := layout.Compile(g, dg, cg)
	require.NoError(t, err)
	return l
}

func TestDecodeBitFields(t *testing.T) {
	// One byte per record carrying a 2/2/4-bit split.
	g := v4Graph()
	dg := &structures.DataGroup{}
	cg := &structures.ChannelGroup{
		CycleCount: 3,
		DataBytes:  1,
		Channels: []structures.Channel{
			{Name: "a", DataType: 0, BitOffset: 0, BitCount: 2},
			{Name: "b", DataType: 0, BitOffset: 2, BitCount: 2},
			{Name: "c", DataType: 2, BitOffset: 4, BitCount: 4}, // signed
		},
	}
	l := compile(t, g, dg, cg)

	// a=1 b=2 c=-3 (0b1101), a=3 b=0 c=7, a=0 b=1 c=-8 (0b1000)
	data := []byte{
		0b1101_10_01,
		0b0111_00_11,
		0b1000_01_00,
	}

	gr, err := decodeRecords(cg, l, data, cg.CycleCount)
	require.NoError(t, err)

	require.Equal(t, []uint64{1, 3, 0}, gr.Column("a").Uints)
	require.Equal(t, []uint64{2, 0, 1}, gr.Column("b").Uints)
	require.Equal(t, []int64{-3, 7, -8}, gr.Column("c").Ints)
}

func TestDecodeSignedSubByteAcrossByteBoundary(t *testing.T) {
	g := v4Graph()
	dg := &structures.DataGroup{}
	cg := &structures.ChannelGroup{
		CycleCount: 2,
		DataBytes:  2,
		Channels: []structures.Channel{
			// 10-bit signed field starting at bit 3.
			{Name: "x", DataType: 2, ByteOffset: 0, BitOffset: 3, BitCount: 10},
		},
	}
	l := compile(t, g, dg, cg)

	rec := func(v int16) []byte {
		bits := uint16(v) & 0x3FF
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], bits<<3)
		return b[:]
	}
	data := append(rec(-200), rec(317)...)

	gr, err := decodeRecords(cg, l, data, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{-200, 317}, gr.Column("x").Ints)
}

func TestDecodeAlignedBulkPathMatchesBitPath(t *testing.T) {
	g := v4Graph()
	dg := &structures.DataGroup{}
	cg := &structures.ChannelGroup{
		CycleCount: 3,
		DataBytes:  6,
		Channels: []structures.Channel{
			{Name: "u", DataType: 0, ByteOffset: 0, BitCount: 16},
			{Name: "i", DataType: 2, ByteOffset: 2, BitCount: 32},
		},
	}
	l := compile(t, g, dg, cg)
	require.True(t, l.ByteAligned)
	require.False(t, l.HiddenBytes)

	rec := func(u uint16, i int32) []byte {
		var b [6]byte
		binary.LittleEndian.PutUint16(b[0:2], u)
		binary.LittleEndian.PutUint32(b[2:6], uint32(i))
		return b[:]
	}
	var data []byte
	data = append(data, rec(40000, -5)...)
	data = append(data, rec(1, 123456)...)
	data = append(data, rec(65535, -1)...)

	fast, err := decodeRecords(cg, l, data, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{40000, 1, 65535}, fast.Column("u").Uints)
	require.Equal(t, []int64{-5, 123456, -1}, fast.Column("i").Ints)

	// Forcing the per-bit path must give identical columns.
	slow := *l
	slow.ByteAligned = false
	bit, err := decodeRecords(cg, &slow, data, 3)
	require.NoError(t, err)
	require.Equal(t, fast.Columns, bit.Columns)
}

func TestDecodeBigEndianField(t *testing.T) {
	g := v4Graph()
	dg := &structures.DataGroup{}
	cg := &structures.ChannelGroup{
		CycleCount: 1,
		DataBytes:  2,
		Channels: []structures.Channel{
			{Name: "x", DataType: 1, BitCount: 16}, // uint BE
		},
	}
	l := compile(t, g, dg, cg)

	gr, err := decodeRecords(cg, l, []byte{0x12, 0x34}, 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{0x1234}, gr.Column("x").Uints)
}

func TestDecodeStringAndBytesColumns(t *testing.T) {
	g := v4Graph()
	dg := &structures.DataGroup{}
	cg := &structures.ChannelGroup{
		CycleCount: 2,
		DataBytes:  6,
		Channels: []structures.Channel{
			{Name: "tag", DataType: 7, BitCount: 32},                // utf-8, 4 bytes
			{Name: "blob", DataType: 10, ByteOffset: 4, BitCount: 16}, // raw bytes
		},
	}
	l := compile(t, g, dg, cg)

	data := []byte{
		'a', 'b', 0, 0, 0xDE, 0xAD,
		'x', 'y', 'z', 'w', 0xBE, 0xEF,
	}
	gr, err := decodeRecords(cg, l, data, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"ab", "xyzw"}, gr.Column("tag").Strings)
	require.Equal(t, [][]byte{{0xDE, 0xAD}, {0xBE, 0xEF}}, gr.Column("blob").Raw)
}

func TestDemultiplexInterleavedGroups(t *testing.T) {
	g := v4Graph()
	dg := &structures.DataGroup{
		RecordIDSize: 1,
		Groups: []structures.ChannelGroup{
			{RecordID: 1, CycleCount: 2, DataBytes: 2, Channels: []structures.Channel{
				{Name: "u", DataType: 0, BitCount: 16},
			}},
			{RecordID: 2, CycleCount: 1, DataBytes: 1, Channels: []structures.Channel{
				{Name: "v", DataType: 0, BitCount: 8},
			}},
		},
	}
	layouts := []*layout.Layout{
		compile(t, g, dg, &dg.Groups[0]),
		compile(t, g, dg, &dg.Groups[1]),
	}

	raw := []byte{
		1, 0x10, 0x00,
		2, 0x7F,
		1, 0x20, 0x00,
	}
	buffers, streams, counts, err := demultiplex(g, dg, layouts, raw)
	require.NoError(t, err)
	require.Empty(t, streams)
	require.Equal(t, []uint64{2, 1}, counts)
	require.Equal(t, []byte{0x10, 0x00, 0x20, 0x00}, buffers[0])
	require.Equal(t, []byte{0x7F}, buffers[1])
}

func TestDemultiplexUnknownRecordID(t *testing.T) {
	g := v4Graph()
	dg := &structures.DataGroup{
		RecordIDSize: 1,
		Groups: []structures.ChannelGroup{
			{RecordID: 1, DataBytes: 1, Channels: []structures.Channel{
				{Name: "u", DataType: 0, BitCount: 8},
			}},
		},
	}
	layouts := []*layout.Layout{compile(t, g, dg, &dg.Groups[0])}

	_, _, _, err := demultiplex(g, dg, layouts, []byte{9, 0xFF})
	require.ErrorContains(t, err, "record id 9")
}

func TestResolveVLSDStrings(t *testing.T) {
	var stream []byte
	add := func(s string) uint64 {
		off := uint64(len(stream))
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		stream = append(stream, n[:]...)
		stream = append(stream, s...)
		return off
	}
	o1 := add("hello")
	o2 := add("hi\x00")

	strs, err := resolveVLSDStrings(stream, []uint64{o1, o2}, core.UTF8)
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "hi"}, strs)

	_, err = resolveVLSDStrings(stream, []uint64{uint64(len(stream))}, core.UTF8)
	require.Error(t, err)
}

func TestUntranspose(t *testing.T) {
	// 2x3 matrix written column-major plus one tail byte.
	data := []byte{1, 3, 5, 2, 4, 6, 9}
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 9}, untranspose(data, 2))
}

// image builds v4 blocks in a flat byte buffer for block-loader tests.
type image struct {
	buf []byte
}

func (im *image) block(id string, links []uint64, data []byte) int64 {
	for len(im.buf)%8 != 0 {
		im.buf = append(im.buf, 0)
	}
	off := int64(len(im.buf))
	header := make([]byte, 24)
	copy(header, id)
	binary.LittleEndian.PutUint64(header[8:16], uint64(24+len(links)*8+len(data)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(links)))
	im.buf = append(im.buf, header...)
	for _, l := range links {
		var lb [8]byte
		binary.LittleEndian.PutUint64(lb[:], l)
		im.buf = append(im.buf, lb[:]...)
	}
	im.buf = append(im.buf, data...)
	return off
}

func (im *image) reader() *bytes.Reader { return bytes.NewReader(im.buf) }

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	zw := zlib.NewWriter(&out)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return out.Bytes()
}

func TestLoadBlockV4PlainAndList(t *testing.T) {
	im := &image{}
	dt1 := im.block("##DT", nil, []byte{1, 2, 3})
	dt2 := im.block("##DT", nil, []byte{4, 5})
	dl := im.block("##DL", []uint64{0, uint64(dt1), uint64(dt2)}, make([]byte, 16))
	hl := im.block("##HL", []uint64{uint64(dl)}, make([]byte, 8))

	got, err := loadBlockV4(im.reader(), hl)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, got)
}

func TestLoadBlockV4HeaderOnlyBlock(t *testing.T) {
	im := &image{}
	dt := im.block("##DT", nil, nil)

	got, err := loadBlockV4(im.reader(), dt)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestLoadBlockV4Compressed(t *testing.T) {
	plain := []byte{10, 20, 30, 40, 50, 60, 70}

	// zip type 1: transpose a (2, 3) matrix before deflating, tail kept.
	shuffled := []byte{10, 30, 50, 20, 40, 60, 70}
	compressed := deflate(t, shuffled)

	body := make([]byte, dzBodySize)
	copy(body, "DT")
	body[2] = dzZipShuffle
	binary.LittleEndian.PutUint32(body[4:8], 2)
	binary.LittleEndian.PutUint64(body[8:16], uint64(len(plain)))
	binary.LittleEndian.PutUint64(body[16:24], uint64(len(compressed)))

	im := &image{}
	dz := im.block("##DZ", nil, append(body, compressed...))

	got, err := loadBlockV4(im.reader(), dz)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestLoadBlockV4UnknownTag(t *testing.T) {
	im := &image{}
	off := im.block("##ZZ", nil, []byte{1})
	_, err := loadBlockV4(im.reader(), off)
	require.Error(t, err)
}

func TestDecodeRecordsVirtualColumn(t *testing.T) {
	g := v4Graph()
	dg := &structures.DataGroup{}
	cg := &structures.ChannelGroup{
		CycleCount: 3,
		DataBytes:  1,
		Channels: []structures.Channel{
			{Name: "idx", Type: structures.V4ChannelVirtualMaster, SyncType: 1, DataType: 0},
			{Name: "v", DataType: 0, BitCount: 8},
		},
	}
	l := compile(t, g, dg, cg)

	gr, err := decodeRecords(cg, l, []byte{7, 8, 9}, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 1, 2}, gr.Column("idx").Uints)
	require.Equal(t, []uint64{7, 8, 9}, gr.Column("v").Uints)
	require.Equal(t, convert.UintValues, gr.Column("v").Kind)
}
