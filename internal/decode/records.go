package decode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/layout"
	"github.com/scigolib/mdf/internal/structures"
	"github.com/scigolib/mdf/internal/utils"
)

// GroupRecords holds the decoded columns of one channel group. Columns and
// Names run parallel; VLSD channels contribute a string column under the
// channel name plus the raw offsets under "<name>_offset".
type GroupRecords struct {
	Group   *structures.ChannelGroup
	Layout  *layout.Layout
	Names   []string
	Columns []convert.Values
}

// Column returns the named column, or nil.
func (gr *GroupRecords) Column(name string) *convert.Values {
	for i, n := range gr.Names {
		if n == name {
			return &gr.Columns[i]
		}
	}
	return nil
}

// DecodeDataGroup loads the data group's payload and decodes every channel
// group in it.
func DecodeDataGroup(r utils.ReaderAt, g *structures.Graph, dg *structures.DataGroup) ([]*GroupRecords, error) {
	layouts := make([]*layout.Layout, len(dg.Groups))
	for i := range dg.Groups {
		l, err := layout.Compile(g, dg, &dg.Groups[i])
		if err != nil {
			return nil, err
		}
		layouts[i] = l
	}

	raw, err := LoadRaw(r, g, dg)
	if err != nil {
		return nil, err
	}

	var out []*GroupRecords
	vlsdStreams := map[int64][]byte{}

	if dg.Sorted() {
		cg := &dg.Groups[0]
		if cg.VLSD() {
			// A sorted VLSD group carries no fixed records of its own.
			return nil, nil
		}
		gr, err := decodeRecords(cg, layouts[0], raw, cg.CycleCount)
		if err != nil {
			return nil, err
		}
		out = append(out, gr)
	} else {
		buffers, streams, counts, err := demultiplex(g, dg, layouts, raw)
		if err != nil {
			return nil, err
		}
		vlsdStreams = streams
		for i := range dg.Groups {
			cg := &dg.Groups[i]
			if cg.VLSD() {
				continue
			}
			gr, err := decodeRecords(cg, layouts[i], buffers[i], counts[i])
			if err != nil {
				return nil, err
			}
			out = append(out, gr)
		}
	}

	for _, gr := range out {
		if err := resolveVLSDColumns(r, g, gr, vlsdStreams); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// demultiplex splits a record-ID-multiplexed payload into per-group record
// buffers. VLSD groups are re-serialized into a length-prefixed stream the
// offsets of the referencing channel index into.
func demultiplex(g *structures.Graph, dg *structures.DataGroup, layouts []*layout.Layout, raw []byte) (
	buffers [][]byte, streams map[int64][]byte, counts []uint64, err error) {

	buffers = make([][]byte, len(dg.Groups))
	counts = make([]uint64, len(dg.Groups))
	streams = map[int64][]byte{}

	byID := map[uint64]int{}
	for i := range dg.Groups {
		byID[dg.Groups[i].RecordID] = i
	}

	idSize := int(dg.RecordIDSize)
	trailing := false
	if g.Dialect == core.DialectV3 && dg.RecordIDSize == 2 {
		idSize, trailing = 1, true
	}
	if idSize == 0 {
		return nil, nil, nil, utils.WrapError("unsorted group without record ids", utils.ErrMalformedGraph)
	}

	pos := 0
	for pos+idSize <= len(raw) {
		id := readRecordID(raw[pos:pos+idSize], g.ByteOrder)
		pos += idSize

		gi, ok := byID[id]
		if !ok {
			return nil, nil, nil, utils.WrapError(
				fmt.Sprintf("record id %d matches no channel group", id), utils.ErrMalformedGraph)
		}
		cg := &dg.Groups[gi]

		if cg.VLSD() {
			if pos+4 > len(raw) {
				return nil, nil, nil, utils.WrapError("variable-length record", utils.ErrTruncatedBlock)
			}
			n := int(binary.LittleEndian.Uint32(raw[pos : pos+4]))
			if pos+4+n > len(raw) {
				return nil, nil, nil, utils.WrapError("variable-length record", utils.ErrTruncatedBlock)
			}
			streams[cg.BlockOffset] = append(streams[cg.BlockOffset], raw[pos:pos+4+n]...)
			pos += 4 + n
			continue
		}

		stride := int(layouts[gi].Stride)
		if pos+stride > len(raw) {
			return nil, nil, nil, utils.WrapError("fixed-length record", utils.ErrTruncatedBlock)
		}
		buffers[gi] = append(buffers[gi], raw[pos:pos+stride]...)
		counts[gi]++
		pos += stride
		if trailing {
			pos++
		}
	}
	return buffers, streams, counts, nil
}

func readRecordID(b []byte, order binary.ByteOrder) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	return 0
}

// decodeRecords extracts every layout field from a contiguous record
// buffer into typed columns.
func decodeRecords(cg *structures.ChannelGroup, l *layout.Layout, data []byte, cycles uint64) (*GroupRecords, error) {
	stride := int(l.Stride)
	count := int(cycles)
	if stride > 0 && len(data)/stride < count {
		count = len(data) / stride
	}

	gr := &GroupRecords{
		Group:   cg,
		Layout:  l,
		Names:   make([]string, len(l.Fields)),
		Columns: make([]convert.Values, len(l.Fields)),
	}

	// Fully byte-aligned records with no undescribed gap take the bulk
	// path: fixed-width loads instead of per-bit extraction.
	fast := l.ByteAligned && !l.HiddenBytes

	for fi := range l.Fields {
		f := &l.Fields[fi]
		gr.Names[fi] = f.Name
		col, err := decodeColumn(f, data, stride, count, fast)
		if err != nil {
			return nil, err
		}
		gr.Columns[fi] = col
	}
	return gr, nil
}

func decodeColumn(f *layout.Field, data []byte, stride, count int, fast bool) (convert.Values, error) {
	extract := extractUint
	if fast && f.EmbeddedIn < 0 {
		extract = alignedUint
	}
	if f.Virtual {
		v := convert.Values{Kind: convert.UintValues, Uints: make([]uint64, count)}
		for i := range v.Uints {
			v.Uints[i] = uint64(i)
		}
		return v, nil
	}

	switch f.Kind {
	case structures.KindFloat:
		v := convert.Values{Kind: convert.FloatValues, Floats: make([]float64, count)}
		for i := 0; i < count; i++ {
			bits := extract(data[i*stride:(i+1)*stride], f)
			if f.BitCount == 32 {
				v.Floats[i] = float64(math.Float32frombits(uint32(bits)))
			} else {
				v.Floats[i] = math.Float64frombits(bits)
			}
		}
		return v, nil

	case structures.KindInt:
		v := convert.Values{Kind: convert.IntValues, Ints: make([]int64, count)}
		for i := 0; i < count; i++ {
			raw := extract(data[i*stride:(i+1)*stride], f)
			v.Ints[i] = signExtend(raw, f.BitCount)
		}
		return v, nil

	case structures.KindUint:
		v := convert.Values{Kind: convert.UintValues, Uints: make([]uint64, count)}
		for i := 0; i < count; i++ {
			v.Uints[i] = extract(data[i*stride:(i+1)*stride], f)
		}
		return v, nil

	case structures.KindString:
		if f.VLSD {
			// Offsets into the signal-data stream; resolved afterwards.
			v := convert.Values{Kind: convert.UintValues, Uints: make([]uint64, count)}
			for i := 0; i < count; i++ {
				v.Uints[i] = extract(data[i*stride:(i+1)*stride], f)
			}
			return v, nil
		}
		v := convert.Values{Kind: convert.StringValues, Strings: make([]string, count)}
		for i := 0; i < count; i++ {
			off := i*stride + int(f.ByteOffset)
			v.Strings[i] = core.DecodeText(data[off:off+int(f.ByteSize)], f.Enc)
		}
		return v, nil

	case structures.KindBytes:
		v := convert.Values{Kind: convert.BytesValues, Raw: make([][]byte, count)}
		for i := 0; i < count; i++ {
			off := i*stride + int(f.ByteOffset)
			v.Raw[i] = append([]byte(nil), data[off:off+int(f.ByteSize)]...)
		}
		return v, nil
	}
	return convert.Values{}, utils.WrapError(
		fmt.Sprintf("field %q", f.Name), utils.ErrUnsupportedBlockType)
}

// extractUint pulls the field's raw bits out of one record as an unsigned
// value. Little-endian fields shift from the low end, big-endian from the
// high end.
func extractUint(rec []byte, f *layout.Field) uint64 {
	byteSize := int(f.ByteSize)
	if f.EmbeddedIn >= 0 {
		byteSize = int(uint32(f.BitOffset)+f.BitCount+7) / 8
	}
	start := int(f.ByteOffset)
	if start+byteSize > len(rec) {
		return 0
	}

	var v uint64
	if f.Order == binary.BigEndian {
		for i := 0; i < byteSize; i++ {
			v = v<<8 | uint64(rec[start+i])
		}
		v >>= uint(byteSize*8) - uint(f.BitOffset) - uint(f.BitCount)
	} else {
		for i := byteSize - 1; i >= 0; i-- {
			v = v<<8 | uint64(rec[start+i])
		}
		v >>= f.BitOffset
	}
	if f.BitCount < 64 {
		v &= (1 << f.BitCount) - 1
	}
	return v
}

// alignedUint is the bulk-path load for whole-byte fields: a direct
// fixed-width read at the field's byte offset.
func alignedUint(rec []byte, f *layout.Field) uint64 {
	start := int(f.ByteOffset)
	if start+int(f.ByteSize) > len(rec) {
		return 0
	}
	switch f.ByteSize {
	case 1:
		return uint64(rec[start])
	case 2:
		return uint64(f.Order.Uint16(rec[start:]))
	case 4:
		return uint64(f.Order.Uint32(rec[start:]))
	case 8:
		return f.Order.Uint64(rec[start:])
	}
	return extractUint(rec, f)
}

// signExtend widens a bitCount-wide two's-complement value to int64.
func signExtend(v uint64, bitCount uint32) int64 {
	if bitCount == 0 || bitCount >= 64 {
		return int64(v)
	}
	if v&(1<<(bitCount-1)) != 0 {
		v |= ^uint64(0) << bitCount
	}
	return int64(v)
}

// resolveVLSDColumns replaces each VLSD offset column with the strings it
// points at, keeping the offsets under "<name>_offset". The signal-data
// stream comes from the channel's data link, or from a sibling
// variable-length group when the payload was multiplexed.
func resolveVLSDColumns(r utils.ReaderAt, g *structures.Graph, gr *GroupRecords, streams map[int64][]byte) error {
	for fi := range gr.Layout.Fields {
		f := &gr.Layout.Fields[fi]
		if !f.VLSD || f.Ch == nil {
			continue
		}
		stream, ok := streams[f.Ch.DataLink]
		if !ok && f.Ch.DataLink != 0 {
			var err error
			stream, err = loadBlockV4(r, f.Ch.DataLink)
			if err != nil {
				return utils.WrapError(fmt.Sprintf("signal data for %q", f.Name), err)
			}
		}

		offsets := gr.Columns[fi].Uints
		strs, err := resolveVLSDStrings(stream, offsets, f.Enc)
		if err != nil {
			return utils.WrapError(fmt.Sprintf("signal data for %q", f.Name), err)
		}
		gr.Columns[fi] = convert.Values{Kind: convert.StringValues, Strings: strs}
		gr.Names = append(gr.Names, f.Name+"_offset")
		gr.Columns = append(gr.Columns, convert.Values{Kind: convert.UintValues, Uints: offsets})
	}
	return nil
}

// resolveVLSDStrings reads length-prefixed entries at the given offsets.
func resolveVLSDStrings(stream []byte, offsets []uint64, enc core.TextEncoding) ([]string, error) {
	out := make([]string, len(offsets))
	for i, off := range offsets {
		if off+4 > uint64(len(stream)) {
			return nil, utils.WrapError(
				fmt.Sprintf("offset %d outside signal data", off), utils.ErrTruncatedBlock)
		}
		n := uint64(binary.LittleEndian.Uint32(stream[off : off+4]))
		if off+4+n > uint64(len(stream)) {
			return nil, utils.WrapError(
				fmt.Sprintf("entry at %d outside signal data", off), utils.ErrTruncatedBlock)
		}
		out[i] = core.DecodeText(stream[off+4:off+4+n], enc)
	}
	return out, nil
}
