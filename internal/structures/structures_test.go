package structures

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/utils"
)

// v3File assembles a synthetic v3 file image block by block.
type v3File struct {
	buf []byte
}

func newV3File(version uint16) *v3File {
	id := make([]byte, core.IDBlockSize)
	copy(id, "MDF     3.30    test    ")
	binary.LittleEndian.PutUint16(id[28:30], version)
	return &v3File{buf: id}
}

func (f *v3File) reserve(size int) int64 {
	off := int64(len(f.buf))
	f.buf = append(f.buf, make([]byte, size)...)
	return off
}

func (f *v3File) put16(off int64, v uint16) {
	binary.LittleEndian.PutUint16(f.buf[off:off+2], v)
}

func (f *v3File) put32(off int64, v uint32) {
	binary.LittleEndian.PutUint32(f.buf[off:off+4], v)
}

func (f *v3File) putF64(off int64, v float64) {
	binary.LittleEndian.PutUint64(f.buf[off:off+8], math.Float64bits(v))
}

func (f *v3File) putTag(off int64, tag string, size uint16) {
	copy(f.buf[off:off+2], tag)
	f.put16(off+2, size)
}

func (f *v3File) text(s string) int64 {
	off := f.reserve(4 + len(s) + 1)
	f.putTag(off, "TX", uint16(4+len(s)+1))
	copy(f.buf[off+4:], s)
	return off
}

func (f *v3File) reader() *bytes.Reader {
	return bytes.NewReader(f.buf)
}

// link reads the 32-bit link stored at off.
func (f *v3File) link(off int64) int64 {
	return int64(binary.LittleEndian.Uint32(f.buf[off : off+4]))
}

// firstDG follows the header's first-data-group link.
func (f *v3File) firstDG() int64 {
	return f.link(64 + 4)
}

// buildV3Fixture lays out HD -> DG -> CG -> two CN blocks, the second with
// a linear conversion and a long-name text block.
func buildV3Fixture(t *testing.T) (*v3File, *core.Identification) {
	t.Helper()
	f := newV3File(330)

	hd := f.reserve(208)
	f.putTag(hd, "HD", 208)
	copy(f.buf[hd+18:], "21:07:2025")
	copy(f.buf[hd+28:], "14:30:00")
	copy(f.buf[hd+36:], "tester")
	copy(f.buf[hd+100:], "bench")
	binary.LittleEndian.PutUint64(f.buf[hd+164:hd+172], 1753108200000000000)

	pr := f.reserve(4 + 8)
	f.putTag(pr, "PR", 4+8)
	copy(f.buf[pr+4:], "testgen")
	f.put32(hd+12, uint32(pr))

	dg := f.reserve(24)
	f.putTag(dg, "DG", 24)
	f.put32(hd+4, uint32(dg))

	tr := f.reserve(10 + 24)
	f.putTag(tr, "TR", 10+24)
	f.put16(tr+8, 1)
	f.putF64(tr+10, 1.5)
	f.putF64(tr+18, 0.25)
	f.putF64(tr+26, 2.0)
	f.put32(dg+12, uint32(tr))

	cg := f.reserve(26)
	f.putTag(cg, "CG", 26)
	f.put32(dg+8, uint32(cg))
	f.put16(cg+16, 0)  // record id
	f.put16(cg+20, 10) // record bytes
	f.put32(cg+22, 5)  // cycles

	// Master channel: float64 time at bits 0..63.
	cn1 := f.reserve(228)
	f.putTag(cn1, "CN", 228)
	f.put32(cg+8, uint32(cn1))
	f.put16(cn1+24, 1) // master
	copy(f.buf[cn1+26:], "time")
	f.put16(cn1+186, 0)
	f.put16(cn1+188, 64)
	f.put16(cn1+190, 3) // double

	// Data channel: u16 at bits 64..79, renamed via long-name TX.
	cn2 := f.reserve(228)
	f.putTag(cn2, "CN", 228)
	f.put32(cn1+4, uint32(cn2))
	copy(f.buf[cn2+26:], "short")
	f.put16(cn2+186, 64)
	f.put16(cn2+188, 16)
	f.put16(cn2+190, 0) // unsigned

	cc := f.reserve(46 + 16)
	f.putTag(cc, "CC", 46+16)
	copy(f.buf[cc+22:], "rpm")
	f.put16(cc+42, 0) // linear
	f.put16(cc+44, 2)
	f.putF64(cc+46, 5) // offset
	f.putF64(cc+54, 2) // factor
	f.put32(cn2+8, uint32(cc))

	longName := f.text("engine_speed_long_name")
	f.put32(cn2+218, uint32(longName))

	id, err := core.ReadIdentification(f.reader())
	require.NoError(t, err)
	require.Equal(t, core.DialectV3, id.Dialect)
	return f, id
}

func TestParseV3(t *testing.T) {
	f, id := buildV3Fixture(t)

	g, err := ParseV3(f.reader(), id)
	require.NoError(t, err)
	require.Empty(t, g.Problems)

	require.Equal(t, "tester", g.Header.Author)
	require.Equal(t, "bench", g.Header.Project)
	require.Equal(t, "21:07:2025", g.Header.Date)
	require.Equal(t, uint64(1753108200000000000), g.Header.StartTimeNS)
	require.Equal(t, "testgen", g.Header.Program)

	require.Len(t, g.DataGroups, 1)
	dg := g.DataGroups[0]
	require.True(t, dg.Sorted())
	require.NotNil(t, dg.Trigger)
	require.Len(t, dg.Trigger.Events, 1)
	require.Equal(t, 1.5, dg.Trigger.Events[0].Time)
	require.Equal(t, 0.25, dg.Trigger.Events[0].PreTime)
	require.Equal(t, 2.0, dg.Trigger.Events[0].PostTime)
	require.Len(t, dg.Groups, 1)

	cg := dg.Groups[0]
	require.Equal(t, uint64(5), cg.CycleCount)
	require.Equal(t, uint32(10), cg.DataBytes)
	require.Len(t, cg.Channels, 2)

	master := cg.Channels[0]
	require.Equal(t, "time", master.Name)
	require.True(t, master.IsMaster(core.DialectV3))
	require.Equal(t, uint32(64), master.BitCount)
	require.Equal(t, KindFloat, master.Kind(core.DialectV3))

	data := cg.Channels[1]
	require.Equal(t, "engine_speed_long_name", data.Name)
	require.Equal(t, uint32(8), data.ByteOffset)
	require.Equal(t, "rpm", data.Unit)
	require.Equal(t, convert.Linear, data.Conversion.Kind)
	require.Equal(t, []float64{5, 2}, data.Conversion.Params)
}

func TestParseV3LinkCycle(t *testing.T) {
	f, id := buildV3Fixture(t)

	// Point the data group's next link back at itself.
	g, err := ParseV3(f.reader(), id)
	require.NoError(t, err)
	require.Len(t, g.DataGroups, 1)

	dgOffset := f.firstDG()
	f.put32(dgOffset+4, uint32(dgOffset))
	g, err = ParseV3(f.reader(), id)
	require.NoError(t, err)
	require.Len(t, g.DataGroups, 1)
	require.Len(t, g.Problems, 1)
	require.ErrorContains(t, g.Problems[0], "link cycle")
}

func TestParseV3UnknownConversionLeftRaw(t *testing.T) {
	f, id := buildV3Fixture(t)

	// Rewrite the data channel's conversion to a CANopen date (type 132),
	// which has no physical-conversion equivalent.
	dg := f.firstDG()
	cg := f.link(dg + 8)
	cn2 := f.link(f.link(cg+8) + 4)
	cc := f.link(cn2 + 8)
	f.put16(cc+42, 132)

	g, err := ParseV3(f.reader(), id)
	require.NoError(t, err)
	require.Len(t, g.DataGroups, 1)
	require.Len(t, g.Problems, 1)
	require.ErrorIs(t, g.Problems[0], utils.ErrUnsupportedBlockType)

	data := g.DataGroups[0].Groups[0].Channels[1]
	require.Equal(t, convert.Identity, data.Conversion.Kind)
	require.Equal(t, "rpm", data.Unit)
}

func TestParseV3SourceExtension(t *testing.T) {
	f, id := buildV3Fixture(t)

	dg := f.firstDG()
	cg := f.link(dg + 8)
	cn2 := f.link(f.link(cg+8) + 4)

	// CAN extension: ids, 36-byte message name, 36-byte sender name.
	ce := f.reserve(86)
	f.putTag(ce, "CE", 86)
	f.put16(ce+4, 19)
	f.put32(ce+6, 0x123)
	f.put32(ce+10, 1)
	copy(f.buf[ce+14:], "EngineData")
	copy(f.buf[ce+50:], "ECM")
	f.put32(cn2+12, uint32(ce))

	g, err := ParseV3(f.reader(), id)
	require.NoError(t, err)
	require.Empty(t, g.Problems)

	src := g.DataGroups[0].Groups[0].Channels[1].Source
	require.NotNil(t, src)
	require.Equal(t, uint8(19), src.Type)
	require.Equal(t, uint8(2), src.BusType)
	require.Equal(t, "EngineData", src.Name)
	require.Equal(t, "ECM", src.Path)
}

func TestParseV3TruncatedGroupIsDropped(t *testing.T) {
	f, id := buildV3Fixture(t)

	// Point the channel-group link past the end of the image.
	dgOffset := f.firstDG()
	f.put32(dgOffset+8, uint32(len(f.buf)+512))

	g, err := ParseV3(f.reader(), id)
	require.NoError(t, err)
	require.Empty(t, g.DataGroups)
	require.Len(t, g.Problems, 1)
}

// v4File assembles a synthetic v4 file image with 8-aligned blocks.
type v4File struct {
	buf []byte
}

func newV4File() *v4File {
	id := make([]byte, core.IDBlockSize)
	copy(id, "MDF     4.10    test    ")
	binary.LittleEndian.PutUint16(id[28:30], 410)
	return &v4File{buf: id}
}

func (f *v4File) block(id string, links []uint64, data []byte) uint64 {
	for len(f.buf)%8 != 0 {
		f.buf = append(f.buf, 0)
	}
	off := uint64(len(f.buf))
	length := uint64(24 + len(links)*8 + len(data))
	header := make([]byte, 24)
	copy(header, id)
	binary.LittleEndian.PutUint64(header[8:16], length)
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(links)))
	f.buf = append(f.buf, header...)
	for _, l := range links {
		var lb [8]byte
		binary.LittleEndian.PutUint64(lb[:], l)
		f.buf = append(f.buf, lb[:]...)
	}
	f.buf = append(f.buf, data...)
	return off
}

func (f *v4File) patchLink(block uint64, index int, target uint64) {
	at := block + 24 + uint64(index)*8
	binary.LittleEndian.PutUint64(f.buf[at:at+8], target)
}

// link reads the block's index-th link.
func (f *v4File) link(block uint64, index int) uint64 {
	at := block + 24 + uint64(index)*8
	return binary.LittleEndian.Uint64(f.buf[at : at+8])
}

// dataStart returns the offset of the block's data section.
func (f *v4File) dataStart(block uint64) uint64 {
	links := binary.LittleEndian.Uint64(f.buf[block+16 : block+24])
	return block + 24 + links*8
}

func (f *v4File) text(s string) uint64 {
	return f.block("##TX", nil, append([]byte(s), 0))
}

func (f *v4File) reader() *bytes.Reader {
	return bytes.NewReader(f.buf)
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func f64le(v float64) []byte {
	return u64le(math.Float64bits(v))
}

func buildV4Fixture(t *testing.T) (*v4File, *core.Identification) {
	t.Helper()
	f := newV4File()

	// The header block must sit right after the identification block.
	hdData := append(u64le(1753108200000000000), make([]byte, 24)...)
	hd := f.block("##HD", []uint64{0, 0, 0, 0, 0, 0}, hdData)
	require.Equal(t, uint64(64), hd)

	hdComment := f.block("##MD", nil, []byte(`<HDcomment><TX>test run</TX>`+
		`<common_properties><e name="author">alice</e><e name="project">bench</e>`+
		`</common_properties></HDcomment>`+"\x00"))
	f.patchLink(hd, 5, hdComment)

	fhComment := f.block("##MD", nil, []byte(`<FHcomment><TX>created</TX>`+
		`<tool_id>mdfdump</tool_id><tool_vendor>acme</tool_vendor>`+
		`<tool_version>1.0</tool_version></FHcomment>`+"\x00"))
	fhData := append(u64le(1753108200000000000), make([]byte, 8)...)
	fh := f.block("##FH", []uint64{0, fhComment}, fhData)
	f.patchLink(hd, 1, fh)

	// Channels: float64 master at byte 0, u16 value at byte 8.
	timeName := f.text("t")
	cnTimeData := make([]byte, 72)
	cnTimeData[0] = V4ChannelMaster
	cnTimeData[1] = 1 // time sync
	cnTimeData[2] = 4 // float LE
	binary.LittleEndian.PutUint32(cnTimeData[8:12], 64)
	cnTime := f.block("##CN", []uint64{0, 0, timeName, 0, 0, 0, 0, 0}, cnTimeData)

	ccUnit := f.text("degC")
	ccData := []byte{1, 0, 0, 0, 0, 0, 2, 0}
	ccData = append(ccData, make([]byte, 16)...) // min/max
	ccData = append(ccData, f64le(-40)...)
	ccData = append(ccData, f64le(0.5)...)
	cc := f.block("##CC", []uint64{0, ccUnit, 0, 0}, ccData)

	valName := f.text("coolant_temp")
	cnValData := make([]byte, 72)
	cnValData[2] = 0 // uint LE
	binary.LittleEndian.PutUint32(cnValData[4:8], 8)
	binary.LittleEndian.PutUint32(cnValData[8:12], 16)
	cnVal := f.block("##CN", []uint64{0, 0, valName, 0, cc, 0, 0, 0}, cnValData)
	f.patchLink(cnTime, 0, cnVal)

	cgData := make([]byte, 32)
	binary.LittleEndian.PutUint64(cgData[8:16], 7) // cycles
	binary.LittleEndian.PutUint32(cgData[24:28], 10)
	cg := f.block("##CG", []uint64{0, cnTime, 0, 0, 0, 0}, cgData)

	dgData := make([]byte, 8) // record id size 0
	dg := f.block("##DG", []uint64{0, cg, 0, 0}, dgData)
	f.patchLink(hd, 0, dg)

	id, err := core.ReadIdentification(f.reader())
	require.NoError(t, err)
	require.Equal(t, core.DialectV4, id.Dialect)
	return f, id
}

func TestParseV4(t *testing.T) {
	f, id := buildV4Fixture(t)

	g, err := ParseV4(f.reader(), id)
	require.NoError(t, err)
	require.Empty(t, g.Problems)

	require.Equal(t, "alice", g.Header.Author)
	require.Equal(t, "bench", g.Header.Project)
	require.Equal(t, "test run", g.Header.Comment)
	require.Equal(t, uint64(1753108200000000000), g.Header.StartTimeNS)

	require.Len(t, g.FileHistory, 1)
	require.Equal(t, "mdfdump", g.FileHistory[0].ToolID)
	require.Equal(t, "acme", g.FileHistory[0].ToolVendor)

	require.Len(t, g.DataGroups, 1)
	dg := g.DataGroups[0]
	require.True(t, dg.Sorted())
	require.Len(t, dg.Groups, 1)

	cg := dg.Groups[0]
	require.Equal(t, uint64(7), cg.CycleCount)
	require.Equal(t, uint32(10), cg.DataBytes)
	require.False(t, cg.VLSD())
	require.Len(t, cg.Channels, 2)

	master := cg.Channels[0]
	require.Equal(t, "t", master.Name)
	require.True(t, master.IsMaster(core.DialectV4))
	require.Equal(t, "s", master.MasterUnit())

	val := cg.Channels[1]
	require.Equal(t, "coolant_temp", val.Name)
	require.Equal(t, uint32(8), val.ByteOffset)
	require.Equal(t, "degC", val.Unit)
	require.Equal(t, convert.Linear, val.Conversion.Kind)
	require.Equal(t, []float64{-40, 0.5}, val.Conversion.Params)
}

func TestParseV4UnknownConversionLeftRaw(t *testing.T) {
	f, id := buildV4Fixture(t)

	dg := f.link(64, 0)
	cg := f.link(dg, 1)
	cnVal := f.link(f.link(cg, 1), 0)
	cc := f.link(cnVal, 4)
	f.buf[f.dataStart(cc)] = 11 // no such conversion type

	g, err := ParseV4(f.reader(), id)
	require.NoError(t, err)
	require.Len(t, g.DataGroups, 1)
	require.Len(t, g.Problems, 1)
	require.ErrorIs(t, g.Problems[0], utils.ErrUnsupportedBlockType)

	data := g.DataGroups[0].Groups[0].Channels[1]
	require.Equal(t, convert.Identity, data.Conversion.Kind)
	require.Equal(t, "degC", data.Unit)
}

func TestParseV4ValueToTextWithNestedDefault(t *testing.T) {
	f, id := buildV4Fixture(t)

	off := f.text("off")
	on := f.text("on")

	// Nested linear conversion serves as the out-of-table default.
	nestedData := []byte{1, 0, 0, 0, 0, 0, 2, 0}
	nestedData = append(nestedData, make([]byte, 16)...)
	nestedData = append(nestedData, f64le(0)...)
	nestedData = append(nestedData, f64le(10)...)
	nested := f.block("##CC", []uint64{0, 0, 0, 0}, nestedData)

	ccData := []byte{7, 0, 0, 0, 3, 0, 2, 0}
	ccData = append(ccData, make([]byte, 16)...)
	ccData = append(ccData, f64le(0)...)
	ccData = append(ccData, f64le(1)...)
	cc := f.block("##CC", []uint64{0, 0, 0, 0, off, on, nested}, ccData)

	name := f.text("state")
	cnData := make([]byte, 72)
	binary.LittleEndian.PutUint32(cnData[4:8], 4)
	binary.LittleEndian.PutUint32(cnData[8:12], 8)
	cn := f.block("##CN", []uint64{0, 0, name, 0, cc, 0, 0, 0}, cnData)

	cgData := make([]byte, 32)
	binary.LittleEndian.PutUint32(cgData[24:28], 5)
	cg := f.block("##CG", []uint64{0, cn, 0, 0, 0, 0}, cgData)
	dg := f.block("##DG", []uint64{0, cg, 0, 0}, make([]byte, 8))

	// Splice the new data group in front of the fixture's one.
	firstDG := binary.LittleEndian.Uint64(f.buf[64+24 : 64+32])
	f.patchLink(dg, 0, firstDG)
	f.patchLink(64, 0, dg)

	g, err := ParseV4(f.reader(), id)
	require.NoError(t, err)
	require.Empty(t, g.Problems)
	require.Len(t, g.DataGroups, 2)

	c := g.DataGroups[0].Groups[0].Channels[0].Conversion
	require.Equal(t, convert.ValueToText, c.Kind)
	require.Equal(t, []float64{0, 1}, c.Keys)
	require.Equal(t, []string{"off", "on"}, c.Texts)
	require.NotNil(t, c.NestedDefault)
	require.Equal(t, convert.Linear, c.NestedDefault.Kind)
	require.Equal(t, []float64{0, 10}, c.NestedDefault.Params)
}

func TestParseV4ArrayComposition(t *testing.T) {
	f, id := buildV4Fixture(t)

	// 3-element fixed array of u16, stride 2 bytes.
	caData := make([]byte, 24)
	caData[0] = 0 // array type
	caData[1] = 0 // CN template storage
	binary.LittleEndian.PutUint16(caData[2:4], 1)
	binary.LittleEndian.PutUint32(caData[8:12], 2)
	binary.LittleEndian.PutUint64(caData[16:24], 3)
	ca := f.block("##CA", nil, caData)

	name := f.text("accel")
	cnData := make([]byte, 72)
	binary.LittleEndian.PutUint32(cnData[4:8], 0)
	binary.LittleEndian.PutUint32(cnData[8:12], 16)
	cn := f.block("##CN", []uint64{0, ca, name, 0, 0, 0, 0, 0}, cnData)

	cgData := make([]byte, 32)
	binary.LittleEndian.PutUint32(cgData[24:28], 6)
	cg := f.block("##CG", []uint64{0, cn, 0, 0, 0, 0}, cgData)
	dg := f.block("##DG", []uint64{0, cg, 0, 0}, make([]byte, 8))

	firstDG := binary.LittleEndian.Uint64(f.buf[64+24 : 64+32])
	f.patchLink(dg, 0, firstDG)
	f.patchLink(64, 0, dg)

	g, err := ParseV4(f.reader(), id)
	require.NoError(t, err)
	require.Empty(t, g.Problems)

	chans := g.DataGroups[0].Groups[0].Channels
	require.Len(t, chans, 3)
	require.Equal(t, "accel[0]", chans[0].Name)
	require.Equal(t, "accel[2]", chans[2].Name)
	require.Equal(t, uint32(0), chans[0].ByteOffset)
	require.Equal(t, uint32(4), chans[2].ByteOffset)
}

func TestApplyChannelRenames(t *testing.T) {
	g := &Graph{
		DataGroups: []DataGroup{
			{Index: 0, Groups: []ChannelGroup{{Channels: []Channel{
				{Name: "speed"}, {Name: "speed"},
			}}}},
			{Index: 1, Groups: []ChannelGroup{{Channels: []Channel{
				{Name: "speed"},
			}}}},
		},
	}
	applyChannelRenames(g)

	require.Equal(t, "speed", g.DataGroups[0].Groups[0].Channels[0].Name)
	require.Equal(t, "speed_1", g.DataGroups[0].Groups[0].Channels[1].Name)
	require.Equal(t, "speed_dg1", g.DataGroups[1].Groups[0].Channels[0].Name)
}

func TestFormulaFromComment(t *testing.T) {
	require.Equal(t, "X*2+1", formulaFromComment("X*2+1"))
	require.Equal(t, "X*2+1",
		formulaFromComment(`<CCcomment><formula>X*2+1</formula></CCcomment>`))
	require.Equal(t, "fallback",
		formulaFromComment(`<CCcomment><TX>fallback</TX></CCcomment>`))
}
