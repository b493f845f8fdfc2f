package writer

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/core"
)

// Block sizes of the fixed v3.30 layout.
const (
	hdSize      = 208
	dgSize      = 24
	cgSize      = 26
	cnSize      = 228
	ccFixedSize = 46

	writeVersion  = 330
	writeCodePage = 28591 // Latin-1
	maxRecordSize = 0xFFFF
)

// HeaderSpec carries the measurement metadata written into the header
// block.
type HeaderSpec struct {
	Author       string
	Organisation string
	Project      string
	Subject      string
	Comment      string
	StartTime    time.Time
}

// ChannelSpec is one output channel: a name, an optional unit, and a
// sample column. All columns of a group must have equal length.
type ChannelSpec struct {
	Name        string
	Unit        string
	Description string
	Master      bool
	Samples     convert.Values
}

// GroupSpec is one output channel group.
type GroupSpec struct {
	Comment  string
	Channels []ChannelSpec
}

// WriteV3 serializes the groups into a new v3.30 file at path.
func WriteV3(path string, h HeaderSpec, groups []GroupSpec) error {
	fw, err := NewFileWriter(path, ModeTruncate, 0)
	if err != nil {
		return err
	}
	if err := WriteV3File(fw, h, groups); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}

// WriteV3File serializes the groups through an open FileWriter. Blocks are
// emitted in graph order with zero link placeholders, patched once the
// target addresses are known.
func WriteV3File(fw *FileWriter, h HeaderSpec, groups []GroupSpec) error {
	if err := writeIdentification(fw); err != nil {
		return err
	}
	hdAddr, err := writeHeaderBlock(fw, h)
	if err != nil {
		return err
	}

	prevLinkAt := hdAddr + 4 // HD first-DG link
	for gi := range groups {
		dgAddr, err := writeGroup(fw, &groups[gi])
		if err != nil {
			return fmt.Errorf("group %d: %w", gi, err)
		}
		if err := fw.PatchLink(prevLinkAt, dgAddr); err != nil {
			return err
		}
		prevLinkAt = dgAddr + 4 // DG next link
	}
	return fw.Flush()
}

func writeIdentification(fw *FileWriter) error {
	buf := make([]byte, core.IDBlockSize)
	copy(buf[0:8], core.Magic)
	copy(buf[8:16], "3.30    ")
	copy(buf[16:24], "mdf-go  ")
	binary.LittleEndian.PutUint16(buf[24:26], 0) // little-endian
	binary.LittleEndian.PutUint16(buf[26:28], 0) // IEEE 754
	binary.LittleEndian.PutUint16(buf[28:30], writeVersion)
	binary.LittleEndian.PutUint16(buf[30:32], writeCodePage)
	_, err := fw.WriteBlock(buf)
	return err
}

func writeHeaderBlock(fw *FileWriter, h HeaderSpec) (uint64, error) {
	start := h.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	buf := make([]byte, hdSize)
	copy(buf[0:2], "HD")
	binary.LittleEndian.PutUint16(buf[2:4], hdSize)
	putText(buf[18:28], start.Format("02:01:2006"))
	putText(buf[28:36], start.Format("15:04:05"))
	putText(buf[36:68], h.Author)
	putText(buf[68:100], h.Organisation)
	putText(buf[100:132], h.Project)
	putText(buf[132:164], h.Subject)
	binary.LittleEndian.PutUint64(buf[164:172], uint64(start.UnixNano()))

	addr, err := fw.WriteBlock(buf)
	if err != nil {
		return 0, err
	}
	if h.Comment != "" {
		txAddr, err := writeText(fw, h.Comment)
		if err != nil {
			return 0, err
		}
		if err := fw.PatchLink(addr+8, txAddr); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// channelField is the per-channel serialization plan: where the channel
// lands in the record and how its samples are encoded.
type channelField struct {
	spec     *ChannelSpec
	bitStart uint32
	byteSize uint32
	dataType uint16
}

func planGroup(g *GroupSpec) ([]channelField, uint32, int, error) {
	fields := make([]channelField, len(g.Channels))
	var byteCursor uint32
	count := -1

	for i := range g.Channels {
		ch := &g.Channels[i]
		f := channelField{spec: ch, bitStart: byteCursor * 8}

		switch ch.Samples.Kind {
		case convert.FloatValues:
			f.byteSize, f.dataType = 8, 3
		case convert.IntValues:
			f.byteSize, f.dataType = 8, 1
		case convert.UintValues:
			f.byteSize, f.dataType = 8, 0
		case convert.StringValues:
			f.dataType = 7
			for _, s := range ch.Samples.Strings {
				if n := uint32(len(core.EncodeLatin1(s))) + 1; n > f.byteSize {
					f.byteSize = n
				}
			}
			if f.byteSize == 0 {
				f.byteSize = 1
			}
		default:
			return nil, 0, 0, fmt.Errorf("channel %q: unsupported column kind", ch.Name)
		}

		n := ch.Samples.Len()
		if count < 0 || n < count {
			count = n
		}
		byteCursor += f.byteSize
		fields[i] = f
	}
	if count < 0 {
		count = 0
	}
	if byteCursor > maxRecordSize {
		return nil, 0, 0, fmt.Errorf("record size %d exceeds format limit", byteCursor)
	}
	return fields, byteCursor, count, nil
}

func writeGroup(fw *FileWriter, g *GroupSpec) (uint64, error) {
	fields, stride, count, err := planGroup(g)
	if err != nil {
		return 0, err
	}

	dgBuf := make([]byte, dgSize)
	copy(dgBuf[0:2], "DG")
	binary.LittleEndian.PutUint16(dgBuf[2:4], dgSize)
	binary.LittleEndian.PutUint16(dgBuf[20:22], 1) // one channel group
	dgAddr, err := fw.WriteBlock(dgBuf)
	if err != nil {
		return 0, err
	}

	cgBuf := make([]byte, cgSize)
	copy(cgBuf[0:2], "CG")
	binary.LittleEndian.PutUint16(cgBuf[2:4], cgSize)
	binary.LittleEndian.PutUint16(cgBuf[18:20], uint16(len(fields)))
	binary.LittleEndian.PutUint16(cgBuf[20:22], uint16(stride))
	binary.LittleEndian.PutUint32(cgBuf[22:26], uint32(count))
	cgAddr, err := fw.WriteBlock(cgBuf)
	if err != nil {
		return 0, err
	}
	if err := fw.PatchLink(dgAddr+8, cgAddr); err != nil {
		return 0, err
	}
	if g.Comment != "" {
		txAddr, err := writeText(fw, g.Comment)
		if err != nil {
			return 0, err
		}
		if err := fw.PatchLink(cgAddr+12, txAddr); err != nil {
			return 0, err
		}
	}

	prevLinkAt := cgAddr + 8 // CG first-CN link
	for i := range fields {
		cnAddr, err := writeChannel(fw, &fields[i])
		if err != nil {
			return 0, err
		}
		if err := fw.PatchLink(prevLinkAt, cnAddr); err != nil {
			return 0, err
		}
		prevLinkAt = cnAddr + 4 // CN next link
	}

	// Record area: column samples interleaved record by record. An empty
	// group keeps its zero data link.
	records := make([]byte, uint64(stride)*uint64(count))
	if len(records) > 0 {
		for i := range fields {
			encodeColumn(records, int(stride), count, &fields[i])
		}
		dataAddr, err := fw.WriteBlock(records)
		if err != nil {
			return 0, err
		}
		if err := fw.PatchLink(dgAddr+16, dataAddr); err != nil {
			return 0, err
		}
	}
	return dgAddr, nil
}

func writeChannel(fw *FileWriter, f *channelField) (uint64, error) {
	buf := make([]byte, cnSize)
	copy(buf[0:2], "CN")
	binary.LittleEndian.PutUint16(buf[2:4], cnSize)
	if f.spec.Master {
		binary.LittleEndian.PutUint16(buf[24:26], 1)
	}
	putText(buf[26:58], f.spec.Name)
	putText(buf[58:186], f.spec.Description)

	// Records past 8KB overflow the 16-bit first-bit field; the overflow
	// moves into the additional byte offset.
	bitStart := f.bitStart
	if bitStart > maxRecordSize {
		extra := uint16(bitStart / 8)
		binary.LittleEndian.PutUint16(buf[226:228], extra)
		bitStart -= uint32(extra) * 8
	}
	binary.LittleEndian.PutUint16(buf[186:188], uint16(bitStart))
	binary.LittleEndian.PutUint16(buf[188:190], uint16(f.byteSize*8))
	binary.LittleEndian.PutUint16(buf[190:192], f.dataType)

	addr, err := fw.WriteBlock(buf)
	if err != nil {
		return 0, err
	}

	if len(f.spec.Name) > 31 {
		txAddr, err := writeText(fw, f.spec.Name)
		if err != nil {
			return 0, err
		}
		if err := fw.PatchLink(addr+218, txAddr); err != nil {
			return 0, err
		}
	}
	if f.spec.Unit != "" && f.dataType != 7 {
		ccAddr, err := writeIdentityConversion(fw, f.spec.Unit)
		if err != nil {
			return 0, err
		}
		if err := fw.PatchLink(addr+8, ccAddr); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// writeIdentityConversion emits a unity linear conversion carrying the
// unit string.
func writeIdentityConversion(fw *FileWriter, unit string) (uint64, error) {
	buf := make([]byte, ccFixedSize+16)
	copy(buf[0:2], "CC")
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(buf)))
	putText(buf[22:42], unit)
	binary.LittleEndian.PutUint16(buf[42:44], 0) // linear
	binary.LittleEndian.PutUint16(buf[44:46], 2)
	binary.LittleEndian.PutUint64(buf[46:54], math.Float64bits(0))
	binary.LittleEndian.PutUint64(buf[54:62], math.Float64bits(1))
	return fw.WriteBlock(buf)
}

func writeText(fw *FileWriter, s string) (uint64, error) {
	encoded := core.EncodeLatin1(s)
	buf := make([]byte, 4+len(encoded)+1)
	copy(buf[0:2], "TX")
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(buf)))
	copy(buf[4:], encoded)
	return fw.WriteBlock(buf)
}

// encodeColumn scatters one channel's samples into the interleaved record
// buffer.
func encodeColumn(records []byte, stride, count int, f *channelField) {
	base := int(f.bitStart / 8)
	for i := 0; i < count; i++ {
		at := i*stride + base
		switch f.spec.Samples.Kind {
		case convert.FloatValues:
			binary.LittleEndian.PutUint64(records[at:at+8], math.Float64bits(f.spec.Samples.Floats[i]))
		case convert.IntValues:
			binary.LittleEndian.PutUint64(records[at:at+8], uint64(f.spec.Samples.Ints[i]))
		case convert.UintValues:
			binary.LittleEndian.PutUint64(records[at:at+8], f.spec.Samples.Uints[i])
		case convert.StringValues:
			encoded := core.EncodeLatin1(f.spec.Samples.Strings[i])
			if len(encoded) > int(f.byteSize)-1 {
				encoded = encoded[:f.byteSize-1]
			}
			copy(records[at:at+int(f.byteSize)], encoded)
		}
	}
}

// putText writes a NUL-padded Latin-1 string into a fixed-width field.
func putText(dst []byte, s string) {
	encoded := core.EncodeLatin1(s)
	if len(encoded) > len(dst) {
		encoded = encoded[:len(dst)]
	}
	copy(dst, encoded)
}
