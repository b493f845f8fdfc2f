// Package layout compiles one channel group's channel list into a flat
// record layout: ordered physical fields, embedded bit fields resolved
// against their carrier, record-ID geometry, and the fast-path flags the
// decoder keys on.
package layout

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/structures"
	"github.com/scigolib/mdf/internal/utils"
)

// Field is one decodable value inside a record.
type Field struct {
	Name string

	// Ch points back at the source channel; nil for pseudo fields like the
	// invalid-bytes trailer and CANOpen subfields.
	Ch *structures.Channel

	ByteOffset uint32
	BitOffset  uint8
	BitCount   uint32
	ByteSize   uint32 // bytes this field spans in the record

	Kind   structures.DataKind
	Signed bool
	Order  binary.ByteOrder
	Enc    core.TextEncoding

	// EmbeddedIn is the index of the physical field whose bytes carry this
	// bit field, or -1 when the field owns its bytes.
	EmbeddedIn int

	// VLSD marks a field whose record value is an offset into the
	// channel's signal-data stream.
	VLSD bool

	// Virtual marks a field with no record bytes; its value is the record
	// index.
	Virtual bool
}

// Aligned reports whether the field can be bulk-copied without bit surgery.
func (f *Field) Aligned() bool {
	return f.BitOffset == 0 && f.BitCount%8 == 0
}

// Layout is the compiled record description of one channel group.
type Layout struct {
	Fields []Field

	// Stride is the declared record length in bytes, invalid-bytes trailer
	// included, record ID excluded.
	Stride uint32

	RecordIDSize uint8
	// TrailingID repeats the record ID after the record body (v3 width 2).
	TrailingID bool

	// ByteAligned is set when every field sits on byte boundaries, the
	// precondition for the bulk column decode path.
	ByteAligned bool

	// HiddenBytes is set when the declared record is wider than the
	// compiled fields; the gap is skipped, not decoded.
	HiddenBytes bool

	// Master indexes the group's master-channel field, -1 when absent.
	Master int

	CompiledWidth uint32

	// Problems carries non-fatal findings such as a compiled layout wider
	// than the declared record.
	Problems []error
}

// Compile builds the record layout of cg within dg.
func Compile(g *structures.Graph, dg *structures.DataGroup, cg *structures.ChannelGroup) (*Layout, error) {
	l := &Layout{
		Stride:       cg.RecordStride(),
		RecordIDSize: dg.RecordIDSize,
		ByteAligned:  true,
		Master:       -1,
	}
	if g.Dialect == core.DialectV3 && dg.RecordIDSize == 2 {
		l.RecordIDSize = 1
		l.TrailingID = true
	}

	ordered := make([]*structures.Channel, 0, len(cg.Channels))
	for i := range cg.Channels {
		ordered = append(ordered, &cg.Channels[i])
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return bitPos(ordered[a]) < bitPos(ordered[b])
	})

	lastPhys := -1
	for _, cn := range ordered {
		if cn.IsVirtual(g.Dialect) {
			l.Fields = append(l.Fields, Field{
				Name:       cn.Name,
				Ch:         cn,
				Kind:       structures.KindUint,
				Order:      binary.LittleEndian,
				EmbeddedIn: -1,
				Virtual:    true,
			})
			continue
		}

		kind := cn.Kind(g.Dialect)
		switch kind {
		case structures.KindCANOpenDate:
			l.appendCANOpenDate(cn)
			lastPhys = len(l.Fields) - 1
			continue
		case structures.KindCANOpenTime:
			l.appendCANOpenTime(cn)
			lastPhys = len(l.Fields) - 1
			continue
		case structures.KindUnknown:
			return nil, utils.WrapError(
				fmt.Sprintf("channel %q data type %d", cn.Name, cn.DataType),
				utils.ErrUnsupportedBlockType)
		}

		f := Field{
			Name:       cn.Name,
			Ch:         cn,
			ByteOffset: cn.ByteOffset,
			BitOffset:  cn.BitOffset,
			BitCount:   cn.BitCount,
			Kind:       kind,
			Signed:     kind == structures.KindInt,
			Order:      cn.Order(g.Dialect, g.ByteOrder),
			Enc:        cn.Encoding(g.Dialect),
			EmbeddedIn: -1,
			VLSD:       g.Dialect == core.DialectV4 && cn.Type == structures.V4ChannelVLSD,
		}
		f.ByteSize = (uint32(f.BitOffset) + f.BitCount + 7) / 8

		if lastPhys >= 0 && embeddedIn(&l.Fields[lastPhys], &f) {
			f.EmbeddedIn = lastPhys
			f.ByteSize = 0
			l.Fields = append(l.Fields, f)
			continue
		}

		if !f.Aligned() {
			l.ByteAligned = false
		}
		l.Fields = append(l.Fields, f)
		lastPhys = len(l.Fields) - 1
	}

	if g.Dialect == core.DialectV4 && cg.InvalBytes > 0 {
		l.Fields = append(l.Fields, Field{
			Name:       fmt.Sprintf("invalid_bytes%d", dg.Index),
			ByteOffset: cg.DataBytes,
			BitCount:   cg.InvalBytes * 8,
			ByteSize:   cg.InvalBytes,
			Kind:       structures.KindBytes,
			Order:      binary.LittleEndian,
			EmbeddedIn: -1,
		})
	}

	l.selectMaster(g.Dialect)
	l.checkWidth()
	return l, nil
}

func bitPos(cn *structures.Channel) uint64 {
	return uint64(cn.ByteOffset)*8 + uint64(cn.BitOffset)
}

// embeddedIn reports whether cand's bit range lies within the byte span of
// the physical field prev.
func embeddedIn(prev, cand *Field) bool {
	if prev.Virtual || prev.ByteSize == 0 {
		return false
	}
	prevStart := uint64(prev.ByteOffset) * 8
	prevEnd := prevStart + uint64(prev.ByteSize)*8
	candStart := uint64(cand.ByteOffset)*8 + uint64(cand.BitOffset)
	candEnd := candStart + uint64(cand.BitCount)
	return candStart >= prevStart && candEnd <= prevEnd &&
		!(candStart == prevStart && candEnd == prevEnd)
}

// appendCANOpenDate expands a 7-byte CANOpen date channel into its six
// calendar subfields.
func (l *Layout) appendCANOpenDate(cn *structures.Channel) {
	base := cn.ByteOffset
	sub := []struct {
		name string
		off  uint32
		bits uint32
	}{
		{"ms", 0, 16}, {"min", 2, 8}, {"hour", 3, 8},
		{"day", 4, 8}, {"month", 5, 8}, {"year", 6, 8},
	}
	for _, s := range sub {
		l.Fields = append(l.Fields, Field{
			Name:       cn.Name + "." + s.name,
			ByteOffset: base + s.off,
			BitCount:   s.bits,
			ByteSize:   s.bits / 8,
			Kind:       structures.KindUint,
			Order:      binary.LittleEndian,
			EmbeddedIn: -1,
		})
	}
}

// appendCANOpenTime expands a 6-byte CANOpen time channel.
func (l *Layout) appendCANOpenTime(cn *structures.Channel) {
	l.Fields = append(l.Fields,
		Field{
			Name:       cn.Name + ".ms",
			ByteOffset: cn.ByteOffset,
			BitCount:   32,
			ByteSize:   4,
			Kind:       structures.KindUint,
			Order:      binary.LittleEndian,
			EmbeddedIn: -1,
		},
		Field{
			Name:       cn.Name + ".days",
			ByteOffset: cn.ByteOffset + 4,
			BitCount:   16,
			ByteSize:   2,
			Kind:       structures.KindUint,
			Order:      binary.LittleEndian,
			EmbeddedIn: -1,
		})
}

func (l *Layout) selectMaster(d core.Dialect) {
	for i := range l.Fields {
		cn := l.Fields[i].Ch
		if cn == nil {
			continue
		}
		if cn.IsMaster(d) {
			l.Master = i
			return
		}
	}
	if d != core.DialectV4 {
		return
	}
	// No declared master: a time-synchronized channel still qualifies.
	for i := range l.Fields {
		cn := l.Fields[i].Ch
		if cn != nil && cn.SyncType == 1 {
			l.Master = i
			return
		}
	}
}

// checkWidth verifies the completeness invariant: every declared record
// byte is either covered by a physical field or counted as hidden.
func (l *Layout) checkWidth() {
	var extent uint32
	for i := range l.Fields {
		f := &l.Fields[i]
		if f.EmbeddedIn >= 0 || f.Virtual {
			continue
		}
		if end := f.ByteOffset + f.ByteSize; end > extent {
			extent = end
		}
	}
	l.CompiledWidth = extent
	switch {
	case extent < l.Stride:
		l.HiddenBytes = true
	case extent > l.Stride:
		l.Problems = append(l.Problems, utils.WrapError(
			fmt.Sprintf("compiled record width %d exceeds declared %d", extent, l.Stride),
			utils.ErrMalformedGraph))
	}
}
