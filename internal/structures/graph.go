// Package structures materializes the MDF block graph: typed structs for
// every block kind of both dialects and the next/first-child traversal that
// turns pointer-linked blocks into an in-memory tree.
package structures

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/mdf/internal/convert"
	"github.com/scigolib/mdf/internal/core"
	"github.com/scigolib/mdf/internal/utils"
)

// Graph is the fully parsed structural tree of one file. It owns copies of
// all decoded scalar fields; no live file handle is retained. Data groups,
// channel groups and channels are addressed by index, not by pointer.
type Graph struct {
	Dialect   core.Dialect
	Version   uint16
	ByteOrder binary.ByteOrder // v3 file byte order; LittleEndian for v4

	Header      Header
	DataGroups  []DataGroup
	FileHistory []FileHistory
	Attachments []Attachment
	Events      []Event

	// ChannelHierarchy is the v4 CH chain offset, kept at pointer level.
	ChannelHierarchy int64

	// Problems encountered while parsing individual subtrees. A bad data
	// group lands here instead of failing the whole parse.
	Problems []error
}

// Header carries the decoded header block plus its comment metadata.
type Header struct {
	StartTimeNS  uint64
	Date         string // v3 "DD:MM:YYYY"
	Time         string // v3 "HH:MM:SS"
	Author       string
	Organisation string
	Project      string
	Subject      string
	Comment      string
	Program      string // v3 PR block payload
}

// DataGroup groups channel groups sharing one raw data payload.
type DataGroup struct {
	Index        int
	RecordIDSize uint8
	DataOffset   int64
	Comment      string
	Trigger      *Trigger // v3 only
	Groups       []ChannelGroup
}

// Trigger is a v3 TR block: the events that caused this group's recording.
type Trigger struct {
	Comment string
	Events  []TriggerEvent
}

// TriggerEvent is one trigger instant with its capture window in seconds.
type TriggerEvent struct {
	Time     float64
	PreTime  float64
	PostTime float64
}

// Sorted reports whether the group's payload holds exactly one channel
// group's records with no record-ID multiplexing.
func (dg *DataGroup) Sorted() bool {
	return len(dg.Groups) == 1 && dg.RecordIDSize == 0
}

// ChannelGroup describes one fixed-format record.
type ChannelGroup struct {
	// BlockOffset is the CG block's file offset; VLSD channels of sibling
	// groups reference their data group by this address.
	BlockOffset int64

	RecordID   uint64
	CycleCount uint64
	DataBytes  uint32 // declared record length, invalid-bytes trailer excluded
	InvalBytes uint32 // v4 invalid-bits trailer length
	Flags      uint16 // v4: bit 0 marks a VLSD group
	AcqName    string
	Comment    string
	Source     *SourceInfo
	Channels   []Channel

	// SampleReduction is the first SR block offset (v4), pointer level only.
	SampleReduction int64
}

// VLSD reports whether the group's records are variable-length (v4).
func (cg *ChannelGroup) VLSD() bool {
	return cg.Flags&0x1 != 0
}

// RecordStride is the stored bytes per record including the invalid-bytes
// trailer, record ID excluded.
func (cg *ChannelGroup) RecordStride() uint32 {
	return cg.DataBytes + cg.InvalBytes
}

// Channel is one signal inside a channel group.
type Channel struct {
	Name        string
	Unit        string
	Description string

	Type     uint8 // dialect channel-type code
	SyncType uint8 // v4 sync type (1 time, 2 angle, 3 distance, 4 index)
	DataType uint8 // dialect data-type code

	BitStart   uint32 // v3: absolute first bit within the record
	ByteOffset uint32 // v4: byte offset within the record
	BitOffset  uint8  // v4: bit offset within the first byte
	BitCount   uint32

	Conversion *convert.Conversion

	DataLink    int64  // v4 cn_data: VLSD signal data or attachment
	Flags       uint32 // v4 cn_flags
	InvalBitPos uint32
	Precision   uint8

	Source *SourceInfo

	// Composition points to a CA/CN composition block (v4); only one level
	// of fixed-size arrays is supported.
	Composition int64
}

// SourceInfo describes the acquisition source of a channel or group.
type SourceInfo struct {
	Name    string
	Path    string
	Type    uint8
	BusType uint8
}

// FileHistory is one v4 FH entry.
type FileHistory struct {
	TimeNS      uint64
	ToolID      string
	ToolVendor  string
	ToolVersion string
	UserName    string
	Comment     string
}

// Attachment is one v4 AT entry. Embedded payloads are copied out at parse
// time; external ones keep only the file name.
type Attachment struct {
	FileName     string
	MimeType     string
	Comment      string
	Flags        uint16
	CreatorIndex uint16
	MD5          [16]byte
	OriginalSize uint64
	Embedded     []byte
}

// Event is one v4 EV entry, parsed to identification level.
type Event struct {
	Name      string
	Type      uint8
	SyncType  uint8
	RangeType uint8
	Cause     uint8
}

// v3 channel-type codes.
const (
	V3ChannelData   = 0
	V3ChannelMaster = 1
)

// v4 channel-type codes.
const (
	V4ChannelFixed         = 0
	V4ChannelVLSD          = 1
	V4ChannelMaster        = 2
	V4ChannelVirtualMaster = 3
	V4ChannelSync          = 4
	V4ChannelMaxLength     = 5
	V4ChannelVirtualData   = 6
)

// IsMaster reports whether the channel is the independent axis of its group.
func (c *Channel) IsMaster(d core.Dialect) bool {
	if d == core.DialectV3 {
		return c.Type == V3ChannelMaster
	}
	return c.Type == V4ChannelMaster || c.Type == V4ChannelVirtualMaster
}

// IsVirtual reports whether the channel stores no record bytes and its
// values are the record index.
func (c *Channel) IsVirtual(d core.Dialect) bool {
	if d == core.DialectV3 {
		return false
	}
	return c.Type == V4ChannelVirtualMaster || c.Type == V4ChannelVirtualData
}

// MasterUnit returns the default unit for a master channel's sync type.
func (c *Channel) MasterUnit() string {
	if c.Unit != "" {
		return c.Unit
	}
	switch c.SyncType {
	case 1:
		return "s"
	case 2:
		return "rad"
	case 3:
		return "m"
	}
	return ""
}

// DataKind classifies the element type of a channel, dialect-neutrally.
type DataKind uint8

// Channel element kinds.
const (
	KindUint DataKind = iota
	KindInt
	KindFloat
	KindString
	KindBytes
	KindCANOpenDate
	KindCANOpenTime
	KindUnknown
)

// Kind maps the dialect data-type code onto the neutral element kind.
func (c *Channel) Kind(d core.Dialect) DataKind {
	if d == core.DialectV3 {
		switch c.DataType {
		case 0, 9, 13:
			return KindUint
		case 1, 10, 14:
			return KindInt
		case 2, 3, 11, 12, 15, 16:
			return KindFloat
		case 7:
			return KindString
		case 8:
			return KindBytes
		}
		return KindUnknown
	}
	switch c.DataType {
	case 0, 1:
		return KindUint
	case 2, 3:
		return KindInt
	case 4, 5:
		return KindFloat
	case 6, 7, 8, 9:
		return KindString
	case 10, 11, 12:
		return KindBytes
	case 13:
		return KindCANOpenDate
	case 14:
		return KindCANOpenTime
	}
	return KindUnknown
}

// Order resolves the byte order of the channel's record field. v3 types
// 0..3 follow the file byte order, 9..12 are big-endian, 13..16
// little-endian. v4 odd integer/float codes are big-endian.
func (c *Channel) Order(d core.Dialect, fileOrder binary.ByteOrder) binary.ByteOrder {
	if d == core.DialectV3 {
		switch {
		case c.DataType >= 9 && c.DataType <= 12:
			return binary.BigEndian
		case c.DataType >= 13 && c.DataType <= 16:
			return binary.LittleEndian
		default:
			return fileOrder
		}
	}
	switch c.DataType {
	case 1, 3, 5, 9:
		return binary.BigEndian
	default:
		return binary.LittleEndian
	}
}

// Encoding returns the text encoding for string channels.
func (c *Channel) Encoding(d core.Dialect) core.TextEncoding {
	if d == core.DialectV3 {
		return core.Latin1
	}
	return core.EncodingForDataType(c.DataType)
}

// linkWalker guards next-pointer list walks against circular links.
// The format never legitimately revisits an offset within one list.
type linkWalker struct {
	seen map[int64]struct{}
}

func newLinkWalker() *linkWalker {
	return &linkWalker{seen: make(map[int64]struct{})}
}

// visit registers an offset. Offset 0 terminates a walk and is never an
// error; a revisited offset means the file's links form a cycle.
func (w *linkWalker) visit(offset int64) error {
	if _, ok := w.seen[offset]; ok {
		return utils.WrapError(
			fmt.Sprintf("link cycle at offset %d", offset), utils.ErrMalformedGraph)
	}
	w.seen[offset] = struct{}{}
	return nil
}
