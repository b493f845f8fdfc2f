// Package mdftest builds synthetic measurement-file images for tests:
// a block-level v4 builder and canned single-group files for both
// dialects.
package mdftest

import (
	"bytes"
	"encoding/binary"
	"math"
)

// V4Builder assembles a v4 file image block by block. Blocks are 8-byte
// aligned; links are written as given and can be patched afterwards.
type V4Builder struct {
	buf []byte
}

// NewV4 starts an image with the identification block for version 4.10.
func NewV4() *V4Builder {
	id := make([]byte, 64)
	copy(id, "MDF     4.10    mdftest ")
	binary.LittleEndian.PutUint16(id[28:30], 410)
	return &V4Builder{buf: id}
}

// Block appends one block and returns its offset.
func (b *V4Builder) Block(id string, links []uint64, data []byte) uint64 {
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	off := uint64(len(b.buf))
	header := make([]byte, 24)
	copy(header, id)
	binary.LittleEndian.PutUint64(header[8:16], uint64(24+len(links)*8+len(data)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(links)))
	b.buf = append(b.buf, header...)
	for _, l := range links {
		var lb [8]byte
		binary.LittleEndian.PutUint64(lb[:], l)
		b.buf = append(b.buf, lb[:]...)
	}
	b.buf = append(b.buf, data...)
	return off
}

// Text appends a TX block.
func (b *V4Builder) Text(s string) uint64 {
	return b.Block("##TX", nil, append([]byte(s), 0))
}

// PatchLink overwrites link index of an earlier block.
func (b *V4Builder) PatchLink(block uint64, index int, target uint64) {
	at := block + 24 + uint64(index)*8
	binary.LittleEndian.PutUint64(b.buf[at:at+8], target)
}

// Bytes returns the image.
func (b *V4Builder) Bytes() []byte { return b.buf }

// Reader returns the image as an io.ReaderAt.
func (b *V4Builder) Reader() *bytes.Reader { return bytes.NewReader(b.buf) }

// U64 renders a little-endian uint64.
func U64(v uint64) []byte {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], v)
	return out[:]
}

// F64 renders a little-endian float64.
func F64(v float64) []byte {
	return U64(math.Float64bits(v))
}

// SimpleV4 builds a sorted v4.10 file with one channel group: a float64
// time master "t" plus a uint16 channel "speed" with a linear conversion
// (offset 0, factor 2) and unit "km/h". Records hold cycles samples with
// t[i] = i/10 and raw speed[i] = i.
func SimpleV4(cycles int) []byte {
	b := NewV4()

	hdData := append(U64(1_600_000_000_000_000_000), make([]byte, 24)...)
	hd := b.Block("##HD", []uint64{0, 0, 0, 0, 0, 0}, hdData)

	timeName := b.Text("t")
	cnTimeData := make([]byte, 72)
	cnTimeData[0] = 2 // master
	cnTimeData[1] = 1 // time sync
	cnTimeData[2] = 4 // float LE
	binary.LittleEndian.PutUint32(cnTimeData[8:12], 64)
	cnTime := b.Block("##CN", []uint64{0, 0, timeName, 0, 0, 0, 0, 0}, cnTimeData)

	unit := b.Text("km/h")
	ccData := []byte{1, 0, 0, 0, 0, 0, 2, 0}
	ccData = append(ccData, make([]byte, 16)...)
	ccData = append(ccData, F64(0)...)
	ccData = append(ccData, F64(2)...)
	cc := b.Block("##CC", []uint64{0, unit, 0, 0}, ccData)

	speedName := b.Text("speed")
	cnSpeedData := make([]byte, 72)
	binary.LittleEndian.PutUint32(cnSpeedData[4:8], 8)
	binary.LittleEndian.PutUint32(cnSpeedData[8:12], 16)
	cnSpeed := b.Block("##CN", []uint64{0, 0, speedName, 0, cc, 0, 0, 0}, cnSpeedData)
	b.PatchLink(cnTime, 0, cnSpeed)

	cgData := make([]byte, 32)
	binary.LittleEndian.PutUint64(cgData[8:16], uint64(cycles))
	binary.LittleEndian.PutUint32(cgData[24:28], 10)
	cg := b.Block("##CG", []uint64{0, cnTime, 0, 0, 0, 0}, cgData)

	records := make([]byte, 0, cycles*10)
	for i := 0; i < cycles; i++ {
		records = append(records, F64(float64(i)/10)...)
		var v [2]byte
		binary.LittleEndian.PutUint16(v[:], uint16(i))
		records = append(records, v[:]...)
	}
	dt := b.Block("##DT", nil, records)

	dg := b.Block("##DG", []uint64{0, cg, dt, 0}, make([]byte, 8))
	b.PatchLink(hd, 0, dg)
	return b.Bytes()
}

// SimpleV3 builds a v3.30 file with one channel group: a float64 time
// master "t" and a uint16 channel "speed" scaled by a linear conversion
// (offset 0, factor 2, unit "km/h"). Raw speed[i] = i.
func SimpleV3(cycles int) []byte {
	var buf []byte
	reserve := func(n int) int {
		off := len(buf)
		buf = append(buf, make([]byte, n)...)
		return off
	}
	put16 := func(off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:off+2], v) }
	put32 := func(off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:off+4], v) }
	putF64 := func(off int, v float64) {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
	}
	tag := func(off int, t string, size uint16) {
		copy(buf[off:off+2], t)
		put16(off+2, size)
	}

	id := reserve(64)
	copy(buf[id:], "MDF     3.30    mdftest ")
	put16(id+28, 330)

	hd := reserve(208)
	tag(hd, "HD", 208)
	copy(buf[hd+18:], "01:01:2020")
	copy(buf[hd+28:], "12:00:00")

	dg := reserve(24)
	tag(dg, "DG", 24)
	put32(hd+4, uint32(dg))
	put16(dg+20, 1)

	cg := reserve(26)
	tag(cg, "CG", 26)
	put32(dg+8, uint32(cg))
	put16(cg+18, 2)
	put16(cg+20, 10)
	put32(cg+22, uint32(cycles))

	cnTime := reserve(228)
	tag(cnTime, "CN", 228)
	put32(cg+8, uint32(cnTime))
	put16(cnTime+24, 1) // master
	copy(buf[cnTime+26:], "t")
	put16(cnTime+188, 64)
	put16(cnTime+190, 3) // double

	cnSpeed := reserve(228)
	tag(cnSpeed, "CN", 228)
	put32(cnTime+4, uint32(cnSpeed))
	copy(buf[cnSpeed+26:], "speed")
	put16(cnSpeed+186, 64)
	put16(cnSpeed+188, 16)
	put16(cnSpeed+190, 0) // unsigned

	cc := reserve(46 + 16)
	tag(cc, "CC", 46+16)
	copy(buf[cc+22:], "km/h")
	put16(cc+42, 0) // linear
	put16(cc+44, 2)
	putF64(cc+46, 0)
	putF64(cc+54, 2)
	put32(cnSpeed+8, uint32(cc))

	data := reserve(cycles * 10)
	put32(dg+16, uint32(data))
	for i := 0; i < cycles; i++ {
		putF64(data+i*10, float64(i)/10)
		put16(data+i*10+8, uint16(i))
	}
	return buf
}
