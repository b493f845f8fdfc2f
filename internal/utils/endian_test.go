package utils

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadUint16BothOrders(t *testing.T) {
	r := bytes.NewReader([]byte{0x34, 0x12})

	le, err := ReadUint16(r, 0, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), le)

	be, err := ReadUint16(r, 0, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint16(0x3412), be)
}

func TestReadUint32AtOffset(t *testing.T) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[4:], 0xDEADBEEF)
	r := bytes.NewReader(buf)

	v, err := ReadUint32(r, 4, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v)
}

func TestReadUint64ShortRead(t *testing.T) {
	r := bytes.NewReader([]byte{1, 2, 3})
	_, err := ReadUint64(r, 0, binary.LittleEndian)
	require.Error(t, err)
}

func TestReadFloat64(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(3.25))
	r := bytes.NewReader(buf)

	v, err := ReadFloat64(r, 0, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, 3.25, v)
}

func TestFloat64At(t *testing.T) {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(-1.5))
	require.Equal(t, -1.5, Float64At(buf, 8, binary.BigEndian))
}

func TestReadBytes(t *testing.T) {
	r := bytes.NewReader([]byte("HD\x00\x01"))
	b, err := ReadBytes(r, 0, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("HD"), b)
}
