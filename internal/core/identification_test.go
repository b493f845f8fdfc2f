package core

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func idBlock(versionString string, version uint16) []byte {
	buf := make([]byte, IDBlockSize)
	copy(buf[0:8], Magic)
	copy(buf[8:16], versionString)
	copy(buf[16:24], "mdfgo   ")
	binary.LittleEndian.PutUint16(buf[24:26], 0) // little-endian data
	binary.LittleEndian.PutUint16(buf[28:30], version)
	binary.LittleEndian.PutUint16(buf[30:32], 28591)
	return buf
}

func TestReadIdentificationV3(t *testing.T) {
	id, err := ReadIdentification(bytes.NewReader(idBlock("3.30    ", 330)))
	require.NoError(t, err)
	require.Equal(t, DialectV3, id.Dialect)
	require.Equal(t, uint16(330), id.Version)
	require.Equal(t, "3.30", id.VersionString)
	require.Equal(t, "mdfgo", id.Program)
	require.Equal(t, binary.ByteOrder(binary.LittleEndian), id.ByteOrder)
}

func TestReadIdentificationV4(t *testing.T) {
	id, err := ReadIdentification(bytes.NewReader(idBlock("4.10    ", 410)))
	require.NoError(t, err)
	require.Equal(t, DialectV4, id.Dialect)
	require.Equal(t, uint16(410), id.Version)
}

func TestReadIdentificationBigEndianV3(t *testing.T) {
	buf := idBlock("3.00    ", 300)
	binary.LittleEndian.PutUint16(buf[24:26], 1)
	id, err := ReadIdentification(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, binary.ByteOrder(binary.BigEndian), id.ByteOrder)
}

func TestReadIdentificationUnfinished(t *testing.T) {
	buf := idBlock("4.10    ", 410)
	copy(buf[0:8], MagicUnfinished)
	id, err := ReadIdentification(bytes.NewReader(buf))
	require.NoError(t, err)
	require.True(t, id.Unfinished)
}

func TestReadIdentificationRejectsForeignFile(t *testing.T) {
	buf := make([]byte, IDBlockSize)
	copy(buf, "\x89HDF\r\n\x1a\n")
	_, err := ReadIdentification(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestReadIdentificationTruncated(t *testing.T) {
	_, err := ReadIdentification(bytes.NewReader([]byte("MDF")))
	require.Error(t, err)
}
