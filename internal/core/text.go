package core

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// TextEncoding identifies how string payloads are encoded in the file.
type TextEncoding int

// Encodings used by v3 text fields (always Latin-1) and v4 string channels.
const (
	Latin1 TextEncoding = iota
	UTF8
	UTF16LE
	UTF16BE
)

// DecodeText decodes raw bytes and strips trailing NUL and space padding.
// Decoding never fails: undecodable bytes are replaced, not rejected, so a
// bad comment cannot abort a parse.
func DecodeText(b []byte, enc TextEncoding) string {
	var s string
	switch enc {
	case Latin1:
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
		if err != nil {
			s = string(b)
		} else {
			s = string(decoded)
		}
	case UTF16LE:
		s = decodeUTF16(b, unicode.LittleEndian)
	case UTF16BE:
		s = decodeUTF16(b, unicode.BigEndian)
	default: // UTF8
		s = strings.ToValidUTF8(string(b), "�")
	}
	return strings.TrimRight(s, "\x00 ")
}

func decodeUTF16(b []byte, e unicode.Endianness) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	dec := unicode.UTF16(e, unicode.IgnoreBOM).NewDecoder()
	decoded, err := dec.Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(decoded)
}

// EncodeLatin1 renders s as ISO 8859-1 bytes for v3 text fields.
// Characters outside the codepage become '?'.
func EncodeLatin1(s string) []byte {
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r < 0x100 {
				out = append(out, byte(r))
			} else {
				out = append(out, '?')
			}
		}
		return out
	}
	return encoded
}

// EncodingForDataType maps a v4 string data-type code to its encoding.
// Codes 6..9 are Latin-1, UTF-8, UTF-16LE and UTF-16BE.
func EncodingForDataType(code uint8) TextEncoding {
	switch code {
	case 6:
		return Latin1
	case 8:
		return UTF16LE
	case 9:
		return UTF16BE
	default:
		return UTF8
	}
}
