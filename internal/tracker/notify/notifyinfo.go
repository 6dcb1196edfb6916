package notify

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// The canonical buffer format is the FILE_NOTIFY_INFORMATION layout:
//
//	offset 0: NextEntryOffset uint32 (0 terminates the chain)
//	offset 4: Action          uint32
//	offset 8: FileNameLength  uint32 (bytes, not characters)
//	offset 12: FileName       [FileNameLength/2]uint16, no terminator
//
// Records start on 4-byte boundaries. All integers are little-endian.
const notifyHeaderSize = 12

// DecodeNotifyInformation parses a chain of FILE_NOTIFY_INFORMATION records.
// Records with action 0 are skipped. Names are converted from UTF-16,
// normalised to NFC and returned with the local OS separator.
func DecodeNotifyInformation(buf []byte) ([]Record, error) {
	var records []Record

	offset := 0
	for len(buf) > 0 {
		if offset+notifyHeaderSize > len(buf) {
			return records, fmt.Errorf("%w: header at offset %d exceeds %d bytes", ErrMalformedBuffer, offset, len(buf))
		}

		next := binary.LittleEndian.Uint32(buf[offset:])
		action := Action(binary.LittleEndian.Uint32(buf[offset+4:]))
		nameLen := int(binary.LittleEndian.Uint32(buf[offset+8:]))

		nameStart := offset + notifyHeaderSize
		if nameLen%2 != 0 || nameStart+nameLen > len(buf) {
			return records, fmt.Errorf("%w: name of %d bytes at offset %d exceeds buffer", ErrMalformedBuffer, nameLen, offset)
		}

		if action != ActionNone {
			records = append(records, Record{
				Action: action,
				Name:   decodeName(buf[nameStart : nameStart+nameLen]),
			})
		}

		if next == 0 {
			break
		}
		offset += int(next)
	}

	return records, nil
}

// EncodeNotifyInformation writes records into buf in the canonical format
// and returns the number of bytes used. Records that do not fit are left
// out; the second return value reports how many records were written.
func EncodeNotifyInformation(buf []byte, records []Record) (int, int) {
	offset := 0
	prev := -1
	written := 0

	for _, rec := range records {
		units := utf16.Encode([]rune(filepath.ToSlash(rec.Name)))
		for i, u := range units {
			if u == '/' {
				units[i] = '\\'
			}
		}
		size := align4(notifyHeaderSize + 2*len(units))
		if offset+size > len(buf) {
			break
		}

		binary.LittleEndian.PutUint32(buf[offset:], 0)
		binary.LittleEndian.PutUint32(buf[offset+4:], uint32(rec.Action))
		binary.LittleEndian.PutUint32(buf[offset+8:], uint32(2*len(units)))
		for i, u := range units {
			binary.LittleEndian.PutUint16(buf[offset+notifyHeaderSize+2*i:], u)
		}

		if prev >= 0 {
			binary.LittleEndian.PutUint32(buf[prev:], uint32(offset-prev))
		}
		prev = offset
		offset += size
		written++
	}

	return offset, written
}

// decodeName converts a raw UTF-16LE name into a normalised local path.
func decodeName(raw []byte) string {
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	name := string(utf16.Decode(units))
	return normalizeName(filepath.FromSlash(strings.ReplaceAll(name, `\`, "/")))
}

// normalizeName returns name in Unicode normalisation form C so that the
// same file reported by different backends compares equal.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

func align4(n int) int {
	return (n + 3) &^ 3
}
