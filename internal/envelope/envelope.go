// Package envelope implements the application-level framing carried over
// reliable transport streams: command dispatch, payload compression,
// chunking/reassembly for payloads larger than a single stream write,
// duplicate suppression, and optional parity-based forward error
// correction for lossy links.
package envelope

import (
	"encoding/binary"
	"hash/crc32"
)

// recordMagic identifies an envelope record on the wire.
var recordMagic = [4]byte{'M', 'B', 'E', 'V'}

// RecordVersion is the current envelope record format version.
const RecordVersion = 2

// Record is the header carried in front of a (possibly compressed,
// possibly chunked) envelope body. Command names the handler the gateway
// should dispatch the decoded body to once reassembly completes. ID
// correlates a request with its response and is the basis of the dedup
// key, independent of whatever transport stream happens to carry it.
type Record struct {
	ID             string
	Command        string
	Compression    Compression
	OriginalLength uint32
}

// EncodeRecordHeader serializes r into a fixed-layout header:
//
//	offset size field
//	  0    4   magic          "MBEV"
//	  4    1   version        u8
//	  5    1   compression    u8
//	  6    1   command_len    u8
//	  7    N   command        ascii bytes
//	 7+N   1   id_len         u8
//	 8+N   M   id             opaque bytes
//	8+N+M  4   original_len   u32 LE
//	12+N+M 4   header_crc32   u32 LE over bytes [0, 12+N+M)
func EncodeRecordHeader(r Record) []byte {
	cmd := []byte(r.Command)
	if len(cmd) > 255 {
		cmd = cmd[:255]
	}
	id := []byte(r.ID)
	if len(id) > 255 {
		id = id[:255]
	}
	n, m := len(cmd), len(id)
	buf := make([]byte, 8+n+m+4+4)

	copy(buf[0:4], recordMagic[:])
	buf[4] = RecordVersion
	buf[5] = byte(r.Compression)
	buf[6] = byte(n)
	copy(buf[7:7+n], cmd)
	buf[7+n] = byte(m)
	copy(buf[8+n:8+n+m], id)
	binary.LittleEndian.PutUint32(buf[8+n+m:8+n+m+4], r.OriginalLength)

	sum := crc32.ChecksumIEEE(buf[:8+n+m+4])
	binary.LittleEndian.PutUint32(buf[8+n+m+4:], sum)
	return buf
}

// DecodeRecordHeader parses a record header from the front of buf,
// returning the record and the number of bytes consumed.
func DecodeRecordHeader(buf []byte) (Record, int, error) {
	if len(buf) < 7 {
		return Record{}, 0, ErrTruncatedChunk
	}
	if string(buf[0:4]) != string(recordMagic[:]) {
		return Record{}, 0, ErrTruncatedChunk
	}
	n := int(buf[6])
	if len(buf) < 8+n {
		return Record{}, 0, ErrTruncatedChunk
	}
	m := int(buf[7+n])
	total := 8 + n + m + 4 + 4
	if len(buf) < total {
		return Record{}, 0, ErrTruncatedChunk
	}

	wantSum := binary.LittleEndian.Uint32(buf[8+n+m+4 : total])
	gotSum := crc32.ChecksumIEEE(buf[:8+n+m+4])
	if wantSum != gotSum {
		return Record{}, 0, ErrBadRecordCRC
	}

	r := Record{
		Command:        string(buf[7 : 7+n]),
		Compression:    Compression(buf[5]),
		ID:             string(buf[8+n : 8+n+m]),
		OriginalLength: binary.LittleEndian.Uint32(buf[8+n+m : 8+n+m+4]),
	}
	return r, total, nil
}
