package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/aerodb/aerodb/internal/aeroerr"
)

// RecordType identifies the payload shape of a WAL record (§3).
type RecordType uint8

const (
	Insert     RecordType = 0
	Update     RecordType = 1
	Delete     RecordType = 2
	MvccCommit RecordType = 3
	MvccVersion RecordType = 4
)

func (t RecordType) String() string {
	switch t {
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	case MvccCommit:
		return "MvccCommit"
	case MvccVersion:
		return "MvccVersion"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

// IsMVCC reports whether t is one of the MVCC bookkeeping record types.
func (t RecordType) IsMVCC() bool {
	return t == MvccCommit || t == MvccVersion
}

func recordTypeFromByte(b byte) (RecordType, bool) {
	switch RecordType(b) {
	case Insert, Update, Delete, MvccCommit, MvccVersion:
		return RecordType(b), true
	default:
		return 0, false
	}
}

// lengthSize, typeSize, sequenceSize, crcSize are the fixed frame fields:
// length(u32) | type(u8) | sequence(u64) | payload | crc32(u32).
const (
	lengthSize   = 4
	typeSize     = 1
	sequenceSize = 8
	crcSize      = 4
	// MinRecordSize is the smallest possible frame: header + crc, empty payload.
	MinRecordSize = lengthSize + typeSize + sequenceSize + crcSize
)

// Record is one decoded WAL frame.
type Record struct {
	Type     RecordType
	Sequence uint64
	Payload  []byte
}

// encodeFrame serializes rec as the on-disk frame, bit-exact with §6:
// length (u32 LE) | type (u8) | sequence (u64 LE) | payload | crc32 (u32 LE).
// CRC-32/IEEE is computed over everything except the trailing CRC field.
func encodeFrame(recType RecordType, sequence uint64, payload []byte) []byte {
	bodyLen := typeSize + sequenceSize + len(payload)
	frameLen := lengthSize + bodyLen + crcSize

	buf := make([]byte, frameLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(frameLen)) //nolint:gosec // bounded by caller
	buf[4] = byte(recType)
	binary.LittleEndian.PutUint64(buf[5:13], sequence)
	copy(buf[13:13+len(payload)], payload)

	crc := crc32.ChecksumIEEE(buf[:frameLen-crcSize])
	binary.LittleEndian.PutUint32(buf[frameLen-crcSize:], crc)

	return buf
}

// decodeFrame parses a single already-length-delimited frame (the bytes
// after the length prefix, i.e. type|sequence|payload|crc), validating CRC.
func decodeFrame(frameLen uint32, body []byte, offset int64) (Record, error) {
	if len(body) < typeSize+sequenceSize+crcSize {
		return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
			fmt.Errorf("record body too short: %d bytes", len(body)),
			aeroerr.WithOffset(offset), aeroerr.WithComponent("wal"))
	}

	full := make([]byte, lengthSize+len(body))
	binary.LittleEndian.PutUint32(full[0:4], frameLen)
	copy(full[4:], body)

	wantCRC := binary.LittleEndian.Uint32(full[len(full)-crcSize:])
	gotCRC := crc32.ChecksumIEEE(full[:len(full)-crcSize])

	if wantCRC != gotCRC {
		return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
			fmt.Errorf("crc mismatch: want %08x got %08x", wantCRC, gotCRC),
			aeroerr.WithOffset(offset), aeroerr.WithComponent("wal"))
	}

	rt, ok := recordTypeFromByte(body[0])
	if !ok {
		return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
			fmt.Errorf("unknown record type byte %d", body[0]),
			aeroerr.WithOffset(offset), aeroerr.WithComponent("wal"))
	}

	seq := binary.LittleEndian.Uint64(body[typeSize : typeSize+sequenceSize])
	payload := body[typeSize+sequenceSize : len(body)-crcSize]

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Record{Type: rt, Sequence: seq, Payload: payloadCopy}, nil
}

// MvccCommitPayload is the payload of a MvccCommit record: commit_id (u64 LE).
type MvccCommitPayload struct {
	CommitID uint64
}

func (p MvccCommitPayload) Encode() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.CommitID)

	return buf
}

func DecodeMvccCommitPayload(data []byte) (MvccCommitPayload, error) {
	if len(data) < 8 {
		return MvccCommitPayload{}, fmt.Errorf("mvcc commit payload too short: %d bytes", len(data))
	}

	return MvccCommitPayload{CommitID: binary.LittleEndian.Uint64(data[:8])}, nil
}

// MvccVersionPayload is the payload of a MvccVersion record:
// commit_id (u64 LE) | key_len (u32 LE) | key (UTF-8) | is_tombstone (u8) |
// payload_len (u32 LE) | payload (bytes).
type MvccVersionPayload struct {
	CommitID    uint64
	Key         string
	IsTombstone bool
	Payload     []byte
}

func (p MvccVersionPayload) Encode() []byte {
	keyBytes := []byte(p.Key)
	buf := make([]byte, 8+4+len(keyBytes)+1+4+len(p.Payload))

	off := 0
	binary.LittleEndian.PutUint64(buf[off:], p.CommitID)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(keyBytes))) //nolint:gosec
	off += 4
	copy(buf[off:], keyBytes)
	off += len(keyBytes)

	if p.IsTombstone {
		buf[off] = 1
	}

	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(p.Payload))) //nolint:gosec
	off += 4
	copy(buf[off:], p.Payload)

	return buf
}

func DecodeMvccVersionPayload(data []byte) (MvccVersionPayload, error) {
	if len(data) < 8+4 {
		return MvccVersionPayload{}, fmt.Errorf("mvcc version payload too short")
	}

	off := 0
	commitID := binary.LittleEndian.Uint64(data[off:])
	off += 8

	keyLen := binary.LittleEndian.Uint32(data[off:])
	off += 4

	if uint64(off)+uint64(keyLen)+1+4 > uint64(len(data)) {
		return MvccVersionPayload{}, fmt.Errorf("mvcc version payload truncated (key)")
	}

	key := string(data[off : off+int(keyLen)])
	off += int(keyLen)

	tombstone := data[off] != 0
	off++

	payloadLen := binary.LittleEndian.Uint32(data[off:])
	off += 4

	if uint64(off)+uint64(payloadLen) > uint64(len(data)) {
		return MvccVersionPayload{}, fmt.Errorf("mvcc version payload truncated (body)")
	}

	payload := append([]byte(nil), data[off:off+int(payloadLen)]...)

	return MvccVersionPayload{
		CommitID:    commitID,
		Key:         key,
		IsTombstone: tombstone,
		Payload:     payload,
	}, nil
}

// DocumentPayload is the payload of Insert/Update/Delete records:
// length-prefixed UTF-8 strings for collection_id, document_id, schema_id,
// schema_version, then length-prefixed body bytes. Tombstones (Delete) carry
// a zero-length body.
type DocumentPayload struct {
	CollectionID  string
	DocumentID    string
	SchemaID      string
	SchemaVersion string
	Body          []byte
}

func putString(buf []byte, off int, s string) int {
	b := []byte(s)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(b))) //nolint:gosec
	off += 4
	copy(buf[off:], b)

	return off + len(b)
}

func (p DocumentPayload) Encode() []byte {
	size := 4 + len(p.CollectionID) + 4 + len(p.DocumentID) + 4 + len(p.SchemaID) +
		4 + len(p.SchemaVersion) + 4 + len(p.Body)
	buf := make([]byte, size)

	off := 0
	off = putString(buf, off, p.CollectionID)
	off = putString(buf, off, p.DocumentID)
	off = putString(buf, off, p.SchemaID)
	off = putString(buf, off, p.SchemaVersion)
	off = putString(buf, off, string(p.Body))

	return buf
}

func getString(data []byte, off int) (string, int, error) {
	if off+4 > len(data) {
		return "", 0, fmt.Errorf("document payload truncated (length prefix)")
	}

	l := binary.LittleEndian.Uint32(data[off:])
	off += 4

	if uint64(off)+uint64(l) > uint64(len(data)) {
		return "", 0, fmt.Errorf("document payload truncated (string body)")
	}

	s := string(data[off : off+int(l)])

	return s, off + int(l), nil
}

func DecodeDocumentPayload(data []byte) (DocumentPayload, error) {
	var p DocumentPayload

	var err error

	off := 0

	if p.CollectionID, off, err = getString(data, off); err != nil {
		return DocumentPayload{}, err
	}

	if p.DocumentID, off, err = getString(data, off); err != nil {
		return DocumentPayload{}, err
	}

	if p.SchemaID, off, err = getString(data, off); err != nil {
		return DocumentPayload{}, err
	}

	if p.SchemaVersion, off, err = getString(data, off); err != nil {
		return DocumentPayload{}, err
	}

	var body string
	if body, _, err = getString(data, off); err != nil {
		return DocumentPayload{}, err
	}

	p.Body = []byte(body)

	return p, nil
}
