// Package wal is the sole durability authority of the core (§4.1): a framed,
// checksummed, sequence-numbered append log, with strict-order reading and
// explicit, checkpoint-only truncation.
//
// The open → recover/scan → append → fsync → truncate state machine follows
// the same shape as other mddb-style append logs, generalized here to a
// per-record framed format rather than a single footer per batch.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aerodb/aerodb/internal/aeroerr"
	"github.com/aerodb/aerodb/internal/config"
	"github.com/aerodb/aerodb/internal/crashpoint"
	"github.com/aerodb/aerodb/pkg/fs"
)

// ErrEmpty is returned by Reader.Next when the WAL has been fully consumed.
var ErrEmpty = errors.New("wal: no more records")

const (
	dirName  = "wal"
	fileName = "wal.log"
)

// Writer is the single owner of the WAL file. All appenders serialize
// through it (§5 "WAL append serialization").
type Writer struct {
	fsys fs.FS
	dir  string
	path string
	file fs.File

	mu           sync.Mutex
	nextSequence uint64

	groupCommit *groupCommitManager
	cfg         config.GroupCommit
}

// Open scans <dataDir>/wal/wal.log (creating it if absent), validates it per
// §4.1's read protocol, and returns a Writer positioned to append the next
// sequence. A corrupt or gapped log is a fatal error: the caller must run
// recovery, not open the WAL directly, in that case.
func Open(fsys fs.FS, dataDir string, cfg config.GroupCommit) (*Writer, error) {
	dir := filepath.Join(dataDir, dirName)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, aeroerr.New(aeroerr.CodeWALAppendFailed, err, aeroerr.WithComponent("wal"))
	}

	path := filepath.Join(dir, fileName)

	nextSeq, err := scanNextSequence(fsys, path)
	if err != nil {
		return nil, err
	}

	file, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, aeroerr.New(aeroerr.CodeWALAppendFailed, err, aeroerr.WithComponent("wal"))
	}

	return &Writer{
		fsys:         fsys,
		dir:          dir,
		path:         path,
		file:         file,
		nextSequence: nextSeq,
		groupCommit:  newGroupCommitManager(),
		cfg:          cfg,
	}, nil
}

// scanNextSequence replays the WAL once at open time purely to determine
// the next sequence to assign; full validation/replay into the commit
// authority is pkg/recovery's job.
func scanNextSequence(fsys fs.FS, path string) (uint64, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return 0, aeroerr.New(aeroerr.CodeWALCorruption, err, aeroerr.WithComponent("wal"))
	}

	if !exists {
		return 1, nil
	}

	f, err := fsys.Open(path)
	if err != nil {
		return 0, aeroerr.New(aeroerr.CodeWALCorruption, err, aeroerr.WithComponent("wal"))
	}
	defer f.Close()

	r := newReaderFromFile(f)

	var last uint64

	count := 0

	for {
		rec, err := r.Next()
		if errors.Is(err, ErrEmpty) {
			break
		}

		if err != nil {
			return 0, err
		}

		count++
		last = rec.Sequence
	}

	if count == 0 {
		return 1, nil
	}

	return last + 1, nil
}

// NextSequence reports the sequence that would be assigned to the next
// Append call.
func (w *Writer) NextSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.nextSequence
}

// Append serializes and durably appends one record, returning its assigned
// sequence. Per §4.1: write_all then fsync_all; only after fsync succeeds is
// the sequence considered durable and returned to the caller. The write
// itself is serialized under w.mu (so byte layout and sequence assignment
// stay in lockstep), but the lock is released before the fsync barrier:
// holding it across fsync would make every Append fully serial end-to-end,
// and no concurrent appender could ever join another's fsync (§5 "group
// commit"). A fsync failure is fatal (aeroerr.CodeWALFsyncFailed), so a
// sequence number assigned just before a failed fsync is never reused —
// the process using this Writer is required to stop, not retry.
func (w *Writer) Append(recType RecordType, payload []byte) (uint64, error) {
	w.mu.Lock()

	seq := w.nextSequence
	frame := encodeFrame(recType, seq, payload)

	crashpoint.Hit(crashpoint.WALBeforeAppend)

	if _, err := w.file.Write(frame); err != nil {
		w.mu.Unlock()

		return 0, aeroerr.New(aeroerr.CodeWALAppendFailed, err,
			aeroerr.WithSequence(seq), aeroerr.WithComponent("wal"))
	}

	crashpoint.Hit(crashpoint.WALAfterAppend)

	w.nextSequence = seq + 1
	file, cfg, groupCommit := w.file, w.cfg, w.groupCommit

	w.mu.Unlock()

	if err := sync(file, cfg, groupCommit); err != nil {
		return 0, err
	}

	return seq, nil
}

// Fsync forces the WAL file durable without appending, used by checkpoint
// (§4.5 step 2) and backup (§4.6 step 1) before they read the file. Like
// Append, it joins the shared fsync barrier without holding w.mu, so a
// checkpoint's Fsync can land in the same batch as a concurrent Append.
func (w *Writer) Fsync() error {
	w.mu.Lock()
	file, cfg, groupCommit := w.file, w.cfg, w.groupCommit
	w.mu.Unlock()

	return sync(file, cfg, groupCommit)
}

func sync(file fs.File, cfg config.GroupCommit, groupCommit *groupCommitManager) error {
	crashpoint.Hit(crashpoint.WALBeforeFsync)

	var err error
	if cfg.Enabled {
		err = groupCommit.fsync(file)
	} else {
		err = file.Sync()
	}

	if err != nil {
		return aeroerr.New(aeroerr.CodeWALFsyncFailed, err, aeroerr.WithComponent("wal"))
	}

	crashpoint.Hit(crashpoint.WALAfterFsync)

	return nil
}

// AppendBatch serializes every entry into a single buffer and issues one
// write_all + one fsync, producing a byte stream identical to N individual
// Append calls (§4.1 "Batching"). Chunking by cfg.MaxRecords/MaxBytes is the
// caller's responsibility via multiple AppendBatch calls.
func (w *Writer) AppendBatch(entries []struct {
	Type    RecordType
	Payload []byte
}) ([]uint64, error) {
	w.mu.Lock()

	sequences := make([]uint64, len(entries))

	var buf []byte

	seq := w.nextSequence
	for i, e := range entries {
		sequences[i] = seq
		buf = append(buf, encodeFrame(e.Type, seq, e.Payload)...)
		seq++
	}

	crashpoint.Hit(crashpoint.WALBeforeAppend)

	if _, err := w.file.Write(buf); err != nil {
		w.mu.Unlock()

		return nil, aeroerr.New(aeroerr.CodeWALAppendFailed, err, aeroerr.WithComponent("wal"))
	}

	crashpoint.Hit(crashpoint.WALAfterAppend)

	w.nextSequence = seq
	file, cfg, groupCommit := w.file, w.cfg, w.groupCommit

	w.mu.Unlock()

	if err := sync(file, cfg, groupCommit); err != nil {
		return nil, err
	}

	return sequences, nil
}

// Truncate implements §4.1's truncate protocol: remove file, create empty
// file, fsync file, fsync directory, reopen for append, reset sequence to 1.
// Only the checkpoint coordinator may call this — it is the sole truncator
// of WAL in the whole system.
func (w *Writer) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	crashpoint.Hit(crashpoint.WALBeforeTruncate)

	if err := w.file.Close(); err != nil {
		return aeroerr.New(aeroerr.CodeCheckpointWALTruncate, err, aeroerr.WithComponent("wal"))
	}

	if err := w.fsys.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return aeroerr.New(aeroerr.CodeCheckpointWALTruncate, err, aeroerr.WithComponent("wal"))
	}

	f, err := w.fsys.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return aeroerr.New(aeroerr.CodeCheckpointWALTruncate, err, aeroerr.WithComponent("wal"))
	}

	if err := f.Sync(); err != nil {
		return aeroerr.New(aeroerr.CodeCheckpointWALTruncate, err, aeroerr.WithComponent("wal"))
	}

	if err := fsyncDir(w.fsys, w.dir); err != nil {
		return aeroerr.New(aeroerr.CodeCheckpointWALTruncate, err, aeroerr.WithComponent("wal"))
	}

	w.file = f
	w.nextSequence = 1

	crashpoint.Hit(crashpoint.WALAfterTruncate)

	return nil
}

// Close releases the underlying file handle without truncating.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}

func fsyncDir(fsys fs.FS, dir string) error {
	f, err := fsys.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Sync()
}

// Reader reads WAL records sequentially, enforcing CRC validity and strict
// sequence monotonicity (§4.1 "Read protocol").
type Reader struct {
	file    fs.File
	lastSeq uint64
	started bool
	offset  int64
}

// OpenReader opens <dataDir>/wal/wal.log for sequential reading from the
// start. Returns (nil, nil) if the WAL file does not exist (an empty WAL).
func OpenReader(fsys fs.FS, dataDir string) (*Reader, error) {
	path := filepath.Join(dataDir, dirName, fileName)

	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, aeroerr.New(aeroerr.CodeWALCorruption, err, aeroerr.WithComponent("wal"))
	}

	if !exists {
		return nil, nil //nolint:nilnil // absence of a WAL file is not an error condition
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, aeroerr.New(aeroerr.CodeWALCorruption, err, aeroerr.WithComponent("wal"))
	}

	return newReaderFromFile(f), nil
}

func newReaderFromFile(f fs.File) *Reader {
	return &Reader{file: f}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Next returns the next record in sequence order, or ErrEmpty at end of log.
// Any length/CRC/sequence violation returns a FATAL AERO_WAL_CORRUPTION
// error carrying the byte offset (§4.1, §8 "boundary behaviors").
func (r *Reader) Next() (Record, error) {
	lenBuf := make([]byte, lengthSize)

	n, err := io.ReadFull(r.file, lenBuf)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Record{}, ErrEmpty
		}

		// A short read here is a mid-record truncation, never silent EOF.
		return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
			fmt.Errorf("truncated length prefix: %w", err),
			aeroerr.WithOffset(r.offset), aeroerr.WithComponent("wal"))
	}

	frameLen := binary.LittleEndian.Uint32(lenBuf)
	if frameLen < MinRecordSize {
		return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
			fmt.Errorf("record length %d below minimum %d", frameLen, MinRecordSize),
			aeroerr.WithOffset(r.offset), aeroerr.WithComponent("wal"))
	}

	bodyLen := int(frameLen) - lengthSize

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r.file, body); err != nil {
		return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
			fmt.Errorf("truncated record body: %w", err),
			aeroerr.WithOffset(r.offset), aeroerr.WithComponent("wal"))
	}

	rec, err := decodeFrame(frameLen, body, r.offset)
	if err != nil {
		return Record{}, err
	}

	if !r.started {
		if rec.Sequence != 1 {
			return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
				fmt.Errorf("first sequence is %d, want 1", rec.Sequence),
				aeroerr.WithOffset(r.offset), aeroerr.WithSequence(rec.Sequence), aeroerr.WithComponent("wal"))
		}

		r.started = true
	} else if rec.Sequence != r.lastSeq+1 {
		return Record{}, aeroerr.New(aeroerr.CodeWALCorruption,
			fmt.Errorf("sequence gap: want %d got %d", r.lastSeq+1, rec.Sequence),
			aeroerr.WithOffset(r.offset), aeroerr.WithSequence(rec.Sequence), aeroerr.WithComponent("wal"))
	}

	r.lastSeq = rec.Sequence
	r.offset += int64(frameLen)

	return rec, nil
}

// ReadAll drains the reader into a slice, for callers that don't need
// streaming (small WALs, tests). Production recovery should prefer Next.
func ReadAll(r *Reader) ([]Record, error) {
	var out []Record

	for {
		rec, err := r.Next()
		if errors.Is(err, ErrEmpty) {
			return out, nil
		}

		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}
}
