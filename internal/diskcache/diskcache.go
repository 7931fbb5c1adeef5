// Package diskcache persists the offset array and sort permutations to
// versioned binary files, ported field-for-field from
// _examples/original_source/src-tauri/src/disk_cache.rs: magic bytes,
// version, (file_len, mtime) staleness check, and the 3-day TTL prune
// sweep. The cache key hash is github.com/cespare/xxhash/v2 in place of
// Rust's DefaultHasher; writes go through github.com/natefinch/atomic
// instead of a plain os.WriteFile, so a crash mid-write never leaves a
// half-written cache file for the next open to trip over.
package diskcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/natefinch/atomic"
)

const (
	offsetsMagic = "CVOF"
	orderMagic   = "CVSO"
	version      = uint32(1)
	ttl          = 3 * 24 * time.Hour
)

// Key identifies one cached artifact for one (path, size, mtime,
// dialect) combination.
type Key struct {
	Path        string
	FileLen     int64
	MtimeSecs   int64
	DialectHash uint64
}

// hash64 is the 64-bit cache key per spec §3: hash(path, file-len,
// mtime, dialect-hash).
func (k Key) hash64() uint64 {
	h := xxhash.New()
	io.WriteString(h, k.Path)
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.FileLen))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(k.MtimeSecs))
	binary.LittleEndian.PutUint64(buf[16:24], k.DialectHash)
	h.Write(buf[:])
	return h.Sum64()
}

func (k Key) hex16() string {
	return fmt.Sprintf("%016x", k.hash64())
}

// Dir resolves the platform-appropriate cache directory and ensures it
// exists, pruning entries older than ttl.
func Dir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "quickrows")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("diskcache: creating cache dir: %w", err)
	}
	prune(dir)
	return dir, nil
}

func prune(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-ttl)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func offsetsPath(dir string, k Key) string {
	return filepath.Join(dir, fmt.Sprintf("offsets_%s.bin", k.hex16()))
}

func orderPath(dir string, k Key, column uint32, ascending bool) string {
	dir3 := "desc"
	if ascending {
		dir3 = "asc"
	}
	return filepath.Join(dir, fmt.Sprintf("order_%s_c%d_%s.bin", k.hex16(), column, dir3))
}

// WriteOffsets persists the offset array under key k. Format: "CVOF" ·
// u32 version · u64 file_len · u64 mtime_secs · u64 count · count×u64.
func WriteOffsets(dir string, k Key, offsets []int64) error {
	var buf bytes.Buffer
	buf.WriteString(offsetsMagic)
	writeU32(&buf, version)
	writeU64(&buf, uint64(k.FileLen))
	writeU64(&buf, uint64(k.MtimeSecs))
	writeU64(&buf, uint64(len(offsets)))
	for _, o := range offsets {
		writeU64(&buf, uint64(o))
	}
	return atomic.WriteFile(offsetsPath(dir, k), bytes.NewReader(buf.Bytes()))
}

// ReadOffsets validates the header against k (len, mtime) before
// returning the payload. Any mismatch, truncation, or I/O failure is
// always treated as a miss — a disk-cache read failure is never
// surfaced as an error, per spec §7.
func ReadOffsets(dir string, k Key) ([]int64, bool) {
	data, err := os.ReadFile(offsetsPath(dir, k))
	if err != nil {
		return nil, false
	}
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != offsetsMagic {
		return nil, false
	}
	ver, err := readU32(r)
	if err != nil || ver != version {
		return nil, false
	}
	fileLen, err := readU64(r)
	if err != nil || int64(fileLen) != k.FileLen {
		return nil, false
	}
	mtime, err := readU64(r)
	if err != nil || int64(mtime) != k.MtimeSecs {
		return nil, false
	}
	count, err := readU64(r)
	if err != nil {
		return nil, false
	}
	offsets := make([]int64, count)
	for i := range offsets {
		v, err := readU64(r)
		if err != nil {
			return nil, false
		}
		offsets[i] = int64(v)
	}
	return offsets, true
}

// WriteOrder persists a sort permutation under key k, column, direction.
// Format: "CVSO" · u32 version · u64 file_len · u64 mtime_secs ·
// u32 column · u8 direction(1=asc,0=desc) · u64 count · count×u64.
func WriteOrder(dir string, k Key, column uint32, ascending bool, rowIDs []uint64) error {
	var buf bytes.Buffer
	buf.WriteString(orderMagic)
	writeU32(&buf, version)
	writeU64(&buf, uint64(k.FileLen))
	writeU64(&buf, uint64(k.MtimeSecs))
	writeU32(&buf, column)
	if ascending {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeU64(&buf, uint64(len(rowIDs)))
	for _, id := range rowIDs {
		writeU64(&buf, id)
	}
	return atomic.WriteFile(orderPath(dir, k, column, ascending), bytes.NewReader(buf.Bytes()))
}

// ReadOrder validates and returns a cached permutation, or a miss.
func ReadOrder(dir string, k Key, column uint32, ascending bool) ([]uint64, bool) {
	data, err := os.ReadFile(orderPath(dir, k, column, ascending))
	if err != nil {
		return nil, false
	}
	r := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != orderMagic {
		return nil, false
	}
	ver, err := readU32(r)
	if err != nil || ver != version {
		return nil, false
	}
	fileLen, err := readU64(r)
	if err != nil || int64(fileLen) != k.FileLen {
		return nil, false
	}
	mtime, err := readU64(r)
	if err != nil || int64(mtime) != k.MtimeSecs {
		return nil, false
	}
	col, err := readU32(r)
	if err != nil || col != column {
		return nil, false
	}
	dirByte, err := r.ReadByte()
	if err != nil {
		return nil, false
	}
	wantAsc := byte(0)
	if ascending {
		wantAsc = 1
	}
	if dirByte != wantAsc {
		return nil, false
	}
	count, err := readU64(r)
	if err != nil {
		return nil, false
	}
	ids := make([]uint64, count)
	for i := range ids {
		v, err := readU64(r)
		if err != nil {
			return nil, false
		}
		ids[i] = v
	}
	return ids, true
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// DialectHash produces a stable hash of the fields that would change
// the meaning of a cached offset/order file if they changed.
func DialectHash(delimiter, quote byte, hasHeaders bool, malformed int) uint64 {
	h := xxhash.New()
	h.Write([]byte{delimiter, quote})
	if hasHeaders {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte{byte(malformed)})
	return h.Sum64()
}
