package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

var (
	// ErrMalformedEntry is returned when a byte stream does not hold a valid entry encoding.
	ErrMalformedEntry = errors.New("malformed session entry")
	// ErrMalformedDirectory is returned when a byte stream does not hold a valid directory encoding.
	ErrMalformedDirectory = errors.New("malformed session directory")
)

const (
	identitySize = 1 + 8 // type + num
	// smallest possible entry: identity + four empty length prefixed fields
	minEntrySize = identitySize + 4 + 4 + 4 + 4
	// version + entry count
	directoryHeaderSize = 8 + 4
)

// --------------------------------------------------------------------------
// Entry encoding
// --------------------------------------------------------------------------

// EntrySize returns the exact number of bytes EncodeEntry produces for e.
func EntrySize(e Entry) int {
	size := identitySize
	size += 4 + len(e.Addr)
	size += 4 + 8*len(e.CompletedRequests)
	size += 4 + 8*len(e.PreallocInodes)
	size += 4
	for k, v := range e.Metadata {
		size += 4 + len(k) + 4 + len(v)
	}
	return size
}

// EncodeEntry serializes an entry with the format (all integers little endian):
// 1 byte entity type,
// 8 bytes entity number,
// 4 bytes address length + address,
// 4 bytes count + 8 bytes per completed request id,
// 4 bytes count + 8 bytes per preallocated inode,
// 4 bytes count + (4 bytes key length + key + 4 bytes value length + value) per metadata pair, sorted by key.
//
// LastRenewal is not encoded.
func EncodeEntry(e Entry) []byte {
	return AppendEntry(make([]byte, 0, EntrySize(e)), e)
}

// AppendEntry appends the encoding of e to buf and returns the extended buffer.
func AppendEntry(buf []byte, e Entry) []byte {
	buf = append(buf, byte(e.ID.Type))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.ID.Num))
	buf = appendString(buf, e.Addr)
	buf = appendUint64s(buf, e.CompletedRequests)
	buf = appendUint64s(buf, e.PreallocInodes)

	keys := slices.Sorted(maps.Keys(e.Metadata))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, e.Metadata[k])
	}
	return buf
}

// DecodeEntry decodes one entry from the start of data.
// It returns the entry and the number of bytes consumed. Errors wrap ErrMalformedEntry.
func DecodeEntry(data []byte) (Entry, int, error) {
	d := decoder{buf: data}
	e, err := d.entry()
	if err != nil {
		return Entry{}, 0, err
	}
	return e, d.pos, nil
}

// --------------------------------------------------------------------------
// Directory encoding
// --------------------------------------------------------------------------

// DirectorySize returns the exact number of bytes EncodeDirectory produces.
func DirectorySize(sessions map[Identity]Entry) int {
	size := directoryHeaderSize
	for _, e := range sessions {
		size += EntrySize(e)
	}
	return size
}

// EncodeDirectory serializes a whole directory:
// 8 bytes version, 4 bytes entry count, then every entry (see EncodeEntry).
// Entries are emitted ordered by identity, so equal directories encode to equal bytes.
func EncodeDirectory(version uint64, sessions map[Identity]Entry) []byte {
	buf := make([]byte, 0, DirectorySize(sessions))
	buf = binary.LittleEndian.AppendUint64(buf, version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(sessions)))

	ids := slices.SortedFunc(maps.Keys(sessions), Identity.Compare)
	for _, id := range ids {
		buf = AppendEntry(buf, sessions[id])
	}
	return buf
}

// DecodeDirectory is the inverse of EncodeDirectory. Every decoded entry gets
// LastRenewal = now: a reloaded session's renewal clock restarts at load time.
//
// Any error wraps ErrMalformedDirectory (and ErrMalformedEntry if an entry was
// at fault). Nothing is returned on error, a partial decode is never exposed.
func DecodeDirectory(data []byte, now time.Time) (uint64, map[Identity]Entry, error) {
	d := decoder{buf: data}

	version, err := d.u64("version")
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedDirectory, err)
	}
	count, err := d.u32("entry count")
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrMalformedDirectory, err)
	}

	// the count is untrusted, size the map by what the buffer can hold at most
	sessions := make(map[Identity]Entry, min(int(count), d.remaining()/minEntrySize))
	for i := uint32(0); i < count; i++ {
		e, err := d.entry()
		if err != nil {
			return 0, nil, fmt.Errorf("%w: entry %d of %d: %w", ErrMalformedDirectory, i, count, err)
		}
		if _, dup := sessions[e.ID]; dup {
			return 0, nil, fmt.Errorf("%w: duplicate identity %s", ErrMalformedDirectory, e.ID)
		}
		e.LastRenewal = now
		sessions[e.ID] = e
	}

	if d.remaining() != 0 {
		return 0, nil, fmt.Errorf("%w: %d trailing bytes after %d entries", ErrMalformedDirectory, d.remaining(), count)
	}
	return version, sessions, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendUint64s(buf []byte, values []uint64) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(values)))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return buf
}

// decoder reads fields sequentially from a buffer, checking every length
// against what is left before touching the bytes.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) need(field string, n uint64) error {
	if n > uint64(d.remaining()) {
		return fmt.Errorf("%w: %s at offset %d needs %d bytes, %d left", ErrMalformedEntry, field, d.pos, n, d.remaining())
	}
	return nil
}

func (d *decoder) u8(field string) (uint8, error) {
	if err := d.need(field, 1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u32(field string) (uint32, error) {
	if err := d.need(field, 4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64(field string) (uint64, error) {
	if err := d.need(field, 8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) str(field string) (string, error) {
	n, err := d.u32(field + " length")
	if err != nil {
		return "", err
	}
	if err := d.need(field, uint64(n)); err != nil {
		return "", err
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) u64s(field string) ([]uint64, error) {
	n, err := d.u32(field + " count")
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if err := d.need(field, uint64(n)*8); err != nil {
		return nil, err
	}
	values := make([]uint64, n)
	for i := range values {
		values[i] = binary.LittleEndian.Uint64(d.buf[d.pos:])
		d.pos += 8
	}
	return values, nil
}

func (d *decoder) entry() (Entry, error) {
	var e Entry

	typ, err := d.u8("entity type")
	if err != nil {
		return Entry{}, err
	}
	num, err := d.u64("entity number")
	if err != nil {
		return Entry{}, err
	}
	e.ID = Identity{Type: EntityType(typ), Num: int64(num)}

	if e.Addr, err = d.str("addr"); err != nil {
		return Entry{}, err
	}
	if e.CompletedRequests, err = d.u64s("completed requests"); err != nil {
		return Entry{}, err
	}
	if e.PreallocInodes, err = d.u64s("preallocated inodes"); err != nil {
		return Entry{}, err
	}

	n, err := d.u32("metadata count")
	if err != nil {
		return Entry{}, err
	}
	if n > 0 {
		// every pair carries at least its two length prefixes
		if err := d.need("metadata", uint64(n)*8); err != nil {
			return Entry{}, err
		}
		e.Metadata = make(map[string]string, n)
		for i := uint32(0); i < n; i++ {
			k, err := d.str("metadata key")
			if err != nil {
				return Entry{}, err
			}
			v, err := d.str("metadata value")
			if err != nil {
				return Entry{}, err
			}
			if _, dup := e.Metadata[k]; dup {
				return Entry{}, fmt.Errorf("%w: duplicate metadata key %q", ErrMalformedEntry, k)
			}
			e.Metadata[k] = v
		}
	}
	return e, nil
}
