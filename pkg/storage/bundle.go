// ABOUTME: CRC-framed record bundles with a leading offset index
// ABOUTME: Each record is compressed on its own so single records can be range-read

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
)

const (
	// BundleMagic opens every bundle
	BundleMagic = "BIX1"

	// BundleVersion is the current layout version
	BundleVersion = 1

	// BundleHeaderSize is the fixed header size
	// Layout: Magic(4) + Version(1) + Reserved(3) + IndexLen(4) + IndexCRC(4)
	BundleHeaderSize = 16

	// FrameHeaderSize is the fixed size of a record frame header
	// Layout: Codec(1) + Reserved(3) + KeyLen(4) + RawLen(4) + DataLen(4)
	FrameHeaderSize = 16
)

// Record is one keyed payload inside a bundle
type Record struct {
	ID   string
	Data []byte
}

// Frame is a single encoded record
type Frame struct {
	Codec  Codec
	Key    []byte
	RawLen uint32
	Data   []byte
}

// Encode serializes the frame with a trailing CRC32
// Format: [Header(16)] [Key] [Data] [CRC32(4)]
func (f *Frame) Encode() []byte {
	keyLen := len(f.Key)
	dataLen := len(f.Data)
	buf := make([]byte, FrameHeaderSize+keyLen+dataLen+4)

	buf[0] = byte(f.Codec)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[8:12], f.RawLen)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(dataLen))

	offset := FrameHeaderSize
	copy(buf[offset:], f.Key)
	offset += keyLen
	copy(buf[offset:], f.Data)
	offset += dataLen

	binary.LittleEndian.PutUint32(buf[offset:], crc32.ChecksumIEEE(buf[:offset]))
	return buf
}

// Size returns the encoded size of the frame
func (f *Frame) Size() int {
	return FrameHeaderSize + len(f.Key) + len(f.Data) + 4
}

// DecodeFrame parses one frame; data must hold exactly the frame
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize+4 {
		return nil, ErrTruncated
	}
	keyLen := int(binary.LittleEndian.Uint32(data[4:8]))
	dataLen := int(binary.LittleEndian.Uint32(data[12:16]))
	size := FrameHeaderSize + keyLen + dataLen + 4
	if len(data) < size {
		return nil, ErrTruncated
	}

	stored := binary.LittleEndian.Uint32(data[size-4 : size])
	if stored != crc32.ChecksumIEEE(data[:size-4]) {
		return nil, ErrCorrupted
	}

	f := &Frame{
		Codec:  Codec(data[0]),
		RawLen: binary.LittleEndian.Uint32(data[8:12]),
	}
	offset := FrameHeaderSize
	f.Key = bytes.Clone(data[offset : offset+keyLen])
	offset += keyLen
	f.Data = bytes.Clone(data[offset : offset+dataLen])
	return f, nil
}

// Record decompresses the frame payload
func (f *Frame) Record() (Record, error) {
	data, err := decompress(f.Data, f.Codec, int(f.RawLen))
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", f.Key, err)
	}
	return Record{ID: string(f.Key), Data: data}, nil
}

// IndexEntry locates a frame inside a bundle
type IndexEntry struct {
	ID     string
	Offset int64
	Size   int64
}

// EncodeBundle frames records sorted by id, compressing each with c
func EncodeBundle(records []Record, c Codec) ([]byte, error) {
	sorted := append([]Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	frames := make([][]byte, len(sorted))
	for i, r := range sorted {
		data, used, err := compress(r.Data, c)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		f := Frame{Codec: used, Key: []byte(r.ID), RawLen: uint32(len(r.Data)), Data: data}
		frames[i] = f.Encode()
	}

	indexLen := 4
	for _, r := range sorted {
		indexLen += 2 + len(r.ID) + 8 + 4
	}

	index := make([]byte, 0, indexLen)
	index = binary.LittleEndian.AppendUint32(index, uint32(len(sorted)))
	offset := int64(BundleHeaderSize + indexLen)
	for i, r := range sorted {
		index = binary.LittleEndian.AppendUint16(index, uint16(len(r.ID)))
		index = append(index, r.ID...)
		index = binary.LittleEndian.AppendUint64(index, uint64(offset))
		index = binary.LittleEndian.AppendUint32(index, uint32(len(frames[i])))
		offset += int64(len(frames[i]))
	}

	out := make([]byte, BundleHeaderSize, offset)
	copy(out, BundleMagic)
	out[4] = BundleVersion
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(index)))
	binary.LittleEndian.PutUint32(out[12:16], crc32.ChecksumIEEE(index))
	out = append(out, index...)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out, nil
}

// parseHeader validates the header and returns the index length and CRC
func parseHeader(data []byte) (int, uint32, error) {
	if len(data) < BundleHeaderSize {
		return 0, 0, ErrTruncated
	}
	if string(data[:4]) != BundleMagic {
		return 0, 0, ErrBadMagic
	}
	if data[4] != BundleVersion {
		return 0, 0, fmt.Errorf("%w: version %d", ErrBadMagic, data[4])
	}
	return int(binary.LittleEndian.Uint32(data[8:12])), binary.LittleEndian.Uint32(data[12:16]), nil
}

// parseIndex decodes the index after checking its CRC
func parseIndex(index []byte, crc uint32) ([]IndexEntry, error) {
	if crc32.ChecksumIEEE(index) != crc {
		return nil, ErrCorrupted
	}
	if len(index) < 4 {
		return nil, ErrTruncated
	}
	n := int(binary.LittleEndian.Uint32(index[:4]))
	pos := 4
	out := make([]IndexEntry, 0, n)
	for range n {
		if pos+2 > len(index) {
			return nil, ErrTruncated
		}
		idLen := int(binary.LittleEndian.Uint16(index[pos:]))
		pos += 2
		if pos+idLen+12 > len(index) {
			return nil, ErrTruncated
		}
		e := IndexEntry{ID: string(index[pos : pos+idLen])}
		pos += idLen
		e.Offset = int64(binary.LittleEndian.Uint64(index[pos:]))
		pos += 8
		e.Size = int64(binary.LittleEndian.Uint32(index[pos:]))
		pos += 4
		out = append(out, e)
	}
	return out, nil
}

// BundleIndex reads the index of an in-memory bundle
func BundleIndex(data []byte) ([]IndexEntry, error) {
	indexLen, crc, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) < BundleHeaderSize+indexLen {
		return nil, ErrTruncated
	}
	return parseIndex(data[BundleHeaderSize:BundleHeaderSize+indexLen], crc)
}

// DecodeBundle returns every record of a bundle in id order
func DecodeBundle(data []byte) ([]Record, error) {
	index, err := BundleIndex(data)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(index))
	for _, e := range index {
		r, err := frameAt(data, e)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func frameAt(data []byte, e IndexEntry) (Record, error) {
	if e.Offset < 0 || e.Offset+e.Size > int64(len(data)) {
		return Record{}, fmt.Errorf("record %s: %w", e.ID, ErrTruncated)
	}
	f, err := DecodeFrame(data[e.Offset : e.Offset+e.Size])
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", e.ID, err)
	}
	if string(f.Key) != e.ID {
		return Record{}, fmt.Errorf("record %s: %w: frame key %s", e.ID, ErrCorrupted, f.Key)
	}
	return f.Record()
}

func lookupEntry(index []IndexEntry, id string) (IndexEntry, bool) {
	i := sort.Search(len(index), func(i int) bool { return index[i].ID >= id })
	if i < len(index) && index[i].ID == id {
		return index[i], true
	}
	return IndexEntry{}, false
}

// BundleStore writes and reads record bundles through a backend
type BundleStore struct {
	backend Backend
	codec   Codec
}

// NewBundleStore creates a bundle store compressing records with codec
func NewBundleStore(backend Backend, codec Codec) *BundleStore {
	return &BundleStore{backend: backend, codec: codec}
}

// Backend returns the underlying backend
func (s *BundleStore) Backend() Backend {
	return s.backend
}

// Put encodes and stores records under key
func (s *BundleStore) Put(ctx context.Context, key string, records []Record) error {
	data, err := EncodeBundle(records, s.codec)
	if err != nil {
		return err
	}
	return s.backend.Store(ctx, key, data)
}

// Get retrieves and decodes the whole bundle at key
func (s *BundleStore) Get(ctx context.Context, key string) ([]Record, error) {
	data, err := s.backend.Retrieve(ctx, key)
	if err != nil {
		return nil, err
	}
	records, err := DecodeBundle(data)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", key, err)
	}
	return records, nil
}

// RetrievePartial returns one record of the bundle at key. Backends with
// range support read only the header, the index and the record's frame.
func (s *BundleStore) RetrievePartial(ctx context.Context, key, id string) ([]byte, error) {
	if !s.backend.SupportsPartialRetrieval() {
		data, err := s.backend.Retrieve(ctx, key)
		if err != nil {
			return nil, err
		}
		index, err := BundleIndex(data)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: %w", key, err)
		}
		e, ok := lookupEntry(index, id)
		if !ok {
			return nil, notFound(key + "#" + id)
		}
		r, err := frameAt(data, e)
		if err != nil {
			return nil, fmt.Errorf("bundle %s: %w", key, err)
		}
		return r.Data, nil
	}

	header, err := s.backend.RetrieveRange(ctx, key, 0, BundleHeaderSize)
	if err != nil {
		return nil, err
	}
	indexLen, crc, err := parseHeader(header)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", key, err)
	}
	raw, err := s.backend.RetrieveRange(ctx, key, BundleHeaderSize, int64(indexLen))
	if err != nil {
		return nil, err
	}
	if len(raw) < indexLen {
		return nil, fmt.Errorf("bundle %s index: %w", key, ErrTruncated)
	}
	index, err := parseIndex(raw, crc)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", key, err)
	}
	e, ok := lookupEntry(index, id)
	if !ok {
		return nil, notFound(key + "#" + id)
	}
	frame, err := s.backend.RetrieveRange(ctx, key, e.Offset, e.Size)
	if err != nil {
		return nil, err
	}
	f, err := DecodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("bundle %s record %s: %w", key, id, err)
	}
	r, err := f.Record()
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", key, err)
	}
	return r.Data, nil
}
