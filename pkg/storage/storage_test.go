package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/boltindex/pkg/errs"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	b, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Backend{
		"memory": NewMemory(),
		"badger": b,
	}
}

func TestBackendContract(t *testing.T) {
	ctx := context.Background()
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, be.Store(ctx, "docs/a/head", []byte("rev-1")))
			require.NoError(t, be.Store(ctx, "docs/a/revisions/r1", []byte("0123456789")))
			require.NoError(t, be.Store(ctx, "docs/b/head", []byte("rev-9")))

			got, err := be.Retrieve(ctx, "docs/a/head")
			require.NoError(t, err)
			assert.Equal(t, "rev-1", string(got))

			keys, err := be.List(ctx, "docs/a/")
			require.NoError(t, err)
			assert.Equal(t, []string{"docs/a/head", "docs/a/revisions/r1"}, keys)

			part, err := be.RetrieveRange(ctx, "docs/a/revisions/r1", 2, 3)
			require.NoError(t, err)
			assert.Equal(t, "234", string(part))

			_, err = be.Retrieve(ctx, "missing")
			assert.ErrorIs(t, err, errs.ErrNotFound)
			_, err = be.RetrieveRange(ctx, "missing", 0, 1)
			assert.ErrorIs(t, err, errs.ErrNotFound)

			require.NoError(t, be.Delete(ctx, "docs/a/head"))
			_, err = be.Retrieve(ctx, "docs/a/head")
			assert.ErrorIs(t, err, errs.ErrNotFound)
			assert.NotEmpty(t, be.Name())
		})
	}
}

func TestMemoryCopiesData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Store(ctx, "k", buf))
	buf[0] = 'z'
	got, err := m.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestParseCodec(t *testing.T) {
	for in, want := range map[string]Codec{"": CodecNone, "none": CodecNone, "LZ4": CodecLZ4, "zstd": CodecZstd} {
		c, err := ParseCodec(in)
		require.NoError(t, err)
		assert.Equal(t, want, c)
		if in != "" {
			assert.Equal(t, strings.ToLower(in), c.String())
		}
	}
	_, err := ParseCodec("snappy")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func sampleRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		body := strings.Repeat(fmt.Sprintf("node %d payload; ", i), 40)
		records[n-1-i] = Record{ID: fmt.Sprintf("node-%03d", i), Data: []byte(body)}
	}
	return records
}

func TestBundleRoundTrip(t *testing.T) {
	for _, c := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(c.String(), func(t *testing.T) {
			records := sampleRecords(12)
			data, err := EncodeBundle(records, c)
			require.NoError(t, err)
			assert.Equal(t, BundleMagic, string(data[:4]))

			decoded, err := DecodeBundle(data)
			require.NoError(t, err)
			require.Len(t, decoded, len(records))
			for i := 1; i < len(decoded); i++ {
				assert.Less(t, decoded[i-1].ID, decoded[i].ID)
			}
			byID := map[string][]byte{}
			for _, r := range decoded {
				byID[r.ID] = r.Data
			}
			for _, r := range records {
				assert.Equal(t, r.Data, byID[r.ID])
			}
		})
	}
}

func TestCompressionShrinksRepetitiveRecords(t *testing.T) {
	records := sampleRecords(4)
	raw, err := EncodeBundle(records, CodecNone)
	require.NoError(t, err)
	packed, err := EncodeBundle(records, CodecZstd)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(raw))
}

func TestIncompressibleRecordStoredRaw(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i*97 + 13)
	}
	out, codec, err := compress(data, CodecZstd)
	require.NoError(t, err)
	assert.Equal(t, CodecNone, codec)
	assert.Equal(t, data, out)
}

func TestBundleStorePartialRetrieval(t *testing.T) {
	ctx := context.Background()
	for name, be := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := NewBundleStore(be, CodecLZ4)
			records := sampleRecords(20)
			require.NoError(t, store.Put(ctx, "bundle", records))

			got, err := store.RetrievePartial(ctx, "bundle", "node-007")
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(got, []byte("node 7 payload")))

			_, err = store.RetrievePartial(ctx, "bundle", "node-999")
			assert.ErrorIs(t, err, errs.ErrNotFound)

			_, err = store.RetrievePartial(ctx, "nope", "node-001")
			assert.ErrorIs(t, err, errs.ErrNotFound)

			all, err := store.Get(ctx, "bundle")
			require.NoError(t, err)
			assert.Len(t, all, 20)
		})
	}
}

// countingBackend records how many bytes ranged reads return
type countingBackend struct {
	*Memory
	ranged int64
	full   int
}

func (c *countingBackend) Retrieve(ctx context.Context, key string) ([]byte, error) {
	c.full++
	return c.Memory.Retrieve(ctx, key)
}

func (c *countingBackend) RetrieveRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	data, err := c.Memory.RetrieveRange(ctx, key, offset, length)
	c.ranged += int64(len(data))
	return data, err
}

func TestPartialRetrievalReadsOnlyTheFrame(t *testing.T) {
	ctx := context.Background()
	be := &countingBackend{Memory: NewMemory()}
	store := NewBundleStore(be, CodecNone)
	require.NoError(t, store.Put(ctx, "bundle", sampleRecords(50)))
	whole, err := be.Memory.Retrieve(ctx, "bundle")
	require.NoError(t, err)

	_, err = store.RetrievePartial(ctx, "bundle", "node-025")
	require.NoError(t, err)
	assert.Zero(t, be.full)
	assert.Less(t, be.ranged, int64(len(whole))/4)
}

func TestCorruptedFrameDetected(t *testing.T) {
	data, err := EncodeBundle(sampleRecords(3), CodecNone)
	require.NoError(t, err)
	// flip a byte in the last frame's payload
	data[len(data)-10] ^= 0xFF
	_, err = DecodeBundle(data)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestCorruptedIndexDetected(t *testing.T) {
	data, err := EncodeBundle(sampleRecords(3), CodecNone)
	require.NoError(t, err)
	data[BundleHeaderSize+1] ^= 0xFF
	_, err = BundleIndex(data)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestBadMagic(t *testing.T) {
	data := make([]byte, BundleHeaderSize)
	copy(data, "NOPE")
	binary.LittleEndian.PutUint32(data[8:12], 0)
	_, err := DecodeBundle(data)
	assert.True(t, errors.Is(err, ErrBadMagic))
}

func TestFrameTruncated(t *testing.T) {
	f := &Frame{Codec: CodecNone, Key: []byte("k"), RawLen: 3, Data: []byte("abc")}
	enc := f.Encode()
	assert.Equal(t, f.Size(), len(enc))
	_, err := DecodeFrame(enc[:len(enc)-2])
	assert.ErrorIs(t, err, ErrTruncated)

	dec, err := DecodeFrame(enc)
	require.NoError(t, err)
	r, err := dec.Record()
	require.NoError(t, err)
	assert.Equal(t, "abc", string(r.Data))
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	be, err := Open(ctx, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory", be.Name())

	be, err = Open(ctx, Config{Backend: "badger", Badger: InMemoryBadgerConfig()}, nil)
	require.NoError(t, err)
	assert.Equal(t, "badger", be.Name())
	require.NoError(t, be.Close())

	_, err = Open(ctx, Config{Backend: "floppy"}, nil)
	assert.Error(t, err)
}
