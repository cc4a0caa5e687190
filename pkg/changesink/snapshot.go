package changesink

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/mnohosten/stateoverlay/pkg/overlay"
)

// SnapshotConfig configures how a drained mutation batch is serialized
// for hand-off to cold storage or a peer. It mirrors the
// Algorithm/Config/DefaultConfig shape pkg/compression.Config uses,
// trimmed to the one algorithm (zstd) this overlay actually needs -
// there is no on-disk format here that snappy/gzip/zlib compatibility
// would serve.
type SnapshotConfig struct {
	Level int // zstd compression level, 1 (fastest) to 19 (best ratio)
}

// DefaultSnapshotConfig returns a balanced default (zstd level 3, the
// same default pkg/compression.DefaultConfig uses).
func DefaultSnapshotConfig() *SnapshotConfig {
	return &SnapshotConfig{Level: 3}
}

// SnapshotWriter serializes, compresses, and checksums drained mutation
// batches. It is a one-shot hand-off format, not a persistence layer
// for the overlay's live state: the overlay itself never reads a
// snapshot back.
type SnapshotWriter struct {
	enc *zstd.Encoder
}

// NewSnapshotWriter creates a writer using cfg (DefaultSnapshotConfig if nil).
func NewSnapshotWriter(cfg *SnapshotConfig) (*SnapshotWriter, error) {
	if cfg == nil {
		cfg = DefaultSnapshotConfig()
	}
	level := cfg.Level
	if level < 1 || level > 19 {
		level = 3
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("changesink: failed to create zstd encoder: %w", err)
	}
	return &SnapshotWriter{enc: enc}, nil
}

// Snapshot is a compressed, checksummed drained mutation batch.
type Snapshot struct {
	Compressed []byte
	Checksum   [blake2b.Size256]byte
	Count      int
}

// Write serializes mutations in the order given (lexicographic by key,
// the order DrainCommitted yields), compresses the result, and
// blake2b-256 checksums the compressed payload so a receiver can detect
// corruption in transit without needing to decompress first.
func (w *SnapshotWriter) Write(mutations []overlay.Mutation) (*Snapshot, error) {
	var buf bytes.Buffer
	if err := encodeMutations(&buf, mutations); err != nil {
		return nil, err
	}

	compressed := w.enc.EncodeAll(buf.Bytes(), nil)
	sum := blake2b.Sum256(compressed)

	return &Snapshot{Compressed: compressed, Checksum: sum, Count: len(mutations)}, nil
}

func encodeMutations(w io.Writer, mutations []overlay.Mutation) error {
	var lenBuf [4]byte
	writeUint32 := func(n int) error {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(n))
		_, err := w.Write(lenBuf[:])
		return err
	}

	if err := writeUint32(len(mutations)); err != nil {
		return err
	}
	for _, m := range mutations {
		if err := writeUint32(len(m.Key)); err != nil {
			return err
		}
		if _, err := w.Write(m.Key); err != nil {
			return err
		}
		present := byte(0)
		if m.Present {
			present = 1
		}
		if _, err := w.Write([]byte{present}); err != nil {
			return err
		}
		if err := writeUint32(len(m.Value)); err != nil {
			return err
		}
		if _, err := w.Write(m.Value); err != nil {
			return err
		}
	}
	return nil
}

// ReadSnapshot decompresses and decodes a Snapshot's mutation batch,
// verifying its checksum first.
func ReadSnapshot(snap *Snapshot) ([]overlay.Mutation, error) {
	sum := blake2b.Sum256(snap.Compressed)
	if sum != snap.Checksum {
		return nil, fmt.Errorf("changesink: snapshot checksum mismatch")
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("changesink: failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(snap.Compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("changesink: failed to decompress snapshot: %w", err)
	}

	return decodeMutations(raw)
}

func decodeMutations(raw []byte) ([]overlay.Mutation, error) {
	r := bytes.NewReader(raw)
	readUint32 := func() (int, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return int(binary.BigEndian.Uint32(b[:])), nil
	}

	count, err := readUint32()
	if err != nil {
		return nil, fmt.Errorf("changesink: malformed snapshot header: %w", err)
	}

	out := make([]overlay.Mutation, 0, count)
	for i := 0; i < count; i++ {
		keyLen, err := readUint32()
		if err != nil {
			return nil, fmt.Errorf("changesink: malformed snapshot entry %d: %w", i, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("changesink: truncated key at entry %d: %w", i, err)
		}

		var presentByte [1]byte
		if _, err := io.ReadFull(r, presentByte[:]); err != nil {
			return nil, fmt.Errorf("changesink: truncated presence flag at entry %d: %w", i, err)
		}

		valueLen, err := readUint32()
		if err != nil {
			return nil, fmt.Errorf("changesink: malformed snapshot entry %d: %w", i, err)
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("changesink: truncated value at entry %d: %w", i, err)
		}

		out = append(out, overlay.Mutation{Key: key, Value: value, Present: presentByte[0] == 1})
	}
	return out, nil
}
