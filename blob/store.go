package blob

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"

	"synapsedb.dev/synapsedb/objstore"
	"synapsedb.dev/synapsedb/types"
)

// CompressionThreshold is the payload size above which Store compresses
// objects before writing them. Small objects (small trees, short blobs)
// aren't worth the zlib framing overhead.
const CompressionThreshold = 256

// Store is the content-addressed object database backing the commit
// layer: blobs, trees, and commits all live under rootPrefix, named by
// their Hash, hex-encoded with a two-character fan-out directory so no
// single directory accumulates millions of entries.
type Store struct {
	backend    objstore.ObjectBackend
	rootPrefix string
}

func NewStore(backend objstore.ObjectBackend, rootPrefix string) *Store {
	return &Store{backend: backend, rootPrefix: rootPrefix}
}

func (s *Store) objectPath(h Hash) string {
	hex := h.String()
	return fmt.Sprintf("%s/objects/%s/%s", s.rootPrefix, hex[:2], hex[2:])
}

// Put writes data under its content hash and returns that hash. Writing
// the same (kind, data) pair twice is a no-op on the second call — the
// hash is checked first, so repeated commits of unchanged content never
// re-trigger storage I/O.
func (s *Store) Put(ctx context.Context, kind ObjectKind, data []byte) (Hash, error) {
	h := ComputeHash(kind, data)
	path := s.objectPath(h)

	if _, err := s.backend.Read(ctx, path); err == nil {
		return h, nil // idempotent: identical content already stored
	}

	payload := data
	compressed := false
	if len(data) > CompressionThreshold {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return Hash{}, fmt.Errorf("%w: compressing object: %v", types.ErrStorage, err)
		}
		if err := w.Close(); err != nil {
			return Hash{}, fmt.Errorf("%w: closing compressor: %v", types.ErrStorage, err)
		}
		payload = buf.Bytes()
		compressed = true
	}

	framed := frameObject(kind, compressed, payload)
	if err := s.backend.Write(ctx, path, framed); err != nil {
		return Hash{}, fmt.Errorf("%w: writing object %s: %v", types.ErrStorage, h, err)
	}
	return h, nil
}

// Get reads and decompresses (if needed) the object stored at h.
func (s *Store) Get(ctx context.Context, h Hash) ([]byte, error) {
	if h.IsNull() {
		return nil, fmt.Errorf("%w: cannot read the null hash", types.ErrValidation)
	}
	raw, err := s.backend.Read(ctx, s.objectPath(h))
	if err != nil {
		return nil, err
	}
	_, compressed, payload, err := unframeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}
	if !compressed {
		return payload, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing object %s: %v", types.ErrStorage, h, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading decompressed object %s: %v", types.ErrStorage, h, err)
	}
	return data, nil
}

func (s *Store) Has(ctx context.Context, h Hash) bool {
	_, err := s.backend.Read(ctx, s.objectPath(h))
	return err == nil
}

// frameObject stores a 1-byte compression flag alongside the kind tag so
// Get can tell compressed from raw payloads without re-deriving the hash.
func frameObject(kind ObjectKind, compressed bool, payload []byte) []byte {
	flag := byte(0)
	if compressed {
		flag = 1
	}
	header := []byte(string(kind) + "\x00")
	out := make([]byte, 0, len(header)+1+len(payload))
	out = append(out, header...)
	out = append(out, flag)
	out = append(out, payload...)
	return out
}

func unframeObject(raw []byte) (ObjectKind, bool, []byte, error) {
	idx := bytes.IndexByte(raw, 0)
	if idx < 0 {
		return "", false, nil, fmt.Errorf("blob: malformed object framing")
	}
	kind := ObjectKind(raw[:idx])
	if idx+1 >= len(raw) {
		return "", false, nil, fmt.Errorf("blob: truncated object framing")
	}
	compressed := raw[idx+1] == 1
	return kind, compressed, raw[idx+2:], nil
}
