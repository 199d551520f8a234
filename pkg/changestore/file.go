package changestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz/lzma"
	"github.com/zeebo/xxh3"

	"github.com/und3fined/pijul/pkg/change"
	"github.com/und3fined/pijul/pkg/types"
)

// FileStore keeps one file per change under a directory.
//
// Frame layout: magic "PJLF" | u32 payloadLen | lzma payload |
// xxh3-128 of the payload. The checksum is integrity only; identity
// is still the BLAKE3 hash verified after decompression.
type FileStore struct {
	dir string
}

var fileMagic = [4]byte{'P', 'J', 'L', 'F'}

const checksumLen = 16

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("changestore: creating %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(h types.Hash) string {
	return filepath.Join(s.dir, h.String()+".change")
}

func (s *FileStore) Put(c *change.Change) (types.Hash, error) {
	h := c.Hash()
	if ok, err := s.Has(h); err != nil {
		return h, err
	} else if ok {
		return h, nil
	}

	raw, err := c.Encode()
	if err != nil {
		return h, err
	}

	var payload bytes.Buffer
	zw, err := lzma.NewWriter(&payload)
	if err != nil {
		return h, fmt.Errorf("changestore: lzma init: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return h, fmt.Errorf("changestore: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return h, fmt.Errorf("changestore: compress: %w", err)
	}

	var frame bytes.Buffer
	frame.Write(fileMagic[:])
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(payload.Len()))
	frame.Write(lenBuf[:])
	frame.Write(payload.Bytes())
	sum := xxh3.Hash128(payload.Bytes()).Bytes()
	frame.Write(sum[:])

	// Write-then-rename so a crash never leaves a half frame under
	// the final name.
	tmp := s.path(h) + ".tmp"
	if err := os.WriteFile(tmp, frame.Bytes(), 0o644); err != nil {
		return h, fmt.Errorf("changestore: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path(h)); err != nil {
		return h, fmt.Errorf("changestore: renaming %s: %w", tmp, err)
	}
	return h, nil
}

func (s *FileStore) readFrame(h types.Hash) ([]byte, error) {
	b, err := os.ReadFile(s.path(h))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("changestore: reading %s: %w", h, err)
	}
	if len(b) < 8+checksumLen || !bytes.Equal(b[:4], fileMagic[:]) {
		return nil, fmt.Errorf("%w: %s: bad frame", ErrCorrupt, h)
	}
	payloadLen := binary.LittleEndian.Uint32(b[4:8])
	if int(payloadLen) != len(b)-8-checksumLen {
		return nil, fmt.Errorf("%w: %s: frame length", ErrCorrupt, h)
	}
	payload := b[8 : 8+payloadLen]
	sum := xxh3.Hash128(payload).Bytes()
	if !bytes.Equal(sum[:], b[8+payloadLen:]) {
		return nil, fmt.Errorf("%w: %s: checksum", ErrCorrupt, h)
	}

	zr, err := lzma.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, h, err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, h, err)
	}
	return raw, nil
}

func (s *FileStore) Get(h types.Hash) (*change.Change, error) {
	raw, err := s.readFrame(h)
	if err != nil {
		return nil, err
	}
	return change.DecodeVerify(raw, h)
}

func (s *FileStore) Has(h types.Hash) (bool, error) {
	_, err := os.Stat(s.path(h))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("changestore: stat %s: %w", h, err)
	}
	return true, nil
}

func (s *FileStore) Del(h types.Hash) error {
	err := os.Remove(s.path(h))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("changestore: removing %s: %w", h, err)
	}
	return nil
}

func (s *FileStore) Contents(h types.Hash, start, end uint64) ([]byte, error) {
	c, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	return c.ContentsSlice(start, end)
}
