package record

import (
	"bytes"
	"io"

	chunker "github.com/ipfs/boxo/chunker"
)

// DefaultChunkSize bounds a single content vertex. Large insertions
// split into chained vertices so later edits inside them split less.
const DefaultChunkSize int64 = 256 * 1024

// chunks splits b into vertex-sized pieces.
func chunks(b []byte, size int64) ([][]byte, error) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if int64(len(b)) <= size {
		if len(b) == 0 {
			return nil, nil
		}
		return [][]byte{b}, nil
	}
	sp := chunker.NewSizeSplitter(bytes.NewReader(b), size)
	var out [][]byte
	for {
		piece, err := sp.NextBytes()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, piece)
	}
}
