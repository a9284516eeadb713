package index

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelStore/src/storage/page"
)

// Int64Codec stores keys as little-endian signed 64-bit integers.
type Int64Codec struct{}

var _ page.KeyCodec[int64] = Int64Codec{}

func (Int64Codec) Size() int {
	return 8
}

func (Int64Codec) Encode(buf []byte, key int64) {
	binary.LittleEndian.PutUint64(buf[:8], uint64(key))
}

func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf[:8]))
}

func Int64Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
