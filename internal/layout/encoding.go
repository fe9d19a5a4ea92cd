package layout

import "encoding/binary"

// Little-endian word accessors for memory the allocator threads metadata
// through (freelist entries inside freed slots, scan candidates).
// binary.LittleEndian compiles to single moves on the platforms we care
// about, so there is no unsafe here.

// GetWord reads the 8-byte word at off.
func GetWord(data []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(data[off : off+8])
}

// PutWord writes v to the 8-byte word at off.
func PutWord(data []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(data[off:off+8], v)
}
