package wasm

// LEB128 encoding utilities for the WebAssembly binary format

// AppendLEB128u appends the unsigned LEB128 encoding of v.
func AppendLEB128u(dst []byte, v uint32) []byte {
	return AppendLEB128u64(dst, uint64(v))
}

// AppendLEB128u64 appends the unsigned LEB128 encoding of a 64-bit value.
func AppendLEB128u64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// AppendLEB128s appends the signed LEB128 encoding of v.
func AppendLEB128s(dst []byte, v int32) []byte {
	return AppendLEB128s64(dst, int64(v))
}

// AppendLEB128s64 appends the signed LEB128 encoding of a 64-bit value.
func AppendLEB128s64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// EncodeLEB128u encodes an unsigned value
func EncodeLEB128u(v uint32) []byte {
	return AppendLEB128u(nil, v)
}

// EncodeLEB128s encodes a signed value
func EncodeLEB128s(v int32) []byte {
	return AppendLEB128s(nil, v)
}
