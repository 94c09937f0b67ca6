package adder

// Sums returns what the guest prints for tokens: the sum of each
// consecutive pair, wrapping modulo 2^64. An odd trailing token is dropped.
func Sums(tokens []uint64) []uint64 {
	out := make([]uint64, 0, len(tokens)/2)
	for i := 0; i+1 < len(tokens); i += 2 {
		out = append(out, tokens[i]+tokens[i+1])
	}
	return out
}
