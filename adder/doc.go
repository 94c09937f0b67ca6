// Package adder is the example workload run inside the sandbox.
//
// The guest reads newline-terminated decimal u64 tokens from stdin and, on
// every second token, writes the sum of the last two tokens followed by a
// newline to stdout. Tokens pair up 1&2, 3&4, and so on; a dangling odd
// token at end of input produces nothing.
//
// Module returns the guest as a WASI preview1 command module. Sums computes
// the same answer on the host and is what tests compare the guest against.
// WriteTokens and ReadSums encode and decode the line protocol on the host
// side of the channels.
package adder
