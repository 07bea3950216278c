package util

import "log"

// Debug is the verbosity threshold for DPrintf; messages with a level above
// it are dropped.
var Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// SumOverflows reports whether x + y wraps around
func SumOverflows(x uint64, y uint64) bool {
	return x+y < x
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}

// Zero clears every byte of b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
