// SPDX-License-Identifier: MIT

/*
Package bitint provides the power-of-two helpers used to size the capture
queue and validate FFT lengths. All functions are O(1), allocation free and
safe to call from a real-time path.

	capacity := bitint.NextPowerOfTwo(6000) // 8192
	mask := capacity - 1                    // index wrap without modulo
	ok := bitint.IsPowerOfTwo(2048)         // true

NextPowerOfTwo works on size-1 so that exact powers of two map to
themselves: for 8, bits.Len(7) is 3 and 1<<3 is 8, whereas bits.Len(8) would
give 4 and double the input.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Values <= 0
// return 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
//	-1     1
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has exactly one bit set, so clearing its lowest set bit with n&(n-1)
// leaves zero.
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
