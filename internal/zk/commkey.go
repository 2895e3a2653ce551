// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package zk

import "encoding/binary"

// makeCommKey derives the CMD_AUTH payload from the terminal password
// and the session id the terminal assigned.
func makeCommKey(key uint32, sessionID uint16, ticks byte) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		k <<= 1
		if key&(1<<i) != 0 {
			k |= 1
		}
	}
	k += uint32(sessionID)

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'

	// Swap the two 16-bit halves.
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]

	return []byte{b[0] ^ ticks, b[1] ^ ticks, ticks, b[3] ^ ticks}
}
