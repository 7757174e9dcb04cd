package osc

import (
	"time"

	"github.com/catompiler/pqrecorder/internal/q15"
)

// bitsPerSlot is the number of digital samples packed into one Q15-sized
// pool slot, LSB = sample 0. Grounded on original_source/osc.c's
// osc_channel_append_value_bit/osc_channel_get_value_bit.
const bitsPerSlot = 16

// Buffer is one of the oscillogram's N parallel capture buffers. All
// channels in a buffer share the same sample-time axis (head/count); only
// their slot footprint within the shared pool differs. Grounded on the
// ring-index bookkeeping style of jbrzusto-ogdar/buffer/buffer.go's
// SampleBuff, adapted from a scanline sample allocator to an oscillogram
// slot allocator.
type Buffer struct {
	base        uint32 // offset of this buffer's region within the shared pool
	head        uint32 // next sample-time index to write, 0..samplesCount-1
	count       uint32 // number of valid samples, saturates at samplesCount
	paused      bool
	endWallTime time.Time
}

// writeAnalog writes one Q15 value at the given sample-time index within
// pool, for a channel with the given data_offset (in pool slots).
func writeAnalog(pool []q15.Q15, base uint32, dataOffset uint32, sampleIdx uint32, v q15.Q15) {
	pool[base+dataOffset+sampleIdx] = v
}

// readAnalog is the inverse of writeAnalog.
func readAnalog(pool []q15.Q15, base uint32, dataOffset uint32, sampleIdx uint32) q15.Q15 {
	return pool[base+dataOffset+sampleIdx]
}

// writeBit packs one boolean sample into its bit position within pool,
// LSB = sample 0, per §9's bit-packed digital storage note.
func writeBit(pool []q15.Q15, base uint32, dataOffset uint32, sampleIdx uint32, b bool) {
	slot := dataOffset + sampleIdx/bitsPerSlot
	bitPos := sampleIdx % bitsPerSlot
	word := uint16(pool[base+slot])
	if b {
		word |= 1 << bitPos
	} else {
		word &^= 1 << bitPos
	}
	pool[base+slot] = q15.Q15(word)
}

// readBit is the inverse of writeBit.
func readBit(pool []q15.Q15, base uint32, dataOffset uint32, sampleIdx uint32) bool {
	slot := dataOffset + sampleIdx/bitsPerSlot
	bitPos := sampleIdx % bitsPerSlot
	word := uint16(pool[base+slot])
	return word&(1<<bitPos) != 0
}

// bitSlotsFor returns the number of packed pool slots needed to hold count
// digital samples — ceil(count/16).
func bitSlotsFor(count uint32) uint32 {
	return (count + bitsPerSlot - 1) / bitsPerSlot
}
