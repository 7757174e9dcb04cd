// Package osc implements the oscillogram engine (C3): a fixed sample pool
// shared by N parallel buffers, proportional allocation among enabled
// channels, append/pause/resume, and the two buffer modes. Grounded on
// original_source/osc.h (canonical multi-buffer API) and osc.c (the
// proportional allocation algorithm and bit-packing helpers).
package osc

import (
	"sync"
	"time"

	"github.com/catompiler/pqrecorder/internal/dsp"
	"github.com/catompiler/pqrecorder/internal/errs"
	"github.com/catompiler/pqrecorder/internal/q15"
	"github.com/charmbracelet/log"
)

// BufferMode selects the oscillogram's operating mode.
type BufferMode int

const (
	// RingInBuffer: one buffer, overwriting itself — pre-trigger event
	// capture.
	RingInBuffer BufferMode = iota
	// BufferInRing: N buffers cycled as a FIFO — long-running trends.
	BufferInRing
)

// Config describes the static shape of an oscillogram instance.
type Config struct {
	PoolSize   uint32 // total Q15 slots in the shared sample pool
	NumBuffers int
	Mode       BufferMode
	DecimRate  int // decimation from the analog frontend's sample rate
	SampleFreq int // post-decimation rate feeding this oscillogram, Hz
	LineFreq   int
}

// Oscillogram owns the shared sample pool, every buffer, and every
// channel. Exactly one goroutine calls Append; other goroutines only read
// via the accessor methods below, each of which takes the same mutex.
type Oscillogram struct {
	mu sync.Mutex

	cfg      Config
	pool     []q15.Q15
	buffers  []*Buffer
	channels []*Channel

	bufCapacity  uint32
	samplesCount uint32

	decim    *dsp.Decimator
	enabled  bool
	writeBuf int
	readBuf  int

	pausePending   bool
	pauseCountdown int64

	clock func() time.Time
	log   *log.Logger
}

// New builds an oscillogram with the given configuration and channel set.
// Channels must already be constructed via NewAnalogChannel/NewDigitalChannel.
// InitChannels must be called (directly, or via New) before Append.
func New(cfg Config, channels []*Channel, logger *log.Logger) (*Oscillogram, error) {
	if cfg.NumBuffers < 1 {
		cfg.NumBuffers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	o := &Oscillogram{
		cfg:      cfg,
		pool:     make([]q15.Q15, cfg.PoolSize),
		channels: channels,
		decim:    dsp.NewDecimator(cfg.DecimRate),
		clock:    time.Now,
		log:      logger.With("component", "osc"),
	}
	o.bufCapacity = cfg.PoolSize / uint32(cfg.NumBuffers)
	o.buffers = make([]*Buffer, cfg.NumBuffers)
	for i := range o.buffers {
		o.buffers[i] = &Buffer{base: uint32(i) * o.bufCapacity}
	}
	if err := o.initChannelsLocked(); err != nil {
		return nil, err
	}
	return o, nil
}

// required computes the pool slot footprint for `count` samples per
// channel, summed over enabled channels, per §4.3's allocation algorithm.
func (o *Oscillogram) required(count uint32) uint32 {
	var total uint32
	for _, ch := range o.channels {
		if !ch.cfg.Enabled {
			continue
		}
		if ch.cfg.ValueType == Bit {
			total += bitSlotsFor(count)
		} else {
			total += count
		}
	}
	return total
}

// initChannelsLocked runs the proportional allocation algorithm and
// assigns each enabled channel a contiguous data_offset. Must be called
// with mu held.
func (o *Oscillogram) initChannelsLocked() error {
	B := o.bufCapacity
	reqB := o.required(B)

	var count uint32
	if reqB == 0 {
		// No enabled channels: nothing to fit against, the whole buffer is
		// nominally available.
		count = B
	} else {
		// size_rate = B / required(B) (conceptually Q15); samples_count =
		// floor(size_rate * B) = floor(B*B / required(B)). This one-shot
		// init-time computation uses plain integer arithmetic rather than
		// q15.Q15 — it runs once per config reload, not in the hot path
		// the spec requires free of general-purpose math (see DESIGN.md).
		count = uint32((uint64(B) * uint64(B)) / uint64(reqB))
		for count > 0 && o.required(count) > B {
			count--
		}
		if count == 0 {
			return errs.New(errs.OutOfMemory, "oscillogram pool cannot hold even one sample per enabled channel")
		}
	}

	var offset uint32
	for _, ch := range o.channels {
		if !ch.cfg.Enabled {
			ch.dataOffset = IndexInvalid
			continue
		}
		ch.dataOffset = offset
		if ch.cfg.ValueType == Bit {
			offset += bitSlotsFor(count)
		} else {
			offset += count
		}
		ch.reducer.Reset()
	}
	if offset > B {
		return errs.New(errs.OutOfRange, "computed oscillogram layout overflows buffer capacity")
	}

	o.samplesCount = count
	for _, buf := range o.buffers {
		buf.head, buf.count, buf.paused = 0, 0, false
	}
	o.writeBuf, o.readBuf = 0, 0
	o.decim.Reset()
	return nil
}

// InitChannels re-runs the allocation algorithm, e.g. after a config
// reload changed which channels are enabled.
func (o *Oscillogram) InitChannels() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initChannelsLocked()
}

// SetEnabled toggles whether Append does anything.
func (o *Oscillogram) SetEnabled(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = v
}

// Reset clears every buffer and channel reducer state without re-running
// allocation (used by the logger's NoInit.Begin handler).
func (o *Oscillogram) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, buf := range o.buffers {
		buf.head, buf.count, buf.paused = 0, 0, false
	}
	for _, ch := range o.channels {
		ch.reducer.Reset()
	}
	o.writeBuf, o.readBuf = 0, 0
	o.pausePending = false
	o.decim.Reset()
}

// SamplesCount returns the per-channel sample capacity computed at the
// last InitChannels.
func (o *Oscillogram) SamplesCount() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.samplesCount
}

// samplePeriod is the wall-clock duration between two committed samples:
// oversample_ratio (folded into the frontend already) x decim_rate x
// ADC period, per §4.3's "Sample timing".
func (o *Oscillogram) samplePeriod() time.Duration {
	if o.cfg.SampleFreq <= 0 {
		return 0
	}
	return time.Second / time.Duration(o.cfg.SampleFreq)
}

// Append runs one analog-frontend-rate tick: every enabled channel samples
// its source into its reducer, and once this oscillogram's own decimator
// fires, every channel's reduced value is committed to the active buffer.
func (o *Oscillogram) Append() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.enabled {
		return
	}
	for _, ch := range o.channels {
		if !ch.cfg.Enabled {
			continue
		}
		switch ch.cfg.SrcType {
		case AIN:
			ch.reducer.Put(ch.sampleAnalog())
		case DIN:
			ch.reducer.PutBit(ch.sampleDigital())
		}
	}
	if o.decim.Tick() {
		o.commitSampleLocked()
	}
}

func (o *Oscillogram) commitSampleLocked() {
	buf := o.buffers[o.writeBuf]
	if buf.paused {
		return
	}

	for _, ch := range o.channels {
		if !ch.cfg.Enabled {
			continue
		}
		switch ch.cfg.ValueType {
		case Val:
			writeAnalog(o.pool, buf.base, ch.dataOffset, buf.head, ch.reducer.Take())
		case Bit:
			writeBit(o.pool, buf.base, ch.dataOffset, buf.head, ch.reducer.TakeBit())
		}
	}

	buf.head = (buf.head + 1) % o.samplesCount
	if buf.count < o.samplesCount {
		buf.count++
	}
	buf.endWallTime = o.clock().Add(-o.skew())

	if o.pausePending {
		o.pauseCountdown--
		if o.pauseCountdown <= 0 {
			o.pauseBufferLocked(o.writeBuf)
			o.pausePending = false
		}
	}

	if o.cfg.Mode == BufferInRing && buf.count == o.samplesCount && !buf.paused {
		o.pauseBufferLocked(o.writeBuf)
	}
}

// skew is the wall-clock back-dating applied to end_wall_time: the number
// of sub-decimated samples pending since the last committed sample, times
// the sample period, per §4.3.
func (o *Oscillogram) skew() time.Duration {
	return time.Duration(o.decim.Skew()) * o.samplePeriod()
}

func (o *Oscillogram) pauseBufferLocked(idx int) {
	buf := o.buffers[idx]
	if buf.paused {
		return
	}
	buf.paused = true
	buf.endWallTime = o.clock().Add(-o.skew())
	if o.cfg.Mode == BufferInRing {
		o.writeBuf = (o.writeBuf + 1) % o.cfg.NumBuffers
	}
}

// Pause arranges for the active buffer to be paused after `seconds` more
// worth of samples are committed (a non-positive duration pauses
// immediately), per §4.3's pause(time).
func (o *Oscillogram) Pause(seconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := int64(seconds * float64(o.cfg.SampleFreq))
	if n <= 0 {
		o.pauseBufferLocked(o.writeBuf)
		return
	}
	o.pauseCountdown = n
	o.pausePending = true
}

// PauseCurrent pauses the active buffer immediately — the zero-countdown
// variant of Pause.
func (o *Oscillogram) PauseCurrent() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pauseBufferLocked(o.writeBuf)
}

// Resume un-pauses the oldest paused buffer (o.readBuf) so it becomes
// writable again, and in BufferInRing mode advances the read cursor to the
// next buffer. Called by the storage consumer once it has fully drained a
// buffer to disk.
func (o *Oscillogram) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	buf := o.buffers[o.readBuf]
	buf.paused = false
	buf.head, buf.count = 0, 0
	if o.cfg.Mode == BufferInRing {
		o.readBuf = (o.readBuf + 1) % o.cfg.NumBuffers
	}
}

// WriteBufferIndex returns the buffer currently accepting appends.
func (o *Oscillogram) WriteBufferIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeBuf
}

// ReadBufferIndex returns the buffer the storage consumer should drain
// next.
func (o *Oscillogram) ReadBufferIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.readBuf
}

// BufferPaused reports whether buffer idx is currently frozen.
func (o *Oscillogram) BufferPaused(idx int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffers[idx].paused
}

// BufferCount returns the number of valid samples in buffer idx.
func (o *Oscillogram) BufferCount(idx int) uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffers[idx].count
}

// BufferEndTime returns the wall time of the last committed sample in
// buffer idx.
func (o *Oscillogram) BufferEndTime(idx int) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffers[idx].endWallTime
}

// BufferStartTime computes the wall time of the first committed sample in
// buffer idx, lazily from end_wall_time and the sample period.
func (o *Oscillogram) BufferStartTime(idx int) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	buf := o.buffers[idx]
	if buf.count == 0 {
		return buf.endWallTime
	}
	return buf.endWallTime.Add(-time.Duration(buf.count-1) * o.samplePeriod())
}

// ChannelAnalogValue reads the analog sample at position i (chronological,
// 0 = oldest) for channel ch in buffer idx.
func (o *Oscillogram) ChannelAnalogValue(idx int, ch int, i uint32) q15.Q15 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return readAnalog(o.pool, o.buffers[idx].base, o.channels[ch].dataOffset, o.chronoIndexLocked(idx, i))
}

// ChannelDigitalValue reads the digital sample at position i for channel
// ch in buffer idx.
func (o *Oscillogram) ChannelDigitalValue(idx int, ch int, i uint32) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return readBit(o.pool, o.buffers[idx].base, o.channels[ch].dataOffset, o.chronoIndexLocked(idx, i))
}

// chronoIndexLocked converts a chronological sample position (0 = oldest)
// into the underlying ring slot index.
func (o *Oscillogram) chronoIndexLocked(idx int, i uint32) uint32 {
	buf := o.buffers[idx]
	if buf.count < o.samplesCount {
		return i
	}
	return (buf.head + i) % o.samplesCount
}

// Channels exposes the channel set for the storage serializer.
func (o *Oscillogram) Channels() []*Channel { return o.channels }

// SampleFreq returns the post-decimation sample rate feeding this
// oscillogram.
func (o *Oscillogram) SampleFreq() int { return o.cfg.SampleFreq }

// LineFreq returns the configured power-line frequency.
func (o *Oscillogram) LineFreq() int { return o.cfg.LineFreq }

// SetClock overrides the wall-clock source (tests only).
func (o *Oscillogram) SetClock(f func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clock = f
}
