package main

import (
	"encoding/binary"
	"os"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsEventName(t *testing.T) {
	assert.True(t, isEventName("event0"))
	assert.True(t, isEventName("event17"))
	assert.False(t, isEventName("event"))
	assert.False(t, isEventName("event1a"))
	assert.False(t, isEventName("mouse0"))
	assert.False(t, isEventName("by-id"))
	assert.False(t, isEventName(""))
}

func TestDeadzoneForSpan(t *testing.T) {
	// 15% of a 16-bit stick span.
	assert.Equal(t, int32(9830), deadzoneForSpan(65535, 0.15))

	// Small spans hit the floor.
	assert.Equal(t, int32(axisDzMin), deadzoneForSpan(255, 0.15))

	// Broken drivers report no span at all.
	assert.Equal(t, int32(axisDzBadSpan), deadzoneForSpan(0, 0.15))
	assert.Equal(t, int32(axisDzBadSpan), deadzoneForSpan(-10, 0.15))
}

func TestEviocgabsRequest(t *testing.T) {
	// EVIOCGABS(0): read of a 24-byte struct from ioctl group 'E', base
	// command 0x40.
	assert.Equal(t, uintptr(0x80184540), eviocgabs(0))
	assert.Equal(t, uintptr(0x80184540+absMax), eviocgabs(absMax))
}

func TestEventIsActivityKeysAndRel(t *testing.T) {
	d := &device{}
	assert.True(t, d.eventIsActivity(evKey, 0x130, 1))
	assert.True(t, d.eventIsActivity(evRel, 0, -3))
	assert.False(t, d.eventIsActivity(evSyn, 0, 0))
	assert.False(t, d.eventIsActivity(0x04, 0, 1)) // EV_MSC
}

func TestEventIsActivityAxisDeadzone(t *testing.T) {
	d := &device{}
	d.absDz[0] = 100

	// First value only primes the baseline.
	assert.False(t, d.eventIsActivity(evAbs, 0, 500))

	// Wiggle inside the deadzone is drift, not input. The baseline must
	// not creep along with it.
	assert.False(t, d.eventIsActivity(evAbs, 0, 560))
	assert.False(t, d.eventIsActivity(evAbs, 0, 599))

	// Past the threshold from the original baseline.
	assert.True(t, d.eventIsActivity(evAbs, 0, 600))

	// The baseline moved with the accepted event.
	assert.False(t, d.eventIsActivity(evAbs, 0, 650))
	assert.True(t, d.eventIsActivity(evAbs, 0, 500))
}

func TestEventIsActivityHatUnfiltered(t *testing.T) {
	d := &device{}

	assert.False(t, d.eventIsActivity(evAbs, absHat0X, 0)) // primes
	assert.False(t, d.eventIsActivity(evAbs, absHat0X, 0))
	assert.True(t, d.eventIsActivity(evAbs, absHat0X, 1))
	assert.True(t, d.eventIsActivity(evAbs, absHat0X, -1))
}

func TestEventIsActivityIgnoresOutOfRangeCode(t *testing.T) {
	d := &device{}
	assert.False(t, d.eventIsActivity(evAbs, absMax+1, 1))
}

func TestInputEventSizeTracksWordSize(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		assert.Equal(t, 24, inputEventSize)
	} else {
		assert.Equal(t, 16, inputEventSize)
	}
}

func putInputEvent(buf []byte, typ, code uint16, value int32) {
	binary.LittleEndian.PutUint16(buf[timevalSize:], typ)
	binary.LittleEndian.PutUint16(buf[timevalSize+2:], code)
	binary.LittleEndian.PutUint32(buf[timevalSize+4:], uint32(value))
}

func TestReadLoopPulsesOncePerBatch(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	d := &device{path: "test", f: r}
	pulse := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		d.readLoop(pulse)
		close(done)
	}()

	// A realistic burst: key down, sync, key up, sync. One pulse.
	batch := make([]byte, inputEventSize*4)
	putInputEvent(batch[0*inputEventSize:], evKey, 0x130, 1)
	putInputEvent(batch[1*inputEventSize:], evSyn, 0, 0)
	putInputEvent(batch[2*inputEventSize:], evKey, 0x130, 0)
	putInputEvent(batch[3*inputEventSize:], evSyn, 0, 0)
	_, err = w.Write(batch)
	require.NoError(t, err)

	select {
	case <-pulse:
	case <-time.After(2 * time.Second):
		t.Fatal("no pulse for key batch")
	}
	select {
	case <-pulse:
		t.Fatal("batch produced more than one pulse")
	default:
	}

	// Sync-only traffic is not activity.
	batch = make([]byte, inputEventSize)
	putInputEvent(batch, evSyn, 0, 0)
	_, err = w.Write(batch)
	require.NoError(t, err)

	// Closing the write end ends the loop.
	require.NoError(t, w.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop on close")
	}
	select {
	case <-pulse:
		t.Fatal("sync-only batch produced a pulse")
	default:
	}
}
