package main

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// Linux input subsystem constants, from linux/input-event-codes.h.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	absMax   = 0x3f
	absHat0X = 0x10
	absHat3Y = 0x17
)

const (
	axisDzMin     = 64  // floor for computed deadzones
	axisDzBadSpan = 128 // fallback when the driver reports a zero span
)

// struct input_event is a struct timeval (two C longs, so the width follows
// the platform word size) followed by type, code and value: 24 bytes on
// 64-bit, 16 on 32-bit ARM.
const (
	timevalSize    = int(unsafe.Sizeof(uintptr(0))) * 2
	inputEventSize = timevalSize + 8
)

// absInfo mirrors struct input_absinfo.
type absInfo struct {
	Value, Minimum, Maximum, Fuzz, Flat, Resolution int32
}

// eviocgabs builds the EVIOCGABS(code) ioctl request: a read of one absInfo
// from the 'E' ioctl group.
func eviocgabs(code int) uintptr {
	return uintptr(0x80000000 | uint32(unsafe.Sizeof(absInfo{}))<<16 | 'E'<<8 | uint32(0x40+code))
}

func isHatAxis(code uint16) bool {
	return code >= absHat0X && code <= absHat3Y
}

// deadzoneForSpan computes an axis activity threshold from the value range
// reported by the driver.
func deadzoneForSpan(span int64, pct float64) int32 {
	if span <= 0 {
		return axisDzBadSpan
	}
	dz := int32(math.Round(float64(span) * pct))
	if dz < axisDzMin {
		dz = axisDzMin
	}
	return dz
}

// isEventName matches "event" followed by digits only.
func isEventName(name string) bool {
	if !strings.HasPrefix(name, "event") || len(name) == len("event") {
		return false
	}
	for _, c := range name[len("event"):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// device tracks per-axis state for one open evdev node.
type device struct {
	path string
	f    *os.File

	absLast [absMax + 1]int32
	absSeen [absMax + 1]bool
	absDz   [absMax + 1]int32
}

// initAbsInfo queries the axis ranges once and derives per-axis deadzones.
// Hats stay unfiltered, their values are discrete.
func (d *device) initAbsInfo(pct float64) {
	fd := d.f.Fd()
	for code := 0; code <= absMax; code++ {
		var ai absInfo
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, eviocgabs(code), uintptr(unsafe.Pointer(&ai)))
		if errno != 0 {
			continue
		}
		if isHatAxis(uint16(code)) {
			continue
		}
		d.absDz[code] = deadzoneForSpan(int64(ai.Maximum)-int64(ai.Minimum), pct)
	}
}

// eventIsActivity decides whether one input event counts as user activity.
// Keys and relative motion always do; absolute axes only when they move past
// their deadzone, so a drifting stick at rest doesn't hold the device awake.
// The first value seen on an axis only primes the baseline.
func (d *device) eventIsActivity(typ, code uint16, value int32) bool {
	switch typ {
	case evKey, evRel:
		return true
	case evAbs:
		if int(code) > absMax {
			return false
		}
		if !d.absSeen[code] {
			d.absLast[code] = value
			d.absSeen[code] = true
			return false
		}
		delta := value - d.absLast[code]
		if delta < 0 {
			delta = -delta
		}
		if isHatAxis(code) {
			if delta != 0 {
				d.absLast[code] = value
				return true
			}
			return false
		}
		dz := d.absDz[code]
		if dz <= 0 {
			dz = axisDzMin
		}
		if delta >= dz {
			d.absLast[code] = value
			return true
		}
	}
	return false
}

// readLoop blocks on the device until it is closed or vanishes, reporting at
// most one pulse per read batch.
func (d *device) readLoop(pulse chan<- struct{}) {
	buf := make([]byte, inputEventSize*64)
	for {
		n, err := d.f.Read(buf)
		if err != nil {
			return
		}

		activity := false
		for off := 0; off+inputEventSize <= n; off += inputEventSize {
			typ := binary.LittleEndian.Uint16(buf[off+timevalSize:])
			code := binary.LittleEndian.Uint16(buf[off+timevalSize+2:])
			value := int32(binary.LittleEndian.Uint32(buf[off+timevalSize+4:]))
			if typ == evSyn {
				continue
			}
			if d.eventIsActivity(typ, code, value) {
				activity = true
			}
		}

		if activity {
			select {
			case pulse <- struct{}{}:
			default:
			}
		}
	}
}

// inputWatcher owns the set of open devices and follows hotplug.
type inputWatcher struct {
	dir   string
	dzPct float64
	pulse chan<- struct{}

	mu      sync.Mutex
	devices map[string]*device
}

func newInputWatcher(dir string, dzPct float64, pulse chan<- struct{}) *inputWatcher {
	return &inputWatcher{
		dir:     dir,
		dzPct:   dzPct,
		pulse:   pulse,
		devices: make(map[string]*device),
	}
}

func (w *inputWatcher) add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.devices[path]; ok {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Debugf("Could not open %s: %v", path, err)
		return
	}

	d := &device{path: path, f: f}
	d.initAbsInfo(w.dzPct)
	w.devices[path] = d
	log.Infof("Watching %s", path)

	go func() {
		d.readLoop(w.pulse)
		w.remove(path)
	}()
}

func (w *inputWatcher) remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d, ok := w.devices[path]; ok {
		d.f.Close()
		delete(w.devices, path)
		log.Infof("Stopped watching %s", path)
	}
}

// scan opens every event node already present.
func (w *inputWatcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if isEventName(e.Name()) {
			w.add(filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// watch follows hotplug events until ctx is done.
func (w *inputWatcher) watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isEventName(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				w.add(ev.Name)
			}
			if ev.Op&fsnotify.Remove != 0 {
				w.remove(ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("Input watch: %v", err)
		}
	}
}
