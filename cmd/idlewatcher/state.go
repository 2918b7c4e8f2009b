package main

import (
	"time"

	"github.com/Mikhailzrick/knubat.components/atomicfile"
)

// One pulse per debounce window is all the state machine needs; the rest of
// an input burst carries no extra information.
const pulseDebounce = 3 * time.Second

type watchState int

const (
	stateActive watchState = iota
	stateIdle
	stateExtended
)

func (s watchState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateExtended:
		return "extended"
	default:
		return "active"
	}
}

// stateFileValue is what UIs poll for: 1 means the user is present.
func (s watchState) stateFileValue() string {
	if s == stateActive {
		return "1"
	}
	return "0"
}

// stateMachine derives ACTIVE/IDLE/EXTENDED purely from the time since the
// last accepted activity pulse. Everything runs on the main goroutine.
type stateMachine struct {
	cfg       watchConfig
	stateFile string

	state        watchState
	lastActivity time.Time
	lastPulse    time.Time

	now      func() time.Time
	runHooks func(watchState)
}

func newStateMachine(cfg watchConfig, stateFile string, runHooks func(watchState)) *stateMachine {
	return &stateMachine{
		cfg:       cfg,
		stateFile: stateFile,
		state:     stateActive,
		now:       time.Now,
		runHooks:  runHooks,
	}
}

// start counts boot as activity and publishes the initial ACTIVE state.
// Hooks don't run for the initial publish, nothing transitioned.
func (sm *stateMachine) start() {
	sm.lastActivity = sm.now()
	sm.writeState()
}

func (sm *stateMachine) writeState() {
	if err := atomicfile.WriteString(sm.stateFile, sm.state.stateFileValue()+"\n", 0644); err != nil {
		log.Warnf("Could not write state file: %v", err)
	}
}

func (sm *stateMachine) sinceActivity() time.Duration {
	d := sm.now().Sub(sm.lastActivity)
	if d < 0 {
		d = 0
	}
	return d
}

// activity registers one debounced input pulse and wakes the machine back to
// ACTIVE if needed.
func (sm *stateMachine) activity() {
	now := sm.now()
	if now.Sub(sm.lastPulse) < pulseDebounce {
		return
	}
	sm.lastPulse = now
	sm.lastActivity = now
	if sm.state != stateActive {
		sm.enter(stateActive)
	}
}

func (sm *stateMachine) enter(to watchState) {
	if to == sm.state {
		return
	}
	log.Infof("State %s -> %s", sm.state, to)
	sm.state = to
	sm.writeState()
	if sm.runHooks != nil {
		sm.runHooks(to)
	}
}

// reevaluate applies the timeout thresholds and returns the delay until the
// next evaluation is due.
func (sm *stateMachine) reevaluate() time.Duration {
	since := sm.sinceActivity()
	switch sm.state {
	case stateActive:
		if since >= sm.cfg.idle {
			sm.enter(stateIdle)
		}
	case stateIdle:
		if since < sm.cfg.idle {
			sm.enter(stateActive)
		} else if since >= sm.cfg.idle+sm.cfg.extended {
			sm.enter(stateExtended)
		}
	default:
		if since < sm.cfg.idle {
			sm.enter(stateActive)
		}
	}
	return sm.timerDelay()
}

// timerDelay is the time until the current state could change without new
// input. Zero means no timer needs to run: EXTENDED only ends on activity.
func (sm *stateMachine) timerDelay() time.Duration {
	if sm.state == stateExtended {
		return 0
	}
	deadline := sm.cfg.idle
	if sm.state == stateIdle {
		deadline += sm.cfg.extended
	}
	remain := deadline - sm.sinceActivity()
	if remain < time.Millisecond {
		remain = time.Millisecond
	}
	return remain
}
