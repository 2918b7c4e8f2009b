/*
idlewatcher - Evdev-based user activity watcher for handheld Linux systems
Copyright (C) 2025, Mikhailzrick

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License version 2
as published by the Free Software Foundation.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License v2
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logrus.New()

type argSpec struct {
	ConfigFile string `arg:"--config-file" help:"config file holding the idle timers and axis deadzone"`
	StateFile  string `arg:"--state-file" help:"file the activity state (1 active, 0 idle) is exported to"`
	HooksDir   string `arg:"--hooks-dir" help:"root holding the active.d, idle.d and extended.d hook directories"`
	InputDir   string `arg:"--input-dir" help:"directory watched for evdev event nodes"`
	LogLevel   string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{
		ConfigFile: "/etc/idlewatcher/idlewatcher.conf",
		StateFile:  "/var/run/idle.state",
		HooksDir:   "/etc/idlewatcher",
		InputDir:   "/dev/input",
	}
	arg.MustParse(&args)
	return args
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		log.Warn("Unknown log level, defaulting to info")
	}
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf("[%s] %s\n", strings.ToUpper(entry.Level.String()), entry.Message)), nil
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err.Error())
	}
}

func runMain() error {
	log.SetFormatter(new(customFormatter))
	args := procArgs()
	setLogLevel(args.LogLevel)

	log.Info("Running version: ", version)

	cfg := loadWatchConfig(args.ConfigFile)
	log.Infof("Timers: idle=%s extended=%s axis deadzone=%.0f%%",
		cfg.idle, cfg.extended, cfg.axisDzPct*100)

	hooks := newHookRunner(args.HooksDir, cfg.hooksMirror)
	sm := newStateMachine(cfg, args.StateFile, hooks.run)
	sm.start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pulses := make(chan struct{}, 1)
	w := newInputWatcher(args.InputDir, cfg.axisDzPct, pulses)
	if err := w.scan(); err != nil {
		return fmt.Errorf("scan %s: %w", args.InputDir, err)
	}
	go func() {
		if err := w.watch(ctx); err != nil {
			log.Errorf("Input watch stopped: %v", err)
		}
	}()

	timer := time.NewTimer(sm.timerDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopped")
			return nil
		case <-pulses:
			sm.activity()
			resetTimer(timer, sm.timerDelay())
		case <-timer.C:
			resetTimer(timer, sm.reevaluate())
		}
	}
}

// resetTimer re-arms t with delay d. Zero means the state can't change again
// without new input, so the timer stays stopped.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d > 0 {
		t.Reset(d)
	}
}
