/*
batteryplus - Voltage-only battery monitor daemon for handheld Linux systems
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
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
)

var version = "No version provided"

var log = logrus.New()

type argSpec struct {
	SysfsDir      string `arg:"--sysfs-dir" help:"directory searched for a battery-like power supply"`
	MapFile       string `arg:"--map-file" help:"path of the persisted voltage calibration map"`
	PercentFile   string `arg:"--percent-file" help:"path the visible percent is exported to for UI polling"`
	HooksDir      string `arg:"--hooks-dir" help:"root holding the charging.d and discharging.d hook directories"`
	Interval      int    `arg:"--interval" help:"seconds between internal percent calculations"`
	WriteInterval int    `arg:"--write-interval" help:"seconds between visible percent writes (halved when low or charging)"`
	ReadingsFile  string `arg:"--readings-file" help:"optional CSV file voltage readings are appended to"`
	MQTTBroker    string `arg:"--mqtt-broker" help:"optional MQTT broker to publish status to, e.g. tcp://host:1883"`
	DBus          bool   `arg:"--dbus" help:"emit a D-Bus signal on every visible percent change"`
	LogLevel      string `arg:"-l, --log-level" default:"info" help:"Set the logging level (debug, info, warn, error)"`
}

func (argSpec) Version() string {
	return version
}

func procArgs() argSpec {
	args := argSpec{
		SysfsDir:      "/sys/class/power_supply",
		MapFile:       "/userdata/system/batteryplus-voltage.map",
		PercentFile:   "/tmp/battery.percent",
		HooksDir:      "/etc/batteryplus",
		Interval:      internalIntervalSeconds,
		WriteInterval: writeIntervalSeconds,
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

// signalFlags are the only cross-goroutine mutable state. The handler
// goroutine only sets fields, all interpretation happens in the tick loop.
type signalFlags struct {
	stop  atomic.Bool
	reset atomic.Bool
}

func watchSignals(flags *signalFlags) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		for sig := range sigs {
			switch sig {
			case syscall.SIGUSR1:
				log.Info("Reset requested")
				flags.reset.Store(true)
			default:
				log.Infof("Caught %v, stopping after current tick", sig)
				flags.stop.Store(true)
			}
		}
	}()
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

	paths, err := findBattery(args.SysfsDir)
	if err != nil {
		return err
	}
	log.Infof("Using battery at %s", filepath.Dir(paths.status))

	store := openCalibration(args.MapFile)
	log.Infof("Calibration: V_FULL=%dmV V_EMPTY=%dmV V_DROOP=%dmV",
		store.vals.VFull, store.vals.VEmpty, store.vals.VDroop)

	hooks := loadHookCache(args.HooksDir)

	flags := &signalFlags{}
	watchSignals(flags)

	m := &monitor{
		paths:            paths,
		store:            store,
		filter:           newVoltageFilter(),
		fullTimeoutTicks: chargeFullFallbackTicks(args.Interval),
		dbusEnabled:      args.DBus,
	}
	m.exp = &exposure{
		percentFile:   args.PercentFile,
		writeInterval: time.Duration(args.WriteInterval) * time.Second,
		hooks:         hooks,
		visible:       -1,
		lastBucket:    -1,
		now:           time.Now,
		onChange:      m.reportChange,
	}

	if args.ReadingsFile != "" {
		m.readings = &readingsLog{path: args.ReadingsFile}
		if err := keepLastLines(args.ReadingsFile, readingsMaxLines); err != nil {
			log.Warnf("Could not truncate readings file: %v", err)
		}
	}

	if args.MQTTBroker != "" {
		pub, err := newMQTTPublisher(args.MQTTBroker)
		if err != nil {
			log.Errorf("MQTT disabled, could not connect: %v", err)
		} else {
			m.telemetry = pub
			defer pub.Close()
		}
	}

	m.run(flags, time.Duration(tickSeconds(args.Interval))*time.Second)
	log.Info("Stopped")
	return nil
}
