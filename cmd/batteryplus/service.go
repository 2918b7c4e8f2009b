package main

import (
	"github.com/godbus/dbus"
)

const (
	dbusPath       = "/org/batteryplus"
	dbusSignalName = "org.batteryplus.Battery"
)

// sendBatterySignal emits the battery state on the system bus so other
// services can react to percent changes without polling the percent file.
func sendBatterySignal(voltageMV, percent int) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}

	return conn.Emit(dbus.ObjectPath(dbusPath), dbusSignalName, int32(voltageMV), int32(percent))
}
