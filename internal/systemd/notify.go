// Package systemd integrates the daemon with the service manager's
// readiness protocol. All calls are no-ops outside a Type=notify unit.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells the service manager startup has finished.
func NotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells the service manager shutdown has begun.
func NotifyStopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}
