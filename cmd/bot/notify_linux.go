//go:build linux

package main

import "github.com/coreos/go-systemd/v22/daemon"

// notifyReady tells systemd (Type=notify units) that startup is complete.
// No-op outside a systemd session.
func notifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

func notifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
