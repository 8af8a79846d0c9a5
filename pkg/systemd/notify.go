// Package systemd reports service state to the systemd manager. Every call
// is a no-op when the process was not started with NOTIFY_SOCKET.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports startup completion. The bool is false when no notify socket is set.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping reports the beginning of shutdown.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) { return daemon.SdNotify(false, "STATUS="+msg) }
