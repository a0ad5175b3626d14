// Package systemd reports service state to the systemd manager through the
// sd_notify protocol. Outside a Type=notify unit every call is a no-op.
package systemd

import (
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify state lines. The zero value is disabled.
type Notifier struct {
	enabled bool
	send    func(state string) (bool, error)
}

func New(enabled bool) *Notifier {
	return &Notifier{enabled: enabled, send: func(state string) (bool, error) {
		return daemon.SdNotify(false, state)
	}}
}

// NewWith uses send instead of the notify socket.
func NewWith(send func(state string) (bool, error)) *Notifier {
	return &Notifier{enabled: true, send: send}
}

func (n *Notifier) Enabled() bool { return n != nil && n.enabled }

// Notify sends raw state. It reports false when no notify socket is set.
func (n *Notifier) Notify(state ...string) (bool, error) {
	if !n.Enabled() || len(state) == 0 {
		return false, nil
	}
	return n.send(strings.Join(state, "\n"))
}

func (n *Notifier) Ready(status string) (bool, error) {
	return n.Notify(daemon.SdNotifyReady, statusLine(status))
}

func (n *Notifier) Status(status string) (bool, error) {
	return n.Notify(statusLine(status))
}

func (n *Notifier) Stopping(status string) (bool, error) {
	return n.Notify(daemon.SdNotifyStopping, statusLine(status))
}

// statusLine keeps STATUS= on one line.
func statusLine(s string) string {
	return "STATUS=" + strings.Join(strings.Fields(s), " ")
}
