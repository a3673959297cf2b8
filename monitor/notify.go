package monitor

import "github.com/gen2brain/beeep"

// Notifier delivers a user-visible message.
type Notifier interface {
	Notify(title, message string) error
}

// DesktopNotifier sends native desktop notifications.
type DesktopNotifier struct{}

// Notify implements Notifier.
func (DesktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(string, string) error { return nil }
