package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"bskyarchive/pkg/archive"
)

// Notifier sends desktop notifications when an archive run ends
type Notifier struct {
	goos string
	run  func(name string, args ...string) error
}

// NewNotifier creates a Notifier for the current platform
func NewNotifier() *Notifier {
	return &Notifier{
		goos: runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows title and message. Platforms without a known notifier are a no-op.
func (n *Notifier) Send(title, message string) error {
	name, args, ok := notifyCommand(n.goos, title, message)
	if !ok {
		return nil
	}
	if err := n.run(name, args...); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// NotifySummary reports the outcome of a run
func (n *Notifier) NotifySummary(s *archive.Summary, runErr error) error {
	switch {
	case runErr != nil:
		return n.Send("bskyarchive: download failed", runErr.Error())
	case s == nil:
		return nil
	case s.Failed():
		return n.Send("bskyarchive: download incomplete", fmt.Sprintf("@%s was partially archived, run again to resume", s.Handle))
	default:
		total := 0
		for _, r := range s.Kinds {
			total += r.Records
		}
		return n.Send("bskyarchive: download complete", fmt.Sprintf("@%s archived, %d new records", s.Handle, total))
	}
}

func notifyCommand(goos, title, message string) (string, []string, bool) {
	switch goos {
	case "linux", "freebsd", "openbsd":
		return "notify-send", []string{"--app-name=bskyarchive", title, message}, true
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(message), appleScriptString(title))
		return "osascript", []string{"-e", script}, true
	case "windows":
		script := fmt.Sprintf(`[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
$template = [Windows.UI.Notifications.ToastNotificationManager]::GetTemplateContent([Windows.UI.Notifications.ToastTemplateType]::ToastText02)
$text = $template.GetElementsByTagName("text")
$text.Item(0).AppendChild($template.CreateTextNode(%s)) | Out-Null
$text.Item(1).AppendChild($template.CreateTextNode(%s)) | Out-Null
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("bskyarchive").Show([Windows.UI.Notifications.ToastNotification]::new($template))`,
			powerShellString(title), powerShellString(message))
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}, true
	default:
		return "", nil, false
	}
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func powerShellString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
