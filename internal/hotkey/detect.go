package hotkey

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Environment classifies the running desktop session.
type Environment string

const (
	EnvKDE     Environment = "kde"
	EnvXFCE    Environment = "xfce"
	EnvUnknown Environment = "unknown"
)

// ParseEnvironment converts a configured desktop label. "auto" and the empty
// string report ok=false so the caller falls back to detection.
func ParseEnvironment(label string) (env Environment, ok bool, err error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "auto":
		return "", false, nil
	case "kde", "plasma":
		return EnvKDE, true, nil
	case "xfce", "xfce4":
		return EnvXFCE, true, nil
	case "unknown", "other":
		return EnvUnknown, true, nil
	default:
		return "", false, fmt.Errorf("unknown desktop %q (valid: auto, kde, xfce, unknown)", label)
	}
}

// Detector inspects environment variables and the executable search path.
// Zero-valued fields fall back to os.Getenv and exec.LookPath.
type Detector struct {
	Getenv   func(string) string
	LookPath func(string) (string, error)
}

// Detect classifies the current session using the process environment.
func Detect() Environment {
	return Detector{}.Detect()
}

// Detect applies the detection rules in order; the first match wins.
func (d Detector) Detect() Environment {
	getenv := d.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	lookPath := d.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	current := strings.ToLower(getenv("XDG_CURRENT_DESKTOP"))
	switch {
	case strings.Contains(current, "kde"), strings.Contains(current, "plasma"):
		return EnvKDE
	case strings.Contains(current, "xfce"):
		return EnvXFCE
	}

	if getenv("KDE_FULL_SESSION") != "" {
		return EnvKDE
	}
	if getenv("XFCE_SESSION") != "" {
		return EnvXFCE
	}

	for _, tool := range []string{"kwriteconfig6", "kwriteconfig5"} {
		if _, err := lookPath(tool); err == nil {
			slog.Debug("desktop detected by tool probe", "tool", tool, "desktop", EnvKDE)
			return EnvKDE
		}
	}
	if _, err := lookPath("xfconf-query"); err == nil {
		slog.Debug("desktop detected by tool probe", "tool", "xfconf-query", "desktop", EnvXFCE)
		return EnvXFCE
	}

	return EnvUnknown
}

// DisplayServer represents the type of display server in use
type DisplayServer int

const (
	DisplayServerUnknown DisplayServer = iota
	DisplayServerX11
	DisplayServerWayland
)

func (ds DisplayServer) String() string {
	switch ds {
	case DisplayServerX11:
		return "X11"
	case DisplayServerWayland:
		return "Wayland"
	default:
		return "Unknown"
	}
}

// DetectDisplayServer determines which display server is currently in use.
// Wayland is checked first because XWayland sessions also export DISPLAY.
func (d Detector) DetectDisplayServer() DisplayServer {
	getenv := d.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if getenv("WAYLAND_DISPLAY") != "" || strings.EqualFold(getenv("XDG_SESSION_TYPE"), "wayland") {
		return DisplayServerWayland
	}
	if getenv("DISPLAY") != "" {
		return DisplayServerX11
	}
	return DisplayServerUnknown
}
