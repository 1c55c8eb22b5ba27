package hotkey

import (
	"fmt"
	"strings"
)

// Modifier is a keyboard modifier in a key combination.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModMeta
)

// modifierOrder is the canonical order used when formatting combinations.
var modifierOrder = []Modifier{ModCtrl, ModAlt, ModShift, ModMeta}

// Qt key-code flags understood by the global accelerator service.
const (
	qtShiftModifier = 0x02000000
	qtCtrlModifier  = 0x04000000
	qtAltModifier   = 0x08000000
	qtMetaModifier  = 0x10000000

	qtKeyEscape = 0x01000000
	qtKeyTab    = 0x01000001
	qtKeyReturn = 0x01000004
	qtKeyF1     = 0x01000030
	qtKeySpace  = 0x20
)

// KeyCombo is a parsed key combination such as "Ctrl+Alt+R".
type KeyCombo struct {
	Mods Modifier
	// Key is the normalized key name: "a".."z", "0".."9", "f1".."f12",
	// "space", "tab", "enter" or "escape".
	Key string
}

// ParseKeyCombo parses a "+"-separated combination. Modifier and key names
// are case-insensitive; the last element is the key.
func ParseKeyCombo(s string) (KeyCombo, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KeyCombo{}, fmt.Errorf("empty key combination")
	}
	parts := strings.Split(strings.ToLower(s), "+")
	keyName := strings.TrimSpace(parts[len(parts)-1])
	key, ok := normalizeKey(keyName)
	if !ok {
		return KeyCombo{}, fmt.Errorf("unsupported key %q in %q", keyName, s)
	}

	var combo KeyCombo
	combo.Key = key
	for _, part := range parts[:len(parts)-1] {
		switch strings.TrimSpace(part) {
		case "ctrl", "control":
			combo.Mods |= ModCtrl
		case "alt":
			combo.Mods |= ModAlt
		case "shift":
			combo.Mods |= ModShift
		case "meta", "super", "win", "logo", "cmd":
			combo.Mods |= ModMeta
		default:
			return KeyCombo{}, fmt.Errorf("unsupported modifier %q in %q", part, s)
		}
	}
	return combo, nil
}

func normalizeKey(k string) (string, bool) {
	switch k {
	case "space", "tab", "escape":
		return k, true
	case "esc":
		return "escape", true
	case "enter", "return":
		return "enter", true
	}
	if len(k) == 1 && (k[0] >= 'a' && k[0] <= 'z' || k[0] >= '0' && k[0] <= '9') {
		return k, true
	}
	if n, ok := functionKey(k); ok && n >= 1 && n <= 12 {
		return k, true
	}
	return "", false
}

func functionKey(k string) (int, bool) {
	if len(k) < 2 || k[0] != 'f' {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(k[1:], "%d", &n); err != nil {
		return 0, false
	}
	if fmt.Sprintf("f%d", n) != k {
		return 0, false
	}
	return n, true
}

// Has reports whether the combination includes the modifier.
func (k KeyCombo) Has(m Modifier) bool {
	return k.Mods&m != 0
}

// String formats the combination the way desktop settings display it.
func (k KeyCombo) String() string {
	var parts []string
	for _, m := range modifierOrder {
		if !k.Has(m) {
			continue
		}
		switch m {
		case ModCtrl:
			parts = append(parts, "Ctrl")
		case ModAlt:
			parts = append(parts, "Alt")
		case ModShift:
			parts = append(parts, "Shift")
		case ModMeta:
			parts = append(parts, "Meta")
		}
	}
	key := k.Key
	switch {
	case len(key) == 1:
		key = strings.ToUpper(key)
	case strings.HasPrefix(key, "f"):
		key = strings.ToUpper(key)
	default:
		key = strings.ToUpper(key[:1]) + key[1:]
	}
	return strings.Join(append(parts, key), "+")
}

// QtKeyCode encodes the combination as modifier flags OR'd with the key
// code, as expected by the global accelerator service.
func (k KeyCombo) QtKeyCode() int32 {
	var code int32
	if k.Has(ModShift) {
		code |= qtShiftModifier
	}
	if k.Has(ModCtrl) {
		code |= qtCtrlModifier
	}
	if k.Has(ModAlt) {
		code |= qtAltModifier
	}
	if k.Has(ModMeta) {
		code |= qtMetaModifier
	}

	switch k.Key {
	case "space":
		code |= qtKeySpace
	case "tab":
		code |= qtKeyTab
	case "enter":
		code |= qtKeyReturn
	case "escape":
		code |= qtKeyEscape
	default:
		if n, ok := functionKey(k.Key); ok {
			code |= int32(qtKeyF1 + n - 1)
		} else {
			code |= int32(strings.ToUpper(k.Key)[0])
		}
	}
	return code
}

// PortalTrigger formats the combination for the portal's preferred_trigger
// field (XDG shortcuts notation, e.g. "CTRL+ALT+r").
func (k KeyCombo) PortalTrigger() string {
	var parts []string
	for _, m := range modifierOrder {
		if !k.Has(m) {
			continue
		}
		switch m {
		case ModCtrl:
			parts = append(parts, "CTRL")
		case ModAlt:
			parts = append(parts, "ALT")
		case ModShift:
			parts = append(parts, "SHIFT")
		case ModMeta:
			parts = append(parts, "LOGO")
		}
	}
	var key string
	switch k.Key {
	case "enter":
		key = "Return"
	case "escape":
		key = "Escape"
	case "tab":
		key = "Tab"
	case "space":
		key = "space"
	default:
		if _, ok := functionKey(k.Key); ok {
			key = strings.ToUpper(k.Key)
		} else {
			key = k.Key
		}
	}
	return strings.Join(append(parts, key), "+")
}
