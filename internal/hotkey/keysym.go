package hotkey

import "fmt"

// x11Keysym is an X keysym. The values match golang.design/x/hotkey's Key on
// Linux, which is a keysym as well.
type x11Keysym uint16

// x11Mask is an X modifier state bit.
type x11Mask uint32

const (
	keysymSpace  x11Keysym = 0x0020
	keysym0      x11Keysym = 0x0030
	keysymA      x11Keysym = 0x0061
	keysymTab    x11Keysym = 0xff09
	keysymReturn x11Keysym = 0xff0d
	keysymEscape x11Keysym = 0xff1b
	keysymF1     x11Keysym = 0xffbe
)

const (
	x11ShiftMask x11Mask = 1 << 0
	// CapsLock.
	x11LockMask    x11Mask = 1 << 1
	x11ControlMask x11Mask = 1 << 2
	// Alt on common keymaps.
	x11Mod1Mask x11Mask = 1 << 3
	// NumLock on common keymaps.
	x11Mod2Mask x11Mask = 1 << 4
	// Super on common keymaps.
	x11Mod4Mask x11Mask = 1 << 6
)

// x11Key converts a normalized KeyCombo key name to an X keysym. Letters,
// digits and F1-F12 are contiguous keysym ranges.
func x11Key(name string) (x11Keysym, error) {
	switch name {
	case "space":
		return keysymSpace, nil
	case "tab":
		return keysymTab, nil
	case "enter":
		return keysymReturn, nil
	case "escape":
		return keysymEscape, nil
	}
	if len(name) == 1 {
		switch c := name[0]; {
		case c >= 'a' && c <= 'z':
			return keysymA + x11Keysym(c-'a'), nil
		case c >= '0' && c <= '9':
			return keysym0 + x11Keysym(c-'0'), nil
		}
	}
	if n, ok := functionKey(name); ok && n >= 1 && n <= 12 {
		return keysymF1 + x11Keysym(n-1), nil
	}
	return 0, fmt.Errorf("unsupported key: %s", name)
}

func x11Modifiers(combo KeyCombo) []x11Mask {
	var mods []x11Mask
	if combo.Has(ModCtrl) {
		mods = append(mods, x11ControlMask)
	}
	if combo.Has(ModAlt) {
		mods = append(mods, x11Mod1Mask)
	}
	if combo.Has(ModShift) {
		mods = append(mods, x11ShiftMask)
	}
	if combo.Has(ModMeta) {
		mods = append(mods, x11Mod4Mask)
	}
	return mods
}

// withLockVariants repeats mods with the NumLock and CapsLock masks, since
// XGrabKey matches modifier state exactly.
func withLockVariants(mods []x11Mask) [][]x11Mask {
	variant := func(extra ...x11Mask) []x11Mask {
		return append(append([]x11Mask(nil), mods...), extra...)
	}
	return [][]x11Mask{
		variant(),
		variant(x11Mod2Mask),
		variant(x11LockMask),
		variant(x11Mod2Mask, x11LockMask),
	}
}
