package hotkey

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"
)

const ctrlAltR int32 = 0x0C000052

func method(member string) string { return kglobalaccelInterface + "." + member }

// kdeBus scripts a global accelerator service that accepts everything and
// reports back whatever was last set.
func kdeBus() *fakeBus {
	bus := newFakeBus(":1.5")
	current := map[string][]int32{}
	store := func(args []interface{}) ([]interface{}, error) {
		id := args[0].([]string)
		current[id[2]] = args[1].([]int32)
		return []interface{}{args[1].([]int32)}, nil
	}
	bus.reply(method("doRegister"), func([]interface{}) ([]interface{}, error) { return nil, nil })
	bus.reply(method("setShortcut"), store)
	bus.reply(method("setForeignShortcut"), store)
	bus.reply(method("shortcut"), func(args []interface{}) ([]interface{}, error) {
		id := args[0].([]string)
		return []interface{}{current[id[2]]}, nil
	})
	bus.reply(method("getComponent"), func(args []interface{}) ([]interface{}, error) {
		return []interface{}{dbus.ObjectPath("/component/" + args[0].(string))}, nil
	})
	return bus
}

func TestKGlobalAccelRegister(t *testing.T) {
	bus := kdeBus()
	b := NewKGlobalAccelBackend(bus, newSignalRouter(), KGlobalAccelOptions{})

	res := b.Register(context.Background(), ActionToggle, "Ctrl+Alt+R")
	if !res.Succeeded || res.Err != nil {
		t.Fatalf("Register = %+v, want clean success", res)
	}
	if res.Backend != BackendLegacyAccelerator {
		t.Errorf("backend = %s, want kglobalaccel", res.Backend)
	}

	reg := bus.callsTo(method("doRegister"))
	if len(reg) != 1 {
		t.Fatalf("doRegister calls = %d, want 1", len(reg))
	}
	wantID := []string{"telly_spelly", "", "toggle_recording", "Toggle Recording"}
	if diff := cmp.Diff(wantID, reg[0].args[0]); diff != "" {
		t.Errorf("action id mismatch (-want +got):\n%s", diff)
	}

	set := bus.callsTo(method("setShortcut"))
	if len(set) != 1 {
		t.Fatalf("setShortcut calls = %d, want 1", len(set))
	}
	if diff := cmp.Diff([]int32{ctrlAltR}, set[0].args[1]); diff != "" {
		t.Errorf("key codes mismatch (-want +got):\n%s", diff)
	}
	if got := set[0].args[2]; got != uint32(0x02) {
		t.Errorf("setShortcut flags = %v, want 0x02", got)
	}
	if n := len(bus.callsTo(method("setForeignShortcut"))); n != 0 {
		t.Errorf("setForeignShortcut calls = %d, want 0", n)
	}
}

func TestKGlobalAccelForceSetOnce(t *testing.T) {
	tests := map[string]replyFunc{
		"set raises": func([]interface{}) ([]interface{}, error) {
			return nil, errors.New("org.kde.kglobalaccel.NoSuchAction")
		},
		"set returns no keys": func([]interface{}) ([]interface{}, error) {
			return []interface{}{[]int32{}}, nil
		},
	}

	for name, setShortcut := range tests {
		t.Run(name, func(t *testing.T) {
			bus := kdeBus()
			bus.reply(method("setShortcut"), setShortcut)
			b := NewKGlobalAccelBackend(bus, newSignalRouter(), KGlobalAccelOptions{})

			res := b.Register(context.Background(), ActionToggle, "Ctrl+Alt+R")
			if !res.Succeeded {
				t.Fatalf("Register = %+v, want success via force-set", res)
			}
			force := bus.callsTo(method("setForeignShortcut"))
			if len(force) != 1 {
				t.Fatalf("setForeignShortcut calls = %d, want exactly 1", len(force))
			}
			if len(force[0].args) != 2 {
				t.Errorf("setForeignShortcut args = %d, want 2", len(force[0].args))
			}
		})
	}
}

func TestKGlobalAccelForceSetFailure(t *testing.T) {
	bus := kdeBus()
	fail := func([]interface{}) ([]interface{}, error) { return nil, errors.New("denied") }
	bus.reply(method("setShortcut"), fail)
	bus.reply(method("setForeignShortcut"), fail)
	b := NewKGlobalAccelBackend(bus, newSignalRouter(), KGlobalAccelOptions{})

	res := b.Register(context.Background(), ActionStop, "Ctrl+Alt+S")
	if res.Succeeded || !errors.Is(res.Err, ErrBackendUnsupported) {
		t.Errorf("Register = %+v, want BackendUnsupported failure", res)
	}
	if n := len(bus.callsTo(method("setForeignShortcut"))); n != 1 {
		t.Errorf("setForeignShortcut calls = %d, want 1", n)
	}
}

func TestKGlobalAccelVerificationMismatch(t *testing.T) {
	bus := kdeBus()
	bus.reply(method("shortcut"), func([]interface{}) ([]interface{}, error) {
		return []interface{}{[]int32{0x10000041}}, nil // Meta+A, set by the user
	})
	b := NewKGlobalAccelBackend(bus, newSignalRouter(), KGlobalAccelOptions{})

	res := b.Register(context.Background(), ActionToggle, "Ctrl+Alt+R")
	if !res.Succeeded {
		t.Fatalf("Register = %+v, mismatch must not abort", res)
	}
	if !errors.Is(res.Err, ErrVerificationMismatch) {
		t.Errorf("err = %v, want ErrVerificationMismatch", res.Err)
	}
}

func TestKGlobalAccelServiceMissing(t *testing.T) {
	bus := newFakeBus(":1.5")
	bus.reply(method("doRegister"), func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("org.freedesktop.DBus.Error.ServiceUnknown")
	})
	b := NewKGlobalAccelBackend(bus, newSignalRouter(), KGlobalAccelOptions{})

	res := b.Register(context.Background(), ActionToggle, "Ctrl+Alt+R")
	if res.Succeeded || !errors.Is(res.Err, ErrBackendUnsupported) {
		t.Errorf("Register = %+v, want BackendUnsupported failure", res)
	}
	if n := len(bus.callsTo(method("setShortcut"))); n != 0 {
		t.Errorf("setShortcut called %d times without a registered action", n)
	}
}

func pressed(path dbus.ObjectPath, shortcut string) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: kglobalaccelComponentInterface + "." + kglobalaccelPressedMember,
		Body: []interface{}{"telly_spelly", shortcut, int64(42)},
	}
}

func TestKGlobalAccelListen(t *testing.T) {
	bus := kdeBus()
	router := newSignalRouter()
	b := NewKGlobalAccelBackend(bus, router, KGlobalAccelOptions{})
	ctx := context.Background()
	b.Register(ctx, ActionToggle, "Ctrl+Alt+R")
	b.Register(ctx, ActionStop, "Ctrl+Alt+S")

	var got []Action
	if err := b.Listen(ctx, func(a Action) { got = append(got, a) }); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := b.Listen(ctx, func(a Action) { got = append(got, a) }); err != nil {
		t.Fatalf("second Listen: %v", err)
	}
	if router.Len() != 1 || bus.matchCount() != 1 {
		t.Fatalf("routes = %d, matches = %d, want one subscription", router.Len(), bus.matchCount())
	}

	path := dbus.ObjectPath("/component/telly_spelly")
	router.Dispatch(pressed(path, "toggle_recording"))
	router.Dispatch(pressed(path, "stop_recording"))
	router.Dispatch(pressed(path, "start_recording")) // never registered
	router.Dispatch(pressed("/component/other", "toggle_recording"))

	if diff := cmp.Diff([]Action{ActionToggle, ActionStop}, got); diff != "" {
		t.Errorf("activated mismatch (-want +got):\n%s", diff)
	}

	if err := b.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if router.Len() != 0 || bus.matchCount() != 0 {
		t.Errorf("subscription left after Teardown")
	}
}

func TestKGlobalAccelListenAlternateComponent(t *testing.T) {
	bus := kdeBus()
	bus.reply(method("getComponent"), func(args []interface{}) ([]interface{}, error) {
		if args[0] == "telly_spelly" {
			return nil, errors.New("org.kde.kglobalaccel.NoSuchComponent")
		}
		return []interface{}{dbus.ObjectPath("/component/" + args[0].(string))}, nil
	})
	router := newSignalRouter()
	b := NewKGlobalAccelBackend(bus, router, KGlobalAccelOptions{})
	b.Register(context.Background(), ActionToggle, "Ctrl+Alt+R")

	var got []Action
	if err := b.Listen(context.Background(), func(a Action) { got = append(got, a) }); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	lookups := bus.callsTo(method("getComponent"))
	if len(lookups) != 2 || lookups[1].args[0] != "telly_spelly_desktop" {
		t.Fatalf("getComponent calls = %+v, want primary then alternate", lookups)
	}
	router.Dispatch(pressed("/component/telly_spelly_desktop", "toggle_recording"))
	if diff := cmp.Diff([]Action{ActionToggle}, got); diff != "" {
		t.Errorf("activated mismatch (-want +got):\n%s", diff)
	}
}

func TestKGlobalAccelListenNoComponent(t *testing.T) {
	bus := kdeBus()
	bus.reply(method("getComponent"), func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("org.kde.kglobalaccel.NoSuchComponent")
	})
	b := NewKGlobalAccelBackend(bus, newSignalRouter(), KGlobalAccelOptions{})

	err := b.Listen(context.Background(), func(Action) {})
	if !errors.Is(err, ErrBackendUnsupported) {
		t.Errorf("Listen err = %v, want ErrBackendUnsupported", err)
	}
	if n := len(bus.callsTo(method("getComponent"))); n != 2 {
		t.Errorf("getComponent calls = %d, want 2 (one retry)", n)
	}
}
