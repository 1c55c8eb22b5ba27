package hotkey

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"
)

type notification struct{ title, message string }

func newTestManager(t *testing.T, bus *fakeBus, env Environment, configure func(*Options)) (*Manager, *[]notification) {
	t.Helper()
	var notes []notification
	opts := Options{
		Environment:        env,
		StartKey:           "Ctrl+Alt+R",
		StopKey:            "Ctrl+Alt+S",
		EnablePortal:       true,
		EnableKGlobalAccel: true,
		Notify: func(title, message string) {
			notes = append(notes, notification{title, message})
		},
	}
	if configure != nil {
		configure(&opts)
	}
	m := NewManager(bus, NewDispatcher(DefaultDedupeWindow), opts)
	t.Cleanup(func() { _ = m.Teardown() })
	return m, &notes
}

func failPortal(bus *fakeBus) {
	bus.reply(portalShortcutsIface+".CreateSession", func([]interface{}) ([]interface{}, error) {
		return nil, errors.New("org.freedesktop.DBus.Error.UnknownMethod")
	})
}

func TestSelectBackends(t *testing.T) {
	tests := map[string]struct {
		env          Environment
		kglobalaccel bool
		portal       bool
		want         []BackendKind
	}{
		"kde":           {EnvKDE, true, true, []BackendKind{BackendLegacyAccelerator, BackendPortal}},
		"kde no portal": {EnvKDE, true, false, []BackendKind{BackendLegacyAccelerator}},
		"xfce":          {EnvXFCE, true, true, []BackendKind{BackendPortal}},
		"unknown":       {EnvUnknown, true, true, []BackendKind{BackendPortal}},
		"all disabled":  {EnvKDE, false, false, []BackendKind{BackendNone}},
	}
	for name, tc := range tests {
		got := SelectBackends(tc.env, tc.kglobalaccel, tc.portal)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("%s: SelectBackends mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestManagerSetupIdempotent(t *testing.T) {
	bus := kdeBus()
	failPortal(bus)
	m, _ := newTestManager(t, bus, EnvKDE, nil)
	ctx := context.Background()

	if err := m.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	routes, matches := m.router.Len(), bus.matchCount()
	if err := m.Setup(ctx); err != nil {
		t.Fatalf("second Setup: %v", err)
	}

	if n := bus.requestCount("org.kde.telly_spelly"); n != 1 {
		t.Errorf("RequestName calls = %d, want 1", n)
	}
	if n := bus.signalCount(); n != 1 {
		t.Errorf("signal channels = %d, want 1", n)
	}
	if m.router.Len() != routes || bus.matchCount() != matches {
		t.Errorf("second Setup added subscriptions: routes %d->%d, matches %d->%d",
			routes, m.router.Len(), matches, bus.matchCount())
	}
	if n := len(bus.callsTo(method("doRegister"))); n != 2 {
		t.Errorf("doRegister calls = %d, want 2 (toggle and stop)", n)
	}
}

func TestManagerKDELegacyActive(t *testing.T) {
	bus := kdeBus()
	failPortal(bus)
	var changes [][]BackendKind
	m, notes := newTestManager(t, bus, EnvKDE, func(o *Options) {
		o.OnBackendsChanged = func(active []BackendKind) { changes = append(changes, active) }
	})

	if err := m.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if diff := cmp.Diff([]BackendKind{BackendLegacyAccelerator}, m.ActiveBackends()); diff != "" {
		t.Errorf("active backends mismatch (-want +got):\n%s", diff)
	}
	wantChanges := [][]BackendKind{{BackendLegacyAccelerator}, {BackendLegacyAccelerator}}
	if diff := cmp.Diff(wantChanges, changes); diff != "" {
		t.Errorf("backend change notifications mismatch (-want +got):\n%s", diff)
	}
	res := m.Results()
	if r := res[BackendPortal]; r.Succeeded || !errors.Is(r.Err, ErrBackendUnsupported) {
		t.Errorf("portal result = %+v, want unsupported", r)
	}
	if len(*notes) != 0 {
		t.Errorf("manual instructions shown although a backend is active: %+v", *notes)
	}

	// The legacy key arrives through the signal router as Toggle.
	m.router.Dispatch(pressed("/component/telly_spelly", "toggle_recording"))
	events := drain(m.dispatcher)
	if len(events) != 1 || events[0].Action != ActionToggle || events[0].Source != SourceKGlobalAccel {
		t.Errorf("events = %+v, want one kglobalaccel toggle", events)
	}
}

func TestManagerManualFallback(t *testing.T) {
	for _, env := range []Environment{EnvXFCE, EnvUnknown} {
		t.Run(string(env), func(t *testing.T) {
			bus := newFakeBus(":1.8")
			failPortal(bus)
			m, notes := newTestManager(t, bus, env, nil)

			if err := m.Setup(context.Background()); err != nil {
				t.Fatalf("Setup: %v", err)
			}
			if len(*notes) != 1 {
				t.Fatalf("notifications = %d, want 1", len(*notes))
			}
			msg := (*notes)[0].message
			for _, want := range []string{"org.freedesktop.telly_spelly", "ToggleRecording", CLITriggerCommand, "Ctrl+Alt+R"} {
				if !strings.Contains(msg, want) {
					t.Errorf("instructions %q missing %q", msg, want)
				}
			}
			if len(m.ActiveBackends()) != 0 {
				t.Errorf("active backends = %v, want none", m.ActiveBackends())
			}
			// The command service stays reachable.
			if bus.export("/TellySpelly", "org.freedesktop.telly_spelly") == nil {
				t.Errorf("command service not exported")
			}
		})
	}
}

func TestManagerPortalSuccessNoFallback(t *testing.T) {
	bus := newFakeBus(":1.42")
	bus.reply(portalShortcutsIface+".CreateSession", func(args []interface{}) ([]interface{}, error) {
		tok := args[0].(map[string]dbus.Variant)["handle_token"].Value().(string)
		return []interface{}{requestPath(":1.42", tok)}, nil
	})
	bus.reply(portalShortcutsIface+".BindShortcuts", func(args []interface{}) ([]interface{}, error) {
		tok := args[3].(map[string]dbus.Variant)["handle_token"].Value().(string)
		return []interface{}{requestPath(":1.42", tok)}, nil
	})
	m, notes := newTestManager(t, bus, EnvXFCE, nil)
	if err := m.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	// Drive the negotiation by hand.
	create := bus.callsTo(portalShortcutsIface + ".CreateSession")
	tok := create[0].args[0].(map[string]dbus.Variant)["handle_token"].Value().(string)
	m.router.Dispatch(response(requestPath(":1.42", tok), 0, sessionResults()))

	bind := bus.callsTo(portalShortcutsIface + ".BindShortcuts")
	if len(bind) != 1 {
		t.Fatalf("BindShortcuts calls = %d, want 1", len(bind))
	}
	var ids []string
	for _, s := range bind[0].args[1].([]portalShortcut) {
		ids = append(ids, s.ID)
	}
	if diff := cmp.Diff([]string{"toggle_recording", "stop_recording", "start_recording"}, ids); diff != "" {
		t.Errorf("declared shortcuts mismatch (-want +got):\n%s", diff)
	}
	btok := bind[0].args[3].(map[string]dbus.Variant)["handle_token"].Value().(string)
	m.router.Dispatch(response(requestPath(":1.42", btok), 0, nil))

	if diff := cmp.Diff([]BackendKind{BackendPortal}, m.ActiveBackends()); diff != "" {
		t.Errorf("active backends mismatch (-want +got):\n%s", diff)
	}
	if len(*notes) != 0 {
		t.Errorf("manual instructions shown although the portal bound: %+v", *notes)
	}

	m.router.Dispatch(activated(testSession, "toggle_recording"))
	events := drain(m.dispatcher)
	if len(events) != 1 || events[0].Source != SourcePortal {
		t.Errorf("events = %+v, want one portal toggle", events)
	}
}

func TestManagerBusUnavailable(t *testing.T) {
	bus := kdeBus()
	bus.requestErr = errors.New("name taken")
	m, _ := newTestManager(t, bus, EnvKDE, nil)

	err := m.Setup(context.Background())
	if !errors.Is(err, ErrBusUnavailable) {
		t.Fatalf("Setup err = %v, want ErrBusUnavailable", err)
	}
	if n := len(bus.callsTo(method("doRegister"))); n != 0 {
		t.Errorf("backends attempted without a command service: %d doRegister calls", n)
	}
}

type stubBackend struct {
	kind     BackendKind
	ok       bool
	torndown int
}

func (s *stubBackend) Kind() BackendKind { return s.kind }

func (s *stubBackend) Register(_ context.Context, a Action, _ string) RegistrationResult {
	if !s.ok {
		return failed(s.kind, ErrBackendNotAvailable, "stub")
	}
	return RegistrationResult{Succeeded: true, Backend: s.kind, Detail: a.ShortcutID()}
}

func (s *stubBackend) Listen(context.Context, func(Action)) error { return nil }

func (s *stubBackend) Teardown() error {
	s.torndown++
	return nil
}

func TestManagerX11Fallback(t *testing.T) {
	tests := map[string]struct {
		env      Environment
		fallback bool
		x11OK    bool
		wantX11  bool
		wantNote bool
	}{
		"xfce grabs":        {env: EnvXFCE, fallback: true, x11OK: true, wantX11: true},
		"xfce grab fails":   {env: EnvXFCE, fallback: true, x11OK: false, wantNote: true},
		"fallback disabled": {env: EnvUnknown, fallback: false, x11OK: true, wantNote: true},
		"never on kde":      {env: EnvKDE, fallback: true, x11OK: true, wantNote: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			bus := newFakeBus(":1.8")
			failPortal(bus)
			m, notes := newTestManager(t, bus, tc.env, func(o *Options) {
				o.X11Fallback = tc.fallback
				o.EnableKGlobalAccel = false
			})
			x11 := &stubBackend{kind: BackendX11Grab, ok: tc.x11OK}
			base := m.newBackend
			m.newBackend = func(k BackendKind) Backend {
				if k == BackendX11Grab {
					return x11
				}
				return base(k)
			}

			if err := m.Setup(context.Background()); err != nil {
				t.Fatalf("Setup: %v", err)
			}
			active := m.ActiveBackends()
			gotX11 := len(active) == 1 && active[0] == BackendX11Grab
			if gotX11 != tc.wantX11 {
				t.Errorf("active backends = %v, want x11 = %v", active, tc.wantX11)
			}
			if got := len(*notes) == 1; got != tc.wantNote {
				t.Errorf("notifications = %+v, want note = %v", *notes, tc.wantNote)
			}

			if err := m.Teardown(); err != nil {
				t.Fatalf("Teardown: %v", err)
			}
			if tc.wantX11 && x11.torndown != 1 {
				t.Errorf("x11 backend torn down %d times, want 1", x11.torndown)
			}
		})
	}
}

func TestManagerTeardown(t *testing.T) {
	bus := kdeBus()
	failPortal(bus)
	m, _ := newTestManager(t, bus, EnvKDE, nil)
	ctx := context.Background()

	if err := m.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := m.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if bus.signalCount() != 0 || bus.matchCount() != 0 || m.router.Len() != 0 {
		t.Errorf("subscriptions left: signals %d, matches %d, routes %d",
			bus.signalCount(), bus.matchCount(), m.router.Len())
	}
	if bus.released["org.kde.telly_spelly"] != 1 {
		t.Errorf("bus name not released")
	}

	// Setup may run again after Teardown.
	if err := m.Setup(ctx); err != nil {
		t.Fatalf("Setup after Teardown: %v", err)
	}
	if n := bus.requestCount("org.kde.telly_spelly"); n != 2 {
		t.Errorf("RequestName calls = %d, want 2", n)
	}
}

func TestManagerIdentity(t *testing.T) {
	tests := map[string]struct {
		env  Environment
		id   Identity
		want string
	}{
		"resolved kde":  {env: EnvKDE, want: "org.kde.telly_spelly"},
		"resolved xfce": {env: EnvXFCE, want: "org.freedesktop.telly_spelly"},
		"injected":      {env: EnvKDE, id: Identity{BusName: "org.example.Test", ObjectPath: "/Test", Interface: "org.example.Test"}, want: "org.example.Test"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, _ := newTestManager(t, newFakeBus(":1.9"), tc.env, func(o *Options) { o.Identity = tc.id })
			if got := m.Identity().BusName; got != tc.want {
				t.Errorf("Identity().BusName = %q, want %q", got, tc.want)
			}
			if got := m.ManualCommand(); !strings.Contains(got, "--dest="+tc.want) {
				t.Errorf("ManualCommand() = %q, want --dest=%s", got, tc.want)
			}
		})
	}
}
