package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

const (
	portalService         = "org.freedesktop.portal.Desktop"
	portalPath            = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	portalShortcutsIface  = "org.freedesktop.portal.GlobalShortcuts"
	portalRequestIface    = "org.freedesktop.portal.Request"
	portalSessionIface    = "org.freedesktop.portal.Session"
	portalResponseMember  = "Response"
	portalActivatedMember = "Activated"

	tokenPrefix = "telly_spelly_"
)

// NegotiationState is the position of a portal negotiation.
type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateSessionRequested
	StateSessionActive
	StateShortcutsBound
	StateListening
	StateFailed
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSessionRequested:
		return "session_requested"
	case StateSessionActive:
		return "session_active"
	case StateShortcutsBound:
		return "shortcuts_bound"
	case StateListening:
		return "listening"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("NegotiationState(%d)", int(s))
	}
}

// ShortcutSpec is one shortcut declared to the portal. PreferredTrigger is
// in portal notation and may be empty.
type ShortcutSpec struct {
	Action           Action
	Description      string
	PreferredTrigger string
}

// portalShortcut marshals as the (sa{sv}) struct BindShortcuts expects.
type portalShortcut struct {
	ID      string
	Details map[string]dbus.Variant
}

type requestKind int

const (
	requestCreateSession requestKind = iota
	requestBindShortcuts
)

func (k requestKind) String() string {
	if k == requestCreateSession {
		return "CreateSession"
	}
	return "BindShortcuts"
}

type pendingRequest struct {
	token string
	kind  requestKind
}

// Negotiation drives CreateSession, BindShortcuts and Activated against the
// GlobalShortcuts portal. Calls are issued and their results arrive later as
// Response signals; outstanding requests are tracked in a table keyed by
// request object path. There are no timeouts: a request whose Response never
// arrives stays pending.
type Negotiation struct {
	bus         Bus
	router      *signalRouter
	log         *slog.Logger
	newToken    func() string
	onActivated func(Action)
	onDone      func(RegistrationResult)

	mu       sync.Mutex
	ctx      context.Context
	state    NegotiationState
	specs    []ShortcutSpec
	pending  map[dbus.ObjectPath]pendingRequest
	session  dbus.ObjectPath
	bound    map[Action]string
	routes   []int
	activeOn bool

	// activatedMatch is set once the Activated match rule is installed.
	activatedMatch bool
}

// NewNegotiation creates an idle negotiation. onActivated receives mapped
// actions; onDone is called once when the negotiation reaches Listening or
// Failed.
func NewNegotiation(bus Bus, router *signalRouter, onActivated func(Action), onDone func(RegistrationResult)) *Negotiation {
	return &Negotiation{
		bus:         bus,
		router:      router,
		log:         slog.With("component", "hotkey.portal"),
		newToken:    newToken,
		onActivated: onActivated,
		onDone:      onDone,
		pending:     make(map[dbus.ObjectPath]pendingRequest),
		bound:       make(map[Action]string),
	}
}

func newToken() string {
	return tokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// State returns the current state.
func (n *Negotiation) State() NegotiationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SessionHandle returns the portal session, empty until CreateSession
// succeeded.
func (n *Negotiation) SessionHandle() dbus.ObjectPath {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session
}

// BoundActions returns the trigger description the portal reported for
// each bound action.
func (n *Negotiation) BoundActions() map[Action]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[Action]string, len(n.bound))
	for a, t := range n.bound {
		out[a] = t
	}
	return out
}

// PendingTokens lists the tokens of outstanding requests.
func (n *Negotiation) PendingTokens() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	tokens := make([]string, 0, len(n.pending))
	for _, p := range n.pending {
		tokens = append(tokens, p.token)
	}
	return tokens
}

// requestPath is where the portal publishes the Request object for token.
func requestPath(uniqueName, token string) dbus.ObjectPath {
	sender := strings.ReplaceAll(strings.TrimPrefix(uniqueName, ":"), ".", "_")
	return dbus.ObjectPath("/org/freedesktop/portal/desktop/request/" + sender + "/" + token)
}

// Start issues CreateSession. It returns an error only when the negotiation
// is not idle; protocol failures are reported through onDone.
func (n *Negotiation) Start(ctx context.Context, specs []ShortcutSpec) error {
	n.mu.Lock()
	if n.state != StateIdle {
		state := n.state
		n.mu.Unlock()
		return fmt.Errorf("portal negotiation already started (state %s)", state)
	}
	if len(specs) == 0 {
		n.mu.Unlock()
		return fmt.Errorf("no shortcuts to bind")
	}
	sender := n.bus.UniqueName()
	if sender == "" {
		n.mu.Unlock()
		n.fail(fmt.Errorf("%w: connection has no unique name", ErrBusUnavailable), "no bus connection")
		return nil
	}
	n.ctx = ctx
	n.specs = append([]ShortcutSpec(nil), specs...)
	n.state = StateSessionRequested
	reqToken := n.newToken()
	sessionToken := n.newToken()
	expected := requestPath(sender, reqToken)
	n.pending[expected] = pendingRequest{token: reqToken, kind: requestCreateSession}
	n.routes = append(n.routes, n.router.Handle("", portalRequestIface+"."+portalResponseMember, n.handleResponse))
	n.mu.Unlock()

	// Subscribe before the call so a fast Response cannot be missed.
	if err := n.bus.AddMatch(signalMatch(expected, portalRequestIface, portalResponseMember)...); err != nil {
		n.fail(fmt.Errorf("%w: subscribe Response: %v", ErrNegotiationAborted, err), "could not subscribe to portal responses")
		return nil
	}

	options := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(reqToken),
		"session_handle_token": dbus.MakeVariant(sessionToken),
	}
	var returned dbus.ObjectPath
	err := n.bus.Call(ctx, portalService, portalPath, portalShortcutsIface+".CreateSession",
		[]interface{}{options}, &returned)
	if err != nil {
		n.fail(fmt.Errorf("%w: CreateSession: %v", ErrBackendUnsupported, err), "portal GlobalShortcuts unavailable")
		return nil
	}
	n.rekey(expected, returned)
	n.log.Debug("CreateSession issued", "request", string(returned), "token", reqToken)
	return nil
}

// rekey moves a pending entry when the portal answers on a path other than
// the one predicted from the token (older portal versions).
func (n *Negotiation) rekey(expected, returned dbus.ObjectPath) {
	if returned == "" || returned == expected {
		return
	}
	n.mu.Lock()
	p, ok := n.pending[expected]
	if ok {
		delete(n.pending, expected)
		n.pending[returned] = p
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	_ = n.bus.RemoveMatch(signalMatch(expected, portalRequestIface, portalResponseMember)...)
	if err := n.bus.AddMatch(signalMatch(returned, portalRequestIface, portalResponseMember)...); err != nil {
		n.log.Warn("subscribe to returned request path failed", "request", string(returned), "err", err)
	}
}

// handleResponse resolves a pending request. Responses for unknown or
// already resolved paths are ignored.
func (n *Negotiation) handleResponse(sig *dbus.Signal) {
	n.mu.Lock()
	p, ok := n.pending[sig.Path]
	if ok {
		delete(n.pending, sig.Path)
	}
	n.mu.Unlock()
	if !ok {
		n.log.Debug("ignoring stale portal response", "request", string(sig.Path))
		return
	}
	_ = n.bus.RemoveMatch(signalMatch(sig.Path, portalRequestIface, portalResponseMember)...)

	var (
		code    uint32
		results map[string]dbus.Variant
	)
	if err := dbus.Store(sig.Body, &code, &results); err != nil {
		n.fail(fmt.Errorf("%w: malformed %s response: %v", ErrNegotiationAborted, p.kind, err), "malformed portal response")
		return
	}

	switch p.kind {
	case requestCreateSession:
		n.sessionCreated(code, results)
	case requestBindShortcuts:
		n.shortcutsBound(code, results)
	}
}

func (n *Negotiation) sessionCreated(code uint32, results map[string]dbus.Variant) {
	if n.State() != StateSessionRequested {
		return
	}
	if code != 0 {
		n.fail(fmt.Errorf("%w: CreateSession response code %d", ErrBackendUnsupported, code), "portal declined the session")
		return
	}
	handle, err := sessionHandle(results)
	if err != nil {
		n.fail(fmt.Errorf("%w: %v", ErrNegotiationAborted, err), "portal returned no session")
		return
	}

	n.mu.Lock()
	n.session = handle
	n.state = StateSessionActive
	n.mu.Unlock()
	n.log.Info("portal session created", "session", string(handle))
	n.bind()
}

func sessionHandle(results map[string]dbus.Variant) (dbus.ObjectPath, error) {
	raw, ok := results["session_handle"]
	if !ok {
		return "", fmt.Errorf("response missing session_handle")
	}
	var path dbus.ObjectPath
	switch v := raw.Value().(type) {
	case dbus.ObjectPath:
		path = v
	case string:
		path = dbus.ObjectPath(v)
	default:
		return "", fmt.Errorf("session_handle has unexpected type %T", v)
	}
	if !path.IsValid() {
		return "", fmt.Errorf("session_handle %q is not an object path", path)
	}
	return path, nil
}

// bind issues BindShortcuts for the active session.
func (n *Negotiation) bind() {
	n.mu.Lock()
	if n.state != StateSessionActive || n.session == "" {
		n.mu.Unlock()
		return
	}
	ctx := n.ctx
	session := n.session
	token := n.newToken()
	expected := requestPath(n.bus.UniqueName(), token)
	n.pending[expected] = pendingRequest{token: token, kind: requestBindShortcuts}
	n.state = StateShortcutsBound
	if !n.activeOn {
		n.routes = append(n.routes, n.router.Handle(portalPath, portalShortcutsIface+"."+portalActivatedMember, n.handleActivated))
		n.activeOn = true
	}
	shortcuts := make([]portalShortcut, 0, len(n.specs))
	for _, s := range n.specs {
		details := map[string]dbus.Variant{"description": dbus.MakeVariant(s.Description)}
		if s.PreferredTrigger != "" {
			details["preferred_trigger"] = dbus.MakeVariant(s.PreferredTrigger)
		}
		shortcuts = append(shortcuts, portalShortcut{ID: s.Action.ShortcutID(), Details: details})
	}
	n.mu.Unlock()

	if err := n.bus.AddMatch(signalMatch(expected, portalRequestIface, portalResponseMember)...); err != nil {
		n.fail(fmt.Errorf("%w: subscribe Response: %v", ErrNegotiationAborted, err), "could not subscribe to portal responses")
		return
	}
	if err := n.bus.AddMatch(signalMatch(portalPath, portalShortcutsIface, portalActivatedMember)...); err != nil {
		n.fail(fmt.Errorf("%w: subscribe Activated: %v", ErrNegotiationAborted, err), "could not subscribe to shortcut activation")
		return
	}
	n.mu.Lock()
	n.activatedMatch = true
	n.mu.Unlock()

	options := map[string]dbus.Variant{"handle_token": dbus.MakeVariant(token)}
	var returned dbus.ObjectPath
	err := n.bus.Call(ctx, portalService, portalPath, portalShortcutsIface+".BindShortcuts",
		[]interface{}{session, shortcuts, "", options}, &returned)
	if err != nil {
		n.fail(fmt.Errorf("%w: BindShortcuts: %v", ErrNegotiationAborted, err), "BindShortcuts call failed")
		return
	}
	n.rekey(expected, returned)
	n.log.Debug("BindShortcuts issued", "request", string(returned), "shortcuts", len(shortcuts))
}

func (n *Negotiation) shortcutsBound(code uint32, results map[string]dbus.Variant) {
	if n.State() != StateShortcutsBound {
		return
	}
	if code != 0 {
		n.fail(fmt.Errorf("%w: BindShortcuts response code %d", ErrBackendUnsupported, code), "portal declined the shortcuts")
		return
	}

	triggers := boundTriggers(results)
	n.mu.Lock()
	n.state = StateListening
	for a, t := range triggers {
		n.bound[a] = t
	}
	n.mu.Unlock()

	var parts []string
	for _, a := range Actions {
		if t, ok := triggers[a]; ok {
			n.log.Info("portal shortcut bound", "action", a.ShortcutID(), "trigger", t)
			parts = append(parts, a.ShortcutID()+"="+t)
		}
	}
	detail := "shortcuts bound"
	if len(parts) > 0 {
		detail += ": " + strings.Join(parts, ", ")
	}
	if n.onDone != nil {
		n.onDone(RegistrationResult{Succeeded: true, Backend: BackendPortal, Detail: detail})
	}
}

// boundTriggers reads the a(sa{sv}) "shortcuts" result. Entries that cannot
// be decoded are skipped.
func boundTriggers(results map[string]dbus.Variant) map[Action]string {
	out := make(map[Action]string)
	raw, ok := results["shortcuts"]
	if !ok {
		return out
	}
	var entries []portalShortcut
	if err := dbus.Store([]interface{}{raw.Value()}, &entries); err != nil {
		return out
	}
	for _, e := range entries {
		a, ok := ActionFromShortcutID(e.ID)
		if !ok {
			continue
		}
		var trigger string
		if v, ok := e.Details["trigger_description"]; ok {
			trigger, _ = v.Value().(string)
		}
		out[a] = trigger
	}
	return out
}

// handleActivated maps Activated(session_handle, shortcut_id, timestamp,
// options) for this session to an action. Foreign sessions and unknown ids
// are ignored.
func (n *Negotiation) handleActivated(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	var handle dbus.ObjectPath
	switch v := sig.Body[0].(type) {
	case dbus.ObjectPath:
		handle = v
	case string:
		handle = dbus.ObjectPath(v)
	default:
		return
	}
	id, ok := sig.Body[1].(string)
	if !ok {
		return
	}

	n.mu.Lock()
	state, session := n.state, n.session
	n.mu.Unlock()
	if (state != StateShortcutsBound && state != StateListening) || session == "" || handle != session {
		n.log.Debug("ignoring activation for other session", "session", string(handle), "shortcut", id)
		return
	}
	action, known := ActionFromShortcutID(id)
	if !known {
		n.log.Debug("ignoring unknown portal shortcut", "shortcut", id)
		return
	}
	n.log.Info("portal shortcut activated", "shortcut", id)
	if n.onActivated != nil {
		n.onActivated(action)
	}
}

// fail moves to Failed, drops all pending requests and the session, and
// reports the outcome. A declined portal is expected on many desktops, so
// failures are logged at info level.
func (n *Negotiation) fail(err error, detail string) {
	n.mu.Lock()
	if n.state == StateFailed {
		n.mu.Unlock()
		return
	}
	prev := n.state
	n.state = StateFailed
	ctx, session := n.ctx, n.session
	n.session = ""
	unsub := n.detachLocked()
	n.mu.Unlock()

	unsub()
	n.closeSession(ctx, session)

	n.log.Info("portal negotiation failed", "from", prev.String(), "detail", detail, "err", err)
	if n.onDone != nil {
		n.onDone(failed(BackendPortal, err, "%s", detail))
	}
}

// detachLocked clears the pending table and the subscriptions and returns
// a func that removes them from the router and the bus. Call it with n.mu
// held and run the result after unlocking.
func (n *Negotiation) detachLocked() func() {
	routes := n.routes
	activatedMatch := n.activatedMatch
	paths := make([]dbus.ObjectPath, 0, len(n.pending))
	for p := range n.pending {
		paths = append(paths, p)
	}
	n.routes = nil
	n.activeOn = false
	n.activatedMatch = false
	n.pending = make(map[dbus.ObjectPath]pendingRequest)
	return func() {
		for _, id := range routes {
			n.router.Remove(id)
		}
		for _, p := range paths {
			_ = n.bus.RemoveMatch(signalMatch(p, portalRequestIface, portalResponseMember)...)
		}
		if activatedMatch {
			_ = n.bus.RemoveMatch(signalMatch(portalPath, portalShortcutsIface, portalActivatedMember)...)
		}
	}
}

func (n *Negotiation) closeSession(ctx context.Context, session dbus.ObjectPath) {
	if session == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := n.bus.Call(ctx, portalService, session, portalSessionIface+".Close", nil); err != nil {
		n.log.Debug("closing portal session failed", "session", string(session), "err", err)
	}
}

// Reset closes the session, removes every subscription and returns to Idle.
func (n *Negotiation) Reset() {
	n.mu.Lock()
	ctx, session := n.ctx, n.session
	unsub := n.detachLocked()
	n.state = StateIdle
	n.session = ""
	n.specs = nil
	n.bound = make(map[Action]string)
	n.mu.Unlock()

	unsub()
	n.closeSession(ctx, session)
}
