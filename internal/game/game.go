package game

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"crewdash/internal/event"
)

// Sink receives the events a Game emits, in generation order. The
// operator supplies its broadcast closure here.
type Sink func(event.Event)

// Tunables are the process-level timing knobs shared by every Game.
type Tunables struct {
	StartGrace  time.Duration
	DeleteGrace time.Duration

	CommandDelayDefault int64 // ms
	CommandDelayMin     int64 // ms

	TurnCommandCountMin int
	TurnCommandCountMax int

	// ms removed from the command delay per command at difficulty 1.0.
	DelayDecayCoeff float64
}

// Config is a session's semi-static configuration. It is mutated only
// before start or through explicit config events.
type Config struct {
	BoardMode   event.BoardMode
	TurnMode    event.TurnMode
	PlayerCount int
	Difficulty  float64
	Widgets     *WidgetSet
}

// state is the round-scoped mutable state, reset on every start.
type state struct {
	commandCount          int
	commandDelay          int64
	commandWidgetID       string
	turnPlayerIdx         int
	turnCommandCountTotal int
	turnCommandCount      int
	lastEvent             event.Type
	preview               bool
	started               bool
	ended                 bool
	endReason             event.EndReason
	hostDeviceID          string
	joined                bool
	devices               map[string]string // deviceID -> alias
	deviceCount           int
	eliminated            int
}

// Snapshot is a point-in-time copy of a Game's mutable state.
type Snapshot struct {
	CommandCount          int
	CommandDelay          int64
	CommandWidgetID       string
	TurnPlayerIdx         int
	TurnCommandCountTotal int
	TurnCommandCount      int
	LastEvent             event.Type
	Preview               bool
	Started               bool
	Ended                 bool
	Joined                bool
	EndReason             event.EndReason
	HostDeviceID          string
	DeviceCount           int
	Eliminated            int
}

// Game is one session's finite-state machine. All exported methods are
// safe for concurrent use; events are always emitted outside the state
// lock so a sink may re-enter the Game (eviction during broadcast).
type Game struct {
	ID string

	mu  sync.Mutex
	cfg Config
	st  state

	rng       Rand
	tun       Tunables
	log       *zap.SugaredLogger
	listeners *Listeners

	startTimer   *Timer
	deleteTimer  *Timer
	commandTimer *Timer
}

// New builds a Game from join params, falling back to defaults for
// anything the params leave unset.
func New(id string, params event.Event, tun Tunables, rng Rand, log *zap.SugaredLogger) *Game {
	cfg := Config{
		BoardMode:   event.BoardMirror,
		TurnMode:    event.TurnCollaborative,
		PlayerCount: 1,
		Difficulty:  0.5,
		Widgets:     NewWidgetSet(params.Widgets),
	}
	if params.BoardMode != "" {
		cfg.BoardMode = params.BoardMode
	}
	if params.TurnMode != "" {
		cfg.TurnMode = params.TurnMode
	}
	if params.PlayerCount > 0 {
		cfg.PlayerCount = params.PlayerCount
	}
	if params.Difficulty > 0 {
		cfg.Difficulty = clamp01(params.Difficulty)
	}

	return &Game{
		ID:  id,
		cfg: cfg,
		st: state{
			commandDelay:  tun.CommandDelayDefault,
			turnPlayerIdx: -1,
			endReason:     event.ReasonUnknown,
			devices:       make(map[string]string),
		},
		rng:          rng,
		tun:          tun,
		log:          log,
		listeners:    NewListeners(),
		startTimer:   NewTimer(),
		deleteTimer:  NewTimer(),
		commandTimer: NewTimer(),
	}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Listeners exposes the game's subscription registry so boards can
// follow roster, config and lifecycle changes.
func (g *Game) Listeners() *Listeners {
	return g.listeners
}

// Snapshot returns a copy of the current mutable state.
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		CommandCount:          g.st.commandCount,
		CommandDelay:          g.st.commandDelay,
		CommandWidgetID:       g.st.commandWidgetID,
		TurnPlayerIdx:         g.st.turnPlayerIdx,
		TurnCommandCountTotal: g.st.turnCommandCountTotal,
		TurnCommandCount:      g.st.turnCommandCount,
		LastEvent:             g.st.lastEvent,
		Preview:               g.st.preview,
		Started:               g.st.started,
		Ended:                 g.st.ended,
		Joined:                g.st.joined,
		EndReason:             g.st.endReason,
		HostDeviceID:          g.st.hostDeviceID,
		DeviceCount:           g.st.deviceCount,
		Eliminated:            g.st.eliminated,
	}
}

// Start resets all round-scoped state, cancels the start and delete
// timers, emits a Start event and immediately issues the first
// command. Valid from any state, including Ended (restart).
func (g *Game) Start(sink Sink, hostDeviceID string) event.Event {
	g.commandTimer.Cancel()
	g.startTimer.Cancel()
	g.deleteTimer.Cancel()

	g.mu.Lock()
	g.st.commandCount = 0
	g.st.commandDelay = g.tun.CommandDelayDefault
	g.st.commandWidgetID = ""
	g.st.turnPlayerIdx = -1
	g.st.turnCommandCountTotal = 0
	g.st.turnCommandCount = 0
	g.st.eliminated = 0
	g.st.started = true
	g.st.ended = false
	g.st.endReason = event.ReasonUnknown
	g.st.hostDeviceID = hostDeviceID
	g.st.lastEvent = event.TypeStart
	g.mu.Unlock()

	ev := event.Event{Type: event.TypeStart, GameID: g.ID, DeviceID: hostDeviceID}
	sink(ev)
	g.sendCommand(sink)
	return ev
}

// sendCommand picks the next command target, advancing the turn first
// when competitive mode has exhausted the current one, emits the Turn
// and Command events, and arms the command timer: wait widgets roll
// straight into the next command, anything else ends the session with
// ActionDelay when the window expires.
func (g *Game) sendCommand(sink Sink) {
	g.mu.Lock()
	if g.st.ended || g.cfg.Widgets.Len() == 0 {
		if g.cfg.Widgets.Len() == 0 {
			g.log.Warnw("no widgets configured, skipping command", "game", g.ID)
		}
		g.mu.Unlock()
		return
	}

	var turnEv *event.Event
	if g.cfg.TurnMode == event.TurnCompetitive &&
		(g.st.turnPlayerIdx < 0 || g.st.turnCommandCount >= g.st.turnCommandCountTotal) {
		g.st.turnPlayerIdx = (g.st.turnPlayerIdx + 1) % g.cfg.PlayerCount
		g.st.turnCommandCount = 0
		g.st.turnCommandCountTotal = g.rng.UniformInt(g.tun.TurnCommandCountMin, g.tun.TurnCommandCountMax)
		idx := g.st.turnPlayerIdx
		turnEv = &event.Event{
			Type:                  event.TypeTurn,
			GameID:                g.ID,
			DeviceID:              event.ServerDeviceID,
			TurnPlayerIdx:         &idx,
			TurnCommandCountTotal: g.st.turnCommandCountTotal,
		}
	}

	w := g.cfg.Widgets.At(g.rng.UniformInt(0, g.cfg.Widgets.Len()-1))
	g.st.commandWidgetID = w.ID
	g.st.commandCount++
	g.st.turnCommandCount++
	g.st.lastEvent = event.TypeCommand

	cmdEv := event.Event{
		Type:             event.TypeCommand,
		GameID:           g.ID,
		DeviceID:         event.ServerDeviceID,
		WidgetID:         w.ID,
		Command:          w.Command,
		CommandDelay:     g.st.commandDelay,
		CommandCount:     g.st.commandCount,
		TurnCommandCount: g.st.turnCommandCount,
	}

	// The scheduled window includes the widget's own extra duration;
	// the raw session delay reported on the event does not.
	totalDelay := time.Duration(g.st.commandDelay+w.Duration) * time.Millisecond
	isWait := w.Type == event.WidgetWait

	g.st.commandDelay -= int64(g.tun.DelayDecayCoeff * g.cfg.Difficulty)
	if g.st.commandDelay < g.tun.CommandDelayMin {
		g.st.commandDelay = g.tun.CommandDelayMin
	}
	g.mu.Unlock()

	if turnEv != nil {
		sink(*turnEv)
	}
	sink(cmdEv)

	if isWait {
		g.commandTimer.Arm(totalDelay, func() { g.sendCommand(sink) })
	} else {
		g.commandTimer.Arm(totalDelay, func() { g.End(event.ReasonActionDelay, sink, event.ServerDeviceID) })
	}
}

// DoWidget resolves a player action against the active command. A
// match on a non-wait widget advances the game. A wrong widget, or a
// direct action on a wait widget, ends it.
func (g *Game) DoWidget(ev event.Event, sink Sink) {
	g.commandTimer.Cancel()

	g.mu.Lock()
	match := g.st.commandWidgetID != "" && ev.WidgetID == g.st.commandWidgetID
	w, ok := g.cfg.Widgets.Get(ev.WidgetID)
	isWait := ok && w.Type == event.WidgetWait
	g.mu.Unlock()

	if match && !isWait {
		g.sendCommand(sink)
		return
	}
	g.End(event.ReasonActionMismatch, sink, ev.DeviceID)
}

// End marks the session ended with the given reason and emits an End
// event carrying the final command count. Calling it again re-emits.
func (g *Game) End(reason event.EndReason, sink Sink, deviceID string) {
	g.commandTimer.Cancel()

	g.mu.Lock()
	if !g.st.ended && g.cfg.TurnMode == event.TurnCompetitive &&
		(reason == event.ReasonActionDelay || reason == event.ReasonActionMismatch) {
		g.st.eliminated++
	}
	g.st.ended = true
	g.st.endReason = reason
	g.st.lastEvent = event.TypeEnd
	count := g.st.commandCount
	g.mu.Unlock()

	sink(event.Event{
		Type:         event.TypeEnd,
		GameID:       g.ID,
		DeviceID:     deviceID,
		CommandCount: count,
		EndReason:    reason,
	})
}

// ApplyConfig applies a config diff: only fields present on the event
// change, widget edits preserve insertion order, and aliases apply
// only to devices already on the roster.
func (g *Game) ApplyConfig(ev event.Event) {
	g.mu.Lock()
	if ev.BoardMode != "" {
		g.cfg.BoardMode = ev.BoardMode
	}
	if ev.TurnMode != "" {
		g.cfg.TurnMode = ev.TurnMode
	}
	if ev.PlayerCount > 0 {
		g.cfg.PlayerCount = ev.PlayerCount
	}
	if ev.Difficulty > 0 {
		g.cfg.Difficulty = clamp01(ev.Difficulty)
	}
	for _, w := range ev.Widgets {
		g.cfg.Widgets.Put(w)
	}
	for id, alias := range ev.DeviceAliases {
		if _, ok := g.st.devices[id]; ok {
			g.st.devices[id] = alias
		}
	}
	g.st.preview = ev.Preview
	g.st.lastEvent = event.TypeConfig
	cfg := g.cfg
	g.mu.Unlock()

	g.listeners.Notify(ConfigChange{Config: cfg})
}

// ConfigSnapshot returns a full config snapshot as a wire event, used
// to bring late joiners up to date in one message.
func (g *Game) ConfigSnapshot() event.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	aliases := make(map[string]string, len(g.st.devices))
	for id, alias := range g.st.devices {
		aliases[id] = alias
	}
	return event.Event{
		Type:          event.TypeConfig,
		GameID:        g.ID,
		BoardMode:     g.cfg.BoardMode,
		TurnMode:      g.cfg.TurnMode,
		PlayerCount:   g.cfg.PlayerCount,
		Difficulty:    g.cfg.Difficulty,
		Widgets:       g.cfg.Widgets.List(),
		DeviceAliases: aliases,
		Preview:       g.st.preview,
	}
}

// AddDevice puts a device on the roster, keeping the derived count in
// sync and notifying device-count listeners. An empty alias keeps any
// alias the device already had (stream reattach after a join).
func (g *Game) AddDevice(deviceID, alias string) {
	g.mu.Lock()
	if alias == "" {
		alias = g.st.devices[deviceID]
	}
	g.st.devices[deviceID] = alias
	change := g.rosterChangeLocked()
	g.mu.Unlock()
	g.listeners.Notify(change)
}

// DeleteDevice removes a device from the roster. Listeners registered
// on behalf of the device are dropped with it.
func (g *Game) DeleteDevice(deviceID string) {
	g.mu.Lock()
	delete(g.st.devices, deviceID)
	change := g.rosterChangeLocked()
	g.mu.Unlock()
	g.listeners.UnsubscribeOwner(deviceID)
	g.listeners.Notify(change)
}

// SetDevices replaces the roster wholesale.
func (g *Game) SetDevices(devices map[string]string) {
	g.mu.Lock()
	g.st.devices = make(map[string]string, len(devices))
	for id, alias := range devices {
		g.st.devices[id] = alias
	}
	change := g.rosterChangeLocked()
	g.mu.Unlock()
	g.listeners.Notify(change)
}

// rosterChangeLocked recomputes the derived device count. The count
// field and the id set only ever change together, here.
func (g *Game) rosterChangeLocked() DeviceCountChange {
	g.st.deviceCount = len(g.st.devices)
	ids := make([]string, 0, len(g.st.devices))
	for id := range g.st.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return DeviceCountChange{Count: g.st.deviceCount, IDs: ids}
}

// Aliases returns a copy of the roster's device id to alias mapping.
func (g *Game) Aliases() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.st.devices))
	for id, alias := range g.st.devices {
		out[id] = alias
	}
	return out
}

// Devices returns the roster size and its sorted device ids.
func (g *Game) Devices() (int, []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.st.devices))
	for id := range g.st.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return g.st.deviceCount, ids
}

// SetJoined records whether the local viewer has joined. Joining a
// session that expired before starting revives it.
func (g *Game) SetJoined(joined bool) {
	g.mu.Lock()
	g.st.joined = joined
	if joined && g.st.endReason == event.ReasonStartDelay {
		g.st.ended = false
		g.st.endReason = event.ReasonUnknown
	}
	g.mu.Unlock()
}

// SetStarted flips the started flag. Starting an ended session
// implicitly un-ends it.
func (g *Game) SetStarted(started bool) {
	g.mu.Lock()
	if started && g.st.ended {
		g.st.ended = false
		g.st.endReason = event.ReasonUnknown
	}
	g.st.started = started
	change := g.stateChangeLocked()
	g.mu.Unlock()
	g.listeners.Notify(change)
}

// SetEnded flips the ended flag.
func (g *Game) SetEnded(ended bool) {
	g.mu.Lock()
	g.st.ended = ended
	change := g.stateChangeLocked()
	g.mu.Unlock()
	g.listeners.Notify(change)
}

// SetEndReason records the end reason.
func (g *Game) SetEndReason(reason event.EndReason) {
	g.mu.Lock()
	g.st.endReason = reason
	g.mu.Unlock()
}

// SetPreview flips the preview flag.
func (g *Game) SetPreview(preview bool) {
	g.mu.Lock()
	g.st.preview = preview
	change := g.stateChangeLocked()
	g.mu.Unlock()
	g.listeners.Notify(change)
}

func (g *Game) stateChangeLocked() StateChange {
	return StateChange{
		Started: g.st.started,
		Ended:   g.st.ended,
		Preview: g.st.preview,
		Reason:  string(g.st.endReason),
	}
}

// SetStartTimeout arms the start grace-period timer.
func (g *Game) SetStartTimeout(fn func()) {
	g.startTimer.Arm(g.tun.StartGrace, fn)
}

// RefreshStartTimeout restarts the start timer with its armed
// callback. Called on every join and config to keep an actively
// configuring session alive.
func (g *Game) RefreshStartTimeout() {
	g.startTimer.Rearm()
}

// SetDeleteTimeout arms the post-end grace-period timer.
func (g *Game) SetDeleteTimeout(fn func()) {
	g.deleteTimer.Arm(g.tun.DeleteGrace, fn)
}

// RefreshDeleteTimeout restarts the delete timer.
func (g *Game) RefreshDeleteTimeout() {
	g.deleteTimer.Rearm()
}

// CancelTimers stops every pending timer. Called before the Game is
// dropped from the registry so no stale callback fires afterwards.
func (g *Game) CancelTimers() {
	g.startTimer.Cancel()
	g.deleteTimer.Cancel()
	g.commandTimer.Cancel()
}
