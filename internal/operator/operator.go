package operator

import (
	"sync"

	"go.uber.org/zap"

	"crewdash/internal/event"
	"crewdash/internal/game"
)

// Operator is the process-wide session registry. It maps session ids
// to Games, device ids to outbound streams and session ids to
// memoized broadcast closures, and mediates every join/leave/config/
// start/end operation. One Operator is constructed at process start
// and handed to all request handlers.
type Operator struct {
	mu        sync.RWMutex
	games     map[string]*game.Game
	clients   map[string]Stream    // deviceID -> stream
	listeners map[string]Broadcast // sessionID -> broadcast closure

	tun game.Tunables
	rng game.Rand
	log *zap.SugaredLogger
}

// New creates an empty operator.
func New(tun game.Tunables, rng game.Rand, log *zap.SugaredLogger) *Operator {
	return &Operator{
		games:     make(map[string]*game.Game),
		clients:   make(map[string]Stream),
		listeners: make(map[string]Broadcast),
		tun:       tun,
		rng:       rng,
		log:       log,
	}
}

// Game returns the registered Game for a session id.
func (o *Operator) Game(sessionID string) (*game.Game, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g, ok := o.games[sessionID]
	return g, ok
}

func (o *Operator) stream(deviceID string) Stream {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.clients[deviceID]
}

// GetOrCreateSession resolves the session named by the join params,
// creating and registering a fresh Game when the id is unknown, or
// replacing the existing one when the caller demands a config refresh.
// New sessions get their start timeout armed: a session nobody starts
// within the grace period ends with StartDelay and is scheduled for
// deletion.
func (o *Operator) GetOrCreateSession(params event.Event, deviceID string, refresh bool) (*game.Game, error) {
	if params.GameID == "" {
		return nil, ErrMissingIdentifier
	}
	sessionID := params.GameID

	o.mu.Lock()
	existing, ok := o.games[sessionID]
	if ok && !refresh {
		o.mu.Unlock()
		return existing, nil
	}
	g := game.New(sessionID, params, o.tun, o.rng, o.log)
	o.games[sessionID] = g
	o.mu.Unlock()

	if existing != nil {
		existing.CancelTimers()
		g.SetDevices(existing.Aliases())
		o.log.Infow("session config refreshed", "session", sessionID, "device", deviceID)
	} else {
		o.log.Infow("session created", "session", sessionID, "device", deviceID)
	}

	g.SetStartTimeout(func() {
		defer o.recoverTimer("start-timeout", sessionID)
		o.expireSession(sessionID)
	})
	return g, nil
}

// expireSession ends a session that was never started within its
// grace period. The End broadcast itself schedules deletion.
func (o *Operator) expireSession(sessionID string) {
	g, ok := o.Game(sessionID)
	if !ok {
		return
	}
	o.log.Infow("session expired before start", "session", sessionID)
	g.End(event.ReasonStartDelay, game.Sink(o.BroadcastFunc(sessionID)), event.ServerDeviceID)
}

// AddDevice registers a device on a session's roster and broadcasts
// the Join to every attached device. When a stream is supplied, any
// prior stream for the device is closed first (a rejoin supersedes the
// old connection) and the fresh stream alone receives a full config
// snapshot stamped with the server identity, so a late joiner catches
// up without waiting for the next change.
func (o *Operator) AddDevice(sessionID, deviceID, alias string, stream Stream) error {
	g, ok := o.Game(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	if stream != nil {
		o.mu.Lock()
		prior := o.clients[deviceID]
		o.clients[deviceID] = stream
		o.mu.Unlock()
		if prior != nil {
			o.log.Debugw("closing superseded stream", "session", sessionID, "device", deviceID)
			prior.Close()
		}
	}

	g.AddDevice(deviceID, alias)
	g.SetJoined(true)
	count, ids := g.Devices()

	o.BroadcastFunc(sessionID)(event.Event{
		Type:        event.TypeJoin,
		GameID:      sessionID,
		DeviceID:    deviceID,
		DeviceAlias: alias,
		DeviceCount: count,
		DeviceIDs:   ids,
	})

	if stream != nil {
		snap := g.ConfigSnapshot()
		snap.DeviceID = event.ServerDeviceID
		if err := stream.Send(snap); err != nil {
			o.log.Warnw("config snapshot delivery failed", "session", sessionID, "device", deviceID, "err", err)
		}
	}

	g.RefreshStartTimeout()
	return nil
}

// RemoveDevice closes and forgets the device's stream, drops it from
// the roster and, when asked, broadcasts the Leave to the remaining
// devices. Removal is safe to call during teardown races: a session
// that is already gone is only logged.
func (o *Operator) RemoveDevice(sessionID, deviceID string, broadcast bool) {
	o.mu.Lock()
	stream := o.clients[deviceID]
	delete(o.clients, deviceID)
	o.mu.Unlock()
	if stream != nil {
		stream.Close()
	}

	g, ok := o.Game(sessionID)
	if !ok {
		o.log.Debugw("remove device: session already gone", "session", sessionID, "device", deviceID)
		return
	}
	g.DeleteDevice(deviceID)

	if broadcast {
		count, _ := g.Devices()
		o.BroadcastFunc(sessionID)(event.Event{
			Type:        event.TypeLeave,
			GameID:      sessionID,
			DeviceID:    deviceID,
			DeviceCount: count,
		})
	}
}

// BroadcastFunc returns the session's broadcast closure, creating and
// memoizing it on first use. The closure delivers to every device on
// the roster, evicting just the devices whose delivery fails, and
// schedules session deletion after broadcasting an End.
func (o *Operator) BroadcastFunc(sessionID string) Broadcast {
	o.mu.Lock()
	if fn, ok := o.listeners[sessionID]; ok {
		o.mu.Unlock()
		return fn
	}
	fn := func(ev event.Event) {
		o.fanOut(sessionID, ev)
	}
	o.listeners[sessionID] = fn
	o.mu.Unlock()
	return fn
}

func (o *Operator) fanOut(sessionID string, ev event.Event) {
	g, ok := o.Game(sessionID)
	if !ok {
		return
	}

	_, ids := g.Devices()
	for _, deviceID := range ids {
		stream := o.stream(deviceID)
		if stream == nil {
			continue
		}
		if err := stream.Send(ev); err != nil {
			o.log.Warnw("delivery failed, evicting device",
				"session", sessionID, "device", deviceID, "event", ev.Type, "err", err)
			o.RemoveDevice(sessionID, deviceID, false)
		}
	}

	if ev.Type == event.TypeEnd {
		o.ScheduleDeletion(sessionID)
	}
}

// StartSession runs Game.start for the session, wiring the session's
// broadcast closure in as the event sink.
func (o *Operator) StartSession(sessionID, deviceID string) error {
	g, ok := o.Game(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	g.Start(game.Sink(o.BroadcastFunc(sessionID)), deviceID)
	return nil
}

// DoWidget echoes the action to the roster, then lets the Game decide
// between the next command and a mismatch end.
func (o *Operator) DoWidget(ev event.Event) error {
	g, ok := o.Game(ev.GameID)
	if !ok {
		return ErrUnknownSession
	}
	bc := o.BroadcastFunc(ev.GameID)
	bc(ev)
	g.DoWidget(ev, game.Sink(bc))
	return nil
}

// ApplyConfig applies a config event. Config mutation is join-gated:
// a device that is not on the roster is evicted and refused, and a
// config against an unknown session also drops the device's stream so
// the client's stale belief is corrected.
func (o *Operator) ApplyConfig(ev event.Event) error {
	g, ok := o.Game(ev.GameID)
	if !ok {
		o.RemoveDevice(ev.GameID, ev.DeviceID, false)
		return ErrUnknownSession
	}

	_, ids := g.Devices()
	member := false
	for _, id := range ids {
		if id == ev.DeviceID {
			member = true
			break
		}
	}
	if !member {
		o.RemoveDevice(ev.GameID, ev.DeviceID, false)
		return ErrNotJoined
	}

	g.ApplyConfig(ev)
	o.BroadcastFunc(ev.GameID)(ev)
	g.RefreshStartTimeout()
	return nil
}

// ScheduleDeletion arms the session's delete timer. A session whose
// Game is already gone is purged immediately, so a deletion raced from
// two sides stays idempotent.
func (o *Operator) ScheduleDeletion(sessionID string) {
	g, ok := o.Game(sessionID)
	if !ok {
		o.purge(sessionID)
		return
	}
	g.SetDeleteTimeout(func() {
		defer o.recoverTimer("delete-timeout", sessionID)
		o.purge(sessionID)
	})
}

// purge performs full teardown: drops the broadcast closure, force-
// leaves every still-attached device without re-broadcasting, and
// removes the Game from the registry.
func (o *Operator) purge(sessionID string) {
	o.mu.Lock()
	delete(o.listeners, sessionID)
	g := o.games[sessionID]
	delete(o.games, sessionID)
	o.mu.Unlock()

	if g == nil {
		return
	}
	g.CancelTimers()
	_, ids := g.Devices()
	for _, deviceID := range ids {
		o.RemoveDevice(sessionID, deviceID, false)
	}
	o.log.Infow("session purged", "session", sessionID)
}

// recoverTimer keeps a panicking timer callback from taking the
// process down; the session is left in its last consistent state.
func (o *Operator) recoverTimer(name, sessionID string) {
	if r := recover(); r != nil {
		o.log.Errorw("timer callback panicked", "timer", name, "session", sessionID, "panic", r)
	}
}
