package operator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"crewdash/internal/event"
	"crewdash/internal/game"
)

type lowRand struct{}

func (lowRand) UniformInt(low, high int) int { return low }

// fakeStream records delivered events; fail makes every Send error to
// simulate a broken device connection.
type fakeStream struct {
	mu     sync.Mutex
	events []event.Event
	fail   bool
	closed bool
}

func (s *fakeStream) Send(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("connection reset")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeStream) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) byType(t event.Type) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []event.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testTunables() game.Tunables {
	return game.Tunables{
		StartGrace:          25 * time.Millisecond,
		DeleteGrace:         25 * time.Millisecond,
		CommandDelayDefault: 500,
		CommandDelayMin:     200,
		TurnCommandCountMin: 2,
		TurnCommandCountMax: 2,
		DelayDecayCoeff:     100,
	}
}

func newTestOperator() *Operator {
	return New(testTunables(), lowRand{}, zap.NewNop().Sugar())
}

func sessionParams(id string) event.Event {
	return event.Event{
		GameID: id,
		Widgets: []event.Widget{
			{ID: "a", Command: "press a", Type: event.WidgetButton},
			{ID: "b", Command: "flip b", Type: event.WidgetSwitch},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestGetOrCreateSessionMissingIdentifier(t *testing.T) {
	op := newTestOperator()
	_, err := op.GetOrCreateSession(event.Event{}, "d1", false)
	if !errors.Is(err, ErrMissingIdentifier) {
		t.Fatalf("err = %v, want %v", err, ErrMissingIdentifier)
	}
}

func TestGetOrCreateSessionReturnsExisting(t *testing.T) {
	op := newTestOperator()
	g1, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false)
	if err != nil {
		t.Fatal(err)
	}
	g2, err := op.GetOrCreateSession(sessionParams("s1"), "d2", false)
	if err != nil {
		t.Fatal(err)
	}
	if g1 != g2 {
		t.Error("second lookup returned a different Game")
	}

	g3, err := op.GetOrCreateSession(sessionParams("s1"), "d1", true)
	if err != nil {
		t.Fatal(err)
	}
	if g3 == g1 {
		t.Error("refresh must replace the Game")
	}
}

func TestAddDeviceUnknownSession(t *testing.T) {
	op := newTestOperator()
	if err := op.AddDevice("nope", "d1", "", nil); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err = %v, want %v", err, ErrUnknownSession)
	}
}

func TestBroadcastIsolatesFailingDevice(t *testing.T) {
	op := newTestOperator()
	g, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false)
	if err != nil {
		t.Fatal(err)
	}

	s1, s2, s3 := &fakeStream{}, &fakeStream{}, &fakeStream{}
	for _, d := range []struct {
		id string
		st *fakeStream
	}{{"d1", s1}, {"d2", s2}, {"d3", s3}} {
		if err := op.AddDevice("s1", d.id, "", d.st); err != nil {
			t.Fatal(err)
		}
	}

	// d2's connection breaks after joining; the next broadcast must
	// still reach the other two and evict only d2.
	s2.setFail(true)
	op.BroadcastFunc("s1")(event.Event{Type: event.TypeCommand, GameID: "s1", WidgetID: "a"})

	if got := len(s1.byType(event.TypeCommand)); got != 1 {
		t.Errorf("device d1 received %d commands, want 1", got)
	}
	if got := len(s3.byType(event.TypeCommand)); got != 1 {
		t.Errorf("device d3 received %d commands, want 1", got)
	}
	if !s2.isClosed() {
		t.Error("failing device's stream was not closed")
	}
	count, ids := g.Devices()
	if count != 2 {
		t.Errorf("roster after eviction = %d %v, want 2 devices", count, ids)
	}
	for _, id := range ids {
		if id == "d2" {
			t.Error("failing device still on roster")
		}
	}
}

func TestScheduleDeletionIdempotent(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}

	op.ScheduleDeletion("s1")
	op.ScheduleDeletion("s1")

	waitFor(t, time.Second, func() bool {
		_, ok := op.Game("s1")
		return !ok
	})

	// A third call races a fired timer: the Game is gone, purge must
	// be immediate and silent.
	op.ScheduleDeletion("s1")
	if _, ok := op.Game("s1"); ok {
		t.Error("session resurfaced after deletion")
	}
}

func TestStartTimeoutExpiresSession(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}
	st := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "crew", st); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool {
		return len(st.byType(event.TypeEnd)) > 0
	})
	end := st.byType(event.TypeEnd)[0]
	if end.EndReason != event.ReasonStartDelay {
		t.Errorf("end reason = %s, want %s", end.EndReason, event.ReasonStartDelay)
	}

	// The End broadcast schedules deletion; the registry must drain.
	waitFor(t, time.Second, func() bool {
		_, ok := op.Game("s1")
		return !ok
	})
	if !st.isClosed() {
		t.Error("stream not closed on purge")
	}
}

func TestJoinRefreshKeepsSessionAlive(t *testing.T) {
	tun := testTunables()
	tun.StartGrace = 100 * time.Millisecond
	op := New(tun, lowRand{}, zap.NewNop().Sugar())
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}

	// Keep joining inside the grace period; the start timeout must not
	// fire while the session is actively configured. Total elapsed time
	// exceeds the grace period, so only the refreshes keep it alive.
	for i := 0; i < 6; i++ {
		time.Sleep(25 * time.Millisecond)
		if err := op.AddDevice("s1", "d1", "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if g, ok := op.Game("s1"); !ok {
		t.Fatal("session expired despite activity")
	} else if snap := g.Snapshot(); snap.Ended {
		t.Fatalf("session ended despite activity: %s", snap.EndReason)
	}
}

func TestSecondJoinObservedByFirstDevice(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}

	st1 := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "alice", st1); err != nil {
		t.Fatal(err)
	}
	if err := op.AddDevice("s1", "d2", "bob", nil); err != nil {
		t.Fatal(err)
	}

	joins := st1.byType(event.TypeJoin)
	if len(joins) < 2 {
		t.Fatalf("first device saw %d joins, want 2", len(joins))
	}
	second := joins[len(joins)-1]
	if second.DeviceID != "d2" || second.DeviceCount != 2 {
		t.Errorf("second join = device %s count %d, want d2 count 2", second.DeviceID, second.DeviceCount)
	}
	if len(second.DeviceIDs) != 2 {
		t.Errorf("second join device ids = %v, want both devices", second.DeviceIDs)
	}
}

func TestLateJoinerReceivesConfigSnapshot(t *testing.T) {
	op := newTestOperator()
	params := sessionParams("s1")
	params.TurnMode = event.TurnCompetitive
	params.PlayerCount = 2
	if _, err := op.GetOrCreateSession(params, "d1", false); err != nil {
		t.Fatal(err)
	}

	st1 := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", st1); err != nil {
		t.Fatal(err)
	}
	st2 := &fakeStream{}
	if err := op.AddDevice("s1", "d2", "", st2); err != nil {
		t.Fatal(err)
	}

	snaps := st2.byType(event.TypeConfig)
	if len(snaps) != 1 {
		t.Fatalf("late joiner received %d config snapshots, want 1", len(snaps))
	}
	snap := snaps[0]
	if snap.DeviceID != event.ServerDeviceID {
		t.Errorf("snapshot device id = %s, want %s", snap.DeviceID, event.ServerDeviceID)
	}
	if snap.TurnMode != event.TurnCompetitive || snap.PlayerCount != 2 {
		t.Errorf("snapshot config = %s/%d, want competitive/2", snap.TurnMode, snap.PlayerCount)
	}
	if len(snap.Widgets) != 2 {
		t.Errorf("snapshot widgets = %d, want 2", len(snap.Widgets))
	}
	// The snapshot is unicast: the earlier device saw only the one from
	// its own attach, not d2's.
	if got := st1.byType(event.TypeConfig); len(got) != 1 {
		t.Errorf("existing device received %d config snapshots, want 1", len(got))
	}
}

func TestRejoinClosesPriorStream(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}

	old := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", old); err != nil {
		t.Fatal(err)
	}
	fresh := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", fresh); err != nil {
		t.Fatal(err)
	}

	if !old.isClosed() {
		t.Error("superseded stream left open")
	}
	if fresh.isClosed() {
		t.Error("fresh stream closed")
	}
}

func TestApplyConfigGating(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}
	st := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", st); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		ev      event.Event
		wantErr error
	}{
		{
			name:    "unknown session",
			ev:      event.Event{Type: event.TypeConfig, GameID: "nope", DeviceID: "ghost"},
			wantErr: ErrUnknownSession,
		},
		{
			name:    "not joined",
			ev:      event.Event{Type: event.TypeConfig, GameID: "s1", DeviceID: "intruder"},
			wantErr: ErrNotJoined,
		},
		{
			name: "member",
			ev: event.Event{
				Type: event.TypeConfig, GameID: "s1", DeviceID: "d1",
				TurnMode: event.TurnCompetitive, PlayerCount: 3,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := op.ApplyConfig(tt.ev)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
		})
	}

	g, _ := op.Game("s1")
	snap := g.ConfigSnapshot()
	if snap.TurnMode != event.TurnCompetitive || snap.PlayerCount != 3 {
		t.Errorf("config not applied: %s/%d", snap.TurnMode, snap.PlayerCount)
	}
	// Accepted config is rebroadcast to the roster (on top of the
	// unicast snapshot from the stream attach).
	if got := st.byType(event.TypeConfig); len(got) != 2 {
		t.Errorf("member received %d config events, want 2", len(got))
	}
}

func TestStartSessionBroadcastsStartAndCommand(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}
	st := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", st); err != nil {
		t.Fatal(err)
	}

	if err := op.StartSession("s1", "d1"); err != nil {
		t.Fatal(err)
	}
	g, _ := op.Game("s1")
	defer g.CancelTimers()

	if got := len(st.byType(event.TypeStart)); got != 1 {
		t.Errorf("start events = %d, want 1", got)
	}
	cmds := st.byType(event.TypeCommand)
	if len(cmds) != 1 || cmds[0].CommandCount != 1 {
		t.Fatalf("commands = %+v, want exactly one with count 1", cmds)
	}
}

func TestDoWidgetEchoAndMismatch(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}
	st := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", st); err != nil {
		t.Fatal(err)
	}
	if err := op.StartSession("s1", "d1"); err != nil {
		t.Fatal(err)
	}

	// lowRand always picks widget "a"; acting on "b" is a mismatch.
	if err := op.DoWidget(event.Event{
		Type: event.TypeDoWidget, GameID: "s1", DeviceID: "d1", WidgetID: "b",
	}); err != nil {
		t.Fatal(err)
	}

	if got := len(st.byType(event.TypeDoWidget)); got != 1 {
		t.Errorf("do-widget echoes = %d, want 1", got)
	}
	ends := st.byType(event.TypeEnd)
	if len(ends) != 1 || ends[0].EndReason != event.ReasonActionMismatch {
		t.Fatalf("ends = %+v, want one action-mismatch", ends)
	}

	// End was broadcast, so deletion is scheduled; the session drains
	// after the delete grace period.
	waitFor(t, time.Second, func() bool {
		_, ok := op.Game("s1")
		return !ok
	})
}

func TestRestartCancelsPendingDeletion(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}
	st := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", st); err != nil {
		t.Fatal(err)
	}

	g, _ := op.Game("s1")
	g.End(event.ReasonActionDelay, game.Sink(op.BroadcastFunc("s1")), "d1")

	// Restart before the delete grace period elapses.
	if err := op.StartSession("s1", "d1"); err != nil {
		t.Fatal(err)
	}
	defer g.CancelTimers()

	time.Sleep(60 * time.Millisecond)
	if _, ok := op.Game("s1"); !ok {
		t.Fatal("session deleted despite restart")
	}
	if snap := g.Snapshot(); snap.Ended {
		t.Errorf("restarted session still ended: %s", snap.EndReason)
	}
}

func TestRemoveDeviceBroadcastsLeave(t *testing.T) {
	op := newTestOperator()
	if _, err := op.GetOrCreateSession(sessionParams("s1"), "d1", false); err != nil {
		t.Fatal(err)
	}
	st1 := &fakeStream{}
	if err := op.AddDevice("s1", "d1", "", st1); err != nil {
		t.Fatal(err)
	}
	if err := op.AddDevice("s1", "d2", "", nil); err != nil {
		t.Fatal(err)
	}

	op.RemoveDevice("s1", "d2", true)

	leaves := st1.byType(event.TypeLeave)
	if len(leaves) != 1 {
		t.Fatalf("leave events = %d, want 1", len(leaves))
	}
	if leaves[0].DeviceID != "d2" || leaves[0].DeviceCount != 1 {
		t.Errorf("leave = device %s count %d, want d2 count 1", leaves[0].DeviceID, leaves[0].DeviceCount)
	}

	// Removal against a purged session must only log.
	op.RemoveDevice("gone", "d9", true)
}
