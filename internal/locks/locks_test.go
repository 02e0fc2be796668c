package locks

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/elock-client/internal/channel"
	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/rpc"
)

// mockSource is a scripted LockSource. ListLocks copies the server state
// when called; a non-nil hold delays the answer until it is closed.
type mockSource struct {
	mu        sync.Mutex
	locks     []rpc.Lock
	listErr   error
	getErr    error
	updateErr error
	listCalls atomic.Int32
	hold      chan struct{}
	started   chan struct{}
}

func newMockSource(locks ...rpc.Lock) *mockSource {
	return &mockSource{
		locks:   append([]rpc.Lock(nil), locks...),
		started: make(chan struct{}, 32),
	}
}

func (m *mockSource) ListLocks(ctx context.Context) ([]rpc.Lock, error) {
	m.listCalls.Add(1)
	m.mu.Lock()
	hold, err := m.hold, m.listErr
	out := append([]rpc.Lock(nil), m.locks...)
	m.mu.Unlock()
	m.started <- struct{}{}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *mockSource) GetLock(_ context.Context, id int64) (rpc.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return rpc.Lock{}, m.getErr
	}
	for _, l := range m.locks {
		if l.ID == id {
			return l, nil
		}
	}
	return rpc.Lock{}, rpc.ErrNotFound
}

func (m *mockSource) UpdateLockStatus(_ context.Context, id int64, status rpc.LockStatus) (rpc.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return rpc.Lock{}, m.updateErr
	}
	for i, l := range m.locks {
		if l.ID == id {
			m.locks[i].Status = status
			return m.locks[i], nil
		}
	}
	return rpc.Lock{}, rpc.ErrNotFound
}

// holdLists makes later ListLocks calls wait until the returned func runs.
func (m *mockSource) holdLists() (release func()) {
	h := make(chan struct{})
	m.mu.Lock()
	m.hold = h
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.hold = nil
		m.mu.Unlock()
		close(h)
	}
}

func (m *mockSource) setLocks(locks ...rpc.Lock) {
	m.mu.Lock()
	m.locks = append([]rpc.Lock(nil), locks...)
	m.mu.Unlock()
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

// stubLink is a channel.Link whose events the test pushes directly.
type stubLink struct {
	events chan channel.Event
	done   chan struct{}
	once   sync.Once
}

func (l *stubLink) Events() <-chan channel.Event { return l.events }
func (l *stubLink) Done() <-chan struct{}        { return l.done }
func (l *stubLink) Err() error                   { return nil }
func (l *stubLink) Join(int64) error             { return nil }
func (l *stubLink) Leave(int64) error            { return nil }
func (l *stubLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

type stubTransport struct {
	mu   sync.Mutex
	last *stubLink
}

func (t *stubTransport) Dial(context.Context, string) (channel.Link, error) {
	l := &stubLink{events: make(chan channel.Event, 16), done: make(chan struct{})}
	t.mu.Lock()
	t.last = l
	t.mu.Unlock()
	return l, nil
}

func (t *stubTransport) push(t2 *testing.T, kind string, payload any) {
	t2.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t2.Fatalf("marshal: %v", err)
	}
	t.mu.Lock()
	l := t.last
	t.mu.Unlock()
	if l == nil {
		t2.Fatal("no link dialled")
	}
	l.events <- channel.Event{Kind: kind, Payload: data}
}

func newTestManager(t *testing.T) (*channel.Manager, *stubTransport) {
	t.Helper()
	tr := &stubTransport{}
	m := channel.NewManager(config.ChannelConfig{}, tr)
	t.Cleanup(m.Disconnect)
	return m, tr
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func statuses(locks []rpc.Lock) map[int64]rpc.LockStatus {
	out := make(map[int64]rpc.LockStatus, len(locks))
	for _, l := range locks {
		out[l.ID] = l.Status
	}
	return out
}

var seedLocks = []rpc.Lock{
	{ID: 1, Name: "Front", Location: "Hall", Status: rpc.StatusLocked},
	{ID: 2, Name: "Back", Location: "Garden", Status: rpc.StatusUnlocked},
}

func openList(t *testing.T, src *mockSource, opts ...Option) *ListView {
	t.Helper()
	m, _ := newTestManager(t)
	v := NewListView(src, m, staticToken(""), opts...)
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(v.Close)
	return v
}

func TestListView_LastWriteWins(t *testing.T) {
	v := openList(t, newMockSource(seedLocks...))

	r := rand.New(rand.NewPCG(1, 2))
	want := statuses(v.Locks())
	for range 200 {
		id := int64(r.IntN(2) + 1)
		st := rpc.StatusLocked
		if r.IntN(2) == 0 {
			st = rpc.StatusUnlocked
		}
		v.ApplyUpdateEvent(channel.LockUpdate{ID: id, Status: st})
		want[id] = st
	}

	got := statuses(v.Locks())
	for id, st := range want {
		if got[id] != st {
			t.Errorf("lock %d status = %q, want last applied %q", id, got[id], st)
		}
	}
}

func TestListView_UnknownIDIgnored(t *testing.T) {
	v := openList(t, newMockSource(seedLocks...))
	before := v.Locks()

	if v.ApplyUpdateEvent(channel.LockUpdate{ID: 99, Status: rpc.StatusUnlocked}) {
		t.Error("ApplyUpdateEvent(unknown) reported a change")
	}
	if v.ApplyRemovedEvent(channel.LockRemoved{ID: 99}) {
		t.Error("ApplyRemovedEvent(unknown) reported a change")
	}

	after := v.Locks()
	if len(after) != len(before) {
		t.Fatalf("list length changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("entry %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
}

func TestListView_UpdateFields(t *testing.T) {
	v := openList(t, newMockSource(seedLocks...))

	name := "Front door"
	if !v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Name: &name}) {
		t.Fatal("name-only update not applied")
	}
	got := v.Locks()[0]
	if got.Name != "Front door" || got.Status != rpc.StatusLocked {
		t.Errorf("lock 1 = %+v", got)
	}

	if v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Status: "ajar"}) {
		t.Error("update with unknown status applied")
	}
	if v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Status: rpc.StatusLocked}) {
		t.Error("duplicate update reported a change")
	}
}

func TestListView_VersionRejectsOlderEvents(t *testing.T) {
	src := newMockSource(rpc.Lock{ID: 1, Status: rpc.StatusLocked, Version: 5})
	v := openList(t, src)

	if v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Status: rpc.StatusUnlocked, Version: 4}) {
		t.Error("older event applied")
	}
	if !v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Status: rpc.StatusUnlocked, Version: 6}) {
		t.Error("newer event rejected")
	}
	// Unversioned events still apply by arrival order.
	if !v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Status: rpc.StatusLocked}) {
		t.Error("unversioned event rejected")
	}
	if got := v.Locks()[0]; got.Version != 6 || got.Status != rpc.StatusLocked {
		t.Errorf("lock = %+v, want version 6 locked", got)
	}
}

func TestListView_StaleSnapshotOverwritesEvent(t *testing.T) {
	src := newMockSource(seedLocks...)
	v := openList(t, src)
	<-src.started

	// The server state is copied when the fetch starts.
	release := src.holdLists()
	errc := make(chan error, 1)
	go func() { errc <- v.LoadSnapshot(context.Background()) }()
	<-src.started

	// The push arrives while the fetch is in flight.
	v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Status: rpc.StatusUnlocked})
	if got := statuses(v.Locks())[1]; got != rpc.StatusUnlocked {
		t.Fatalf("event not applied: %q", got)
	}

	release()
	if err := <-errc; err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}

	got := statuses(v.Locks())
	if got[1] != rpc.StatusLocked || got[2] != rpc.StatusUnlocked {
		t.Errorf("final state = %v, want the fetched snapshot", got)
	}
}

func TestListView_SnapshotKeepsNewerLocalToggle(t *testing.T) {
	src := newMockSource(seedLocks...)
	v := openList(t, src)
	<-src.started

	release := src.holdLists()
	errc := make(chan error, 1)
	go func() { errc <- v.LoadSnapshot(context.Background()) }()
	<-src.started

	toggled, err := v.Toggle(context.Background(), 1)
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if toggled.Status != rpc.StatusUnlocked {
		t.Fatalf("Toggle() status = %q", toggled.Status)
	}

	// The in-flight fetch copied the server state before the toggle.
	release()
	if err := <-errc; err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if got := statuses(v.Locks())[1]; got != rpc.StatusUnlocked {
		t.Errorf("lock 1 = %q, want local toggle kept", got)
	}

	// A snapshot that starts after the toggle is authoritative again.
	src.setLocks(seedLocks...)
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := statuses(v.Locks())[1]; got != rpc.StatusLocked {
		t.Errorf("lock 1 after fresh snapshot = %q, want locked", got)
	}
}

func TestListView_SnapshotVersionNotRegressed(t *testing.T) {
	src := newMockSource(rpc.Lock{ID: 1, Status: rpc.StatusLocked, Version: 2})
	v := openList(t, src)

	v.ApplyUpdateEvent(channel.LockUpdate{ID: 1, Status: rpc.StatusUnlocked, Version: 3})
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := v.Locks()[0]; got.Version != 3 || got.Status != rpc.StatusUnlocked {
		t.Errorf("lock = %+v, want version 3 kept over stale snapshot", got)
	}
}

func TestListView_SnapshotFailureKeepsList(t *testing.T) {
	src := newMockSource(seedLocks...)
	v := openList(t, src)

	src.mu.Lock()
	src.listErr = &rpc.APIError{Method: "GET", Path: "/door-locks", Status: 503}
	src.mu.Unlock()

	err := v.Refresh(context.Background())
	if err == nil || !rpc.IsRetryable(err) {
		t.Fatalf("Refresh() error = %v, want retryable", err)
	}
	if len(v.Locks()) != 2 {
		t.Errorf("list = %v, want previous snapshot kept", v.Locks())
	}
}

func TestListView_ConcurrentLoadsShareOneRequest(t *testing.T) {
	src := newMockSource(seedLocks...)
	v := openList(t, src)
	<-src.started
	base := src.listCalls.Load()

	release := src.holdLists()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v.LoadSnapshot(context.Background()) //nolint:errcheck // state checked below
	}()
	<-src.started

	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v.LoadSnapshot(context.Background()) //nolint:errcheck // state checked below
		}()
	}
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	if n := src.listCalls.Load() - base; n != 1 {
		t.Errorf("ListLocks calls = %d, want 1 shared request", n)
	}
	if len(v.Locks()) != 2 {
		t.Errorf("Locks() = %v", v.Locks())
	}
}

func TestListView_SharedLoadSurvivesOtherCallersCancel(t *testing.T) {
	src := newMockSource(seedLocks...)
	v := openList(t, src)
	<-src.started
	base := src.listCalls.Load()

	release := src.holdLists()
	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- v.LoadSnapshot(ctx1) }()
	<-src.started

	second := make(chan error, 1)
	go func() { second <- v.LoadSnapshot(context.Background()) }()
	time.Sleep(50 * time.Millisecond)

	cancel1()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still blocked")
	}

	release()
	select {
	case err := <-second:
		if err != nil {
			t.Errorf("live caller error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live caller never returned")
	}

	if n := src.listCalls.Load() - base; n != 1 {
		t.Errorf("ListLocks calls = %d, want 1 shared request", n)
	}
	if len(v.Locks()) != 2 {
		t.Errorf("Locks() = %v", v.Locks())
	}
}

func TestListView_RemovedEvent(t *testing.T) {
	v := openList(t, newMockSource(seedLocks...))

	if !v.ApplyRemovedEvent(channel.LockRemoved{ID: 1}) {
		t.Fatal("removal not applied")
	}
	got := v.Locks()
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("list = %+v, want only lock 2", got)
	}
}

func TestListView_ToggleFailureLeavesState(t *testing.T) {
	src := newMockSource(seedLocks...)
	v := openList(t, src)

	src.mu.Lock()
	src.updateErr = rpc.ErrUnauthorized
	src.mu.Unlock()

	_, err := v.Toggle(context.Background(), 1)
	if !errors.Is(err, rpc.ErrUnauthorized) {
		t.Fatalf("Toggle() error = %v, want ErrUnauthorized", err)
	}
	if got := statuses(v.Locks())[1]; got != rpc.StatusLocked {
		t.Errorf("lock 1 = %q after failed toggle, want locked", got)
	}

	if _, err := v.Toggle(context.Background(), 42); !errors.Is(err, ErrNotInView) {
		t.Errorf("Toggle(42) error = %v, want ErrNotInView", err)
	}
}

func TestListView_LiveEventsAndClose(t *testing.T) {
	m, tr := newTestManager(t)
	src := newMockSource(seedLocks...)
	var changes atomic.Int32

	v := NewListView(src, m, staticToken("tok"), WithOnChange(func() { changes.Add(1) }))
	if err := v.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if changes.Load() == 0 {
		t.Error("onChange not called for the first snapshot")
	}

	tr.push(t, channel.KindLockUpdated, map[string]any{"id": 2, "status": "locked"})
	eventually(t, "pushed update", func() bool {
		return statuses(v.Locks())[2] == rpc.StatusLocked
	})

	v.Close()
	v.Close()
	if n := m.HandlerCount(channel.KindLockUpdated); n != 0 {
		t.Errorf("handlers after Close = %d, want 0", n)
	}
	if _, ok := m.Connection(); !ok {
		t.Error("Close tore down the shared connection")
	}
	if v.ApplyUpdateEvent(channel.LockUpdate{ID: 2, Status: rpc.StatusUnlocked}) {
		t.Error("closed view accepted an event")
	}
}

func TestListView_ResultAfterCloseIgnored(t *testing.T) {
	src := newMockSource(seedLocks...)
	v := openList(t, src)
	<-src.started

	src.setLocks(rpc.Lock{ID: 7, Status: rpc.StatusLocked})
	release := src.holdLists()
	errc := make(chan error, 1)
	go func() { errc <- v.LoadSnapshot(context.Background()) }()
	<-src.started

	v.Close()
	release()

	if err := <-errc; err != nil {
		t.Errorf("LoadSnapshot() after Close error = %v, want nil", err)
	}
	for _, l := range v.Locks() {
		if l.ID == 7 {
			t.Error("snapshot applied after Close")
		}
	}
}

func TestDetailView_FetchFailureFallsBackToSeed(t *testing.T) {
	m, _ := newTestManager(t)
	src := newMockSource()
	src.getErr = rpc.ErrRequestFailed

	v := NewDetailView(src, m, staticToken(""))
	defer v.Close()

	seed := rpc.Lock{ID: 3, Name: "Shed", Location: "Yard", Status: rpc.StatusUnlocked}
	err := v.Open(context.Background(), seed)
	if !errors.Is(err, rpc.ErrRequestFailed) {
		t.Errorf("Open() error = %v, want ErrRequestFailed", err)
	}
	got, ok := v.Lock()
	if !ok || got != seed {
		t.Errorf("Lock() = %+v, %v, want seed", got, ok)
	}

	// No token: live updates are skipped.
	if _, ok := m.Connection(); ok {
		t.Error("detail view connected without a token")
	}
	if n := m.HandlerCount(channel.KindLockUpdated); n != 0 {
		t.Errorf("handlers = %d without a token, want 0", n)
	}
}

func TestDetailView_LiveLifecycle(t *testing.T) {
	m, tr := newTestManager(t)
	src := newMockSource(seedLocks...)

	v := NewDetailView(src, m, staticToken("tok"))
	if err := v.Open(context.Background(), rpc.Lock{ID: 1}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	got, _ := v.Lock()
	if got.Name != "Front" {
		t.Errorf("Lock() = %+v, want fetched lock", got)
	}
	conn, ok := m.Connection()
	if !ok {
		t.Fatal("no connection after Open with token")
	}
	if rooms := conn.Rooms(); len(rooms) != 1 || rooms[0] != 1 {
		t.Errorf("rooms = %v, want [1]", rooms)
	}

	// Events for other locks are ignored. Delivery is ordered, so once the
	// second push lands the first has been seen.
	tr.push(t, channel.KindLockRemoved, map[string]any{"id": 2})
	tr.push(t, channel.KindLockUpdated, map[string]any{"id": 1, "status": "unlocked"})
	eventually(t, "pushed update", func() bool {
		l, _ := v.Lock()
		return l.Status == rpc.StatusUnlocked
	})
	if v.Removed() {
		t.Fatal("removal of another lock applied")
	}

	toggled, err := v.Toggle(context.Background())
	if err != nil || toggled.Status != rpc.StatusLocked {
		t.Errorf("Toggle() = %+v, %v", toggled, err)
	}

	tr.push(t, channel.KindLockRemoved, map[string]any{"id": 1})
	eventually(t, "removal", v.Removed)
	if _, ok := v.Lock(); ok {
		t.Error("Lock() still held after removal")
	}
	if _, err := v.Toggle(context.Background()); !errors.Is(err, ErrRemoved) {
		t.Errorf("Toggle() after removal error = %v, want ErrRemoved", err)
	}

	v.Close()
	if rooms := conn.Rooms(); len(rooms) != 0 {
		t.Errorf("rooms after Close = %v, want none", rooms)
	}
	if n := m.HandlerCount(channel.KindLockRemoved); n != 0 {
		t.Errorf("handlers after Close = %d, want 0", n)
	}
}

func TestDetailView_TwoViewsShareRoom(t *testing.T) {
	m, _ := newTestManager(t)
	src := newMockSource(seedLocks...)

	first := NewDetailView(src, m, staticToken("tok"))
	second := NewDetailView(src, m, staticToken("tok"))
	defer second.Close()
	for _, v := range []*DetailView{first, second} {
		if err := v.Open(context.Background(), rpc.Lock{ID: 1}); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
	}
	conn, ok := m.Connection()
	if !ok {
		t.Fatal("no connection after Open with token")
	}

	first.Close()
	if rooms := conn.Rooms(); len(rooms) != 1 || rooms[0] != 1 {
		t.Errorf("rooms after closing one view = %v, want [1]", rooms)
	}

	second.Close()
	if rooms := conn.Rooms(); len(rooms) != 0 {
		t.Errorf("rooms after closing both views = %v, want none", rooms)
	}
}

func TestDetailView_ToggleFailure(t *testing.T) {
	m, _ := newTestManager(t)
	src := newMockSource(seedLocks...)
	v := NewDetailView(src, m, staticToken(""))
	defer v.Close()
	if err := v.Open(context.Background(), seedLocks[0]); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	src.mu.Lock()
	src.updateErr = rpc.ErrRequestFailed
	src.mu.Unlock()

	if _, err := v.Toggle(context.Background()); !errors.Is(err, rpc.ErrRequestFailed) {
		t.Errorf("Toggle() error = %v", err)
	}
	if got, _ := v.Lock(); got.Status != rpc.StatusLocked {
		t.Errorf("status = %q after failed toggle, want locked", got.Status)
	}
}

type mockCreator struct {
	got   *rpc.CreateLockInput
	err   error
	calls int
}

func (m *mockCreator) CreateLock(_ context.Context, in rpc.CreateLockInput) (rpc.Lock, error) {
	m.calls++
	m.got = &in
	if m.err != nil {
		return rpc.Lock{}, m.err
	}
	return rpc.Lock{ID: 10, Name: in.Name, Location: in.Location, Status: in.Status}, nil
}

func TestCreateLock(t *testing.T) {
	tests := []struct {
		name     string
		lockName string
		location string
		err      error
		want     error
		calls    int
	}{
		{name: "valid", lockName: " Gate ", location: "Drive", calls: 1},
		{name: "missing name", lockName: " ", location: "Drive", want: ErrValidation},
		{name: "missing both", want: ErrValidation},
		{name: "backend rejects", lockName: "Gate", location: "Drive", err: rpc.ErrRejected, want: rpc.ErrRejected, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCreator{err: tt.err}
			lock, err := CreateLock(context.Background(), c, tt.lockName, tt.location)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("CreateLock() error = %v, want %v", err, tt.want)
				}
			} else if err != nil {
				t.Fatalf("CreateLock() error = %v", err)
			}
			if c.calls != tt.calls {
				t.Errorf("calls = %d, want %d", c.calls, tt.calls)
			}
			if tt.want == nil {
				if c.got.Status != rpc.StatusLocked || c.got.Name != "Gate" {
					t.Errorf("input = %+v, want trimmed name and locked status", c.got)
				}
				if lock.ID != 10 {
					t.Errorf("lock = %+v", lock)
				}
			}
		})
	}
}
