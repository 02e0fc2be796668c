package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/elock-client/internal/access"
	"github.com/nerrad567/elock-client/internal/fakebackend"
	"github.com/nerrad567/elock-client/internal/infrastructure/config"
	"github.com/nerrad567/elock-client/internal/rpc"
	"github.com/nerrad567/elock-client/internal/session"
)

type fixture struct {
	fb    *fakebackend.Server
	app   *App
	alice rpc.User
	bob   rpc.User
	front rpc.Lock
}

func newFixture(t *testing.T, fbOpts ...fakebackend.Option) *fixture {
	t.Helper()
	fb := fakebackend.New(fbOpts...)
	srv := httptest.NewServer(fb.Handler())
	t.Cleanup(func() {
		fb.Close()
		srv.Close()
	})

	cfg := config.Default()
	cfg.API.BaseURL = srv.URL
	cfg.API.Timeout = 5
	cfg.Channel.URL = ""
	cfg.Channel.Transport = config.TransportWebSocket

	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(a.Close)

	f := &fixture{fb: fb, app: a}
	f.alice = fb.AddUser("Alice", "alice@example.com", "secret1")
	f.bob = fb.AddUser("Bob", "bob@example.com", "secret2")
	f.front = fb.AddLock(f.alice.ID, "Front", "Hall", rpc.StatusLocked)
	return f
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	if _, err := f.app.SignIn(context.Background(), "alice@example.com", "secret1"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		want   error
	}{
		{
			name:   "unknown transport",
			modify: func(c *config.Config) { c.Channel.Transport = "carrier-pigeon" },
			want:   ErrUnknownTransport,
		},
		{
			name:   "unknown lookup mode",
			modify: func(c *config.Config) { c.API.UserLookup = "guess" },
			want:   access.ErrUnknownLookupMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)
			_, err := New(cfg, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNew_SelectsMQTTTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Channel.Transport = config.TransportMQTT
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	// Nothing dials until a view opens with a token.
	if _, ok := a.Events.Connection(); ok {
		t.Error("Connection() present before any view opened")
	}
}

func TestSignInAndLiveList(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)
	ctx := context.Background()

	list := f.app.LockList()
	defer list.Close()
	if err := list.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := list.Locks(); len(got) != 1 || got[0].ID != f.front.ID {
		t.Fatalf("Locks() = %+v, want the front lock", got)
	}

	eventually(t, "channel authentication", func() bool { return f.fb.Authenticated() == 1 })

	f.fb.SetLockStatus(f.front.ID, rpc.StatusUnlocked)
	eventually(t, "pushed unlock", func() bool {
		got := list.Locks()
		return len(got) == 1 && got[0].Status == rpc.StatusUnlocked
	})

	toggled, err := list.Toggle(ctx, f.front.ID)
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if toggled.Status != rpc.StatusLocked {
		t.Errorf("Toggle() status = %s, want locked", toggled.Status)
	}
	if l, _ := f.fb.Lock(f.front.ID); l.Status != rpc.StatusLocked {
		t.Errorf("backend status = %s, want locked", l.Status)
	}
}

func TestDetailJoinsRoom(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	detail := f.app.LockDetail()
	if err := detail.Open(context.Background(), f.front); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	eventually(t, "room join", func() bool { return f.fb.RoomSize(f.front.ID) == 1 })

	f.fb.RemoveLock(f.front.ID)
	eventually(t, "removal", detail.Removed)

	detail.Close()
	eventually(t, "room leave", func() bool { return f.fb.RoomSize(f.front.ID) == 0 })
}

func TestSignOutClosesChannel(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	list := f.app.LockList()
	defer list.Close()
	if err := list.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	eventually(t, "channel authentication", func() bool { return f.fb.Authenticated() == 1 })

	f.app.SignOut()

	if _, ok := f.app.Events.Connection(); ok {
		t.Error("Connection() still present after SignOut")
	}
	eventually(t, "server-side disconnect", func() bool { return f.fb.ClientCount() == 0 })
}

func TestShareAndRevoke(t *testing.T) {
	tests := []struct {
		name   string
		fbOpts []fakebackend.Option
	}{
		{name: "indexed lookup"},
		{name: "scan fallback", fbOpts: []fakebackend.Option{fakebackend.WithoutUserLookup()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.fbOpts...)
			f.signIn(t)
			ctx := context.Background()

			view := f.app.Access(f.front.ID)
			defer view.Close()
			if err := view.Load(ctx); err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			user, err := view.Share(ctx, " BOB@example.com ")
			if err != nil {
				t.Fatalf("Share() error = %v", err)
			}
			if user.ID != f.bob.ID {
				t.Errorf("Share() user = %d, want %d", user.ID, f.bob.ID)
			}
			if n := len(f.fb.Grants(f.front.ID)); n != 2 {
				t.Fatalf("backend grants = %d, want 2", n)
			}

			var guest int64
			for _, e := range view.Entries() {
				if e.Revocable {
					guest = e.Grant.ID
				}
			}
			if guest == 0 {
				t.Fatalf("no revocable entry in %+v", view.Entries())
			}
			if err := view.Revoke(ctx, guest); err != nil {
				t.Fatalf("Revoke() error = %v", err)
			}
			if n := len(view.Entries()); n != 1 {
				t.Errorf("Entries() = %d, want 1", n)
			}
			if n := len(f.fb.Grants(f.front.ID)); n != 1 {
				t.Errorf("backend grants = %d, want 1", n)
			}
		})
	}
}

func TestShareUnknownEmail(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	view := f.app.Access(f.front.ID)
	defer view.Close()
	_, err := view.Share(context.Background(), "nobody@example.com")
	if !errors.Is(err, access.ErrUserNotFound) {
		t.Errorf("Share() error = %v, want ErrUserNotFound", err)
	}
}

func TestRegisterAndCreateLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.app.Register(ctx, session.RegisterInput{
		Name:            "Carol",
		Email:           "carol@example.com",
		Password:        "secret3",
		ConfirmPassword: "secret3",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if s.User.Email != "carol@example.com" {
		t.Errorf("Register() user = %+v", s.User)
	}

	l, err := f.app.CreateLock(ctx, "Shed", "Garden")
	if err != nil {
		t.Fatalf("CreateLock() error = %v", err)
	}
	if l.Status != rpc.StatusLocked {
		t.Errorf("CreateLock() status = %s, want locked", l.Status)
	}
	grants := f.fb.Grants(l.ID)
	if len(grants) != 1 || grants[0].UserID != s.User.ID || grants[0].Role != rpc.RoleOwner {
		t.Errorf("grants = %+v, want one owner grant for the new user", grants)
	}
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	token, err := f.fb.Token(f.alice.ID)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	if _, err := f.app.Resume(token); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := f.app.Session.Token(); got != token {
		t.Error("Token() differs from the resumed token")
	}

	locks, err := f.app.API.ListLocks(context.Background())
	if err != nil {
		t.Fatalf("ListLocks() error = %v", err)
	}
	if len(locks) != 1 {
		t.Errorf("ListLocks() = %d locks, want 1", len(locks))
	}
}
