package main

import (
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		playerTimeout:  25 * time.Millisecond,
		sessionTimeout: time.Minute,
		roundSeconds:   30,
		revealWindow:   20,
		revealInterval: 5,
		preroll:        5 * time.Millisecond,
		cooldown:       5 * time.Millisecond,
		grace:          5 * time.Millisecond,
		basePoints:     30,
		floorPoints:    5,
		djBonus:        3,
		typoFloor:      2,
		typoTolerance:  0.3,
		lobbyLock:      true,
	}
}

func newTestClient(playerID string) *Client {
	return &Client{
		send:     make(chan any, 256),
		playerID: playerID,
	}
}

// joinTestPlayer registers a fresh client on the hub and joins it under the
// given name, the way readPump would after a "join" message.
func joinTestPlayer(t *testing.T, h *Hub, cfg *Config, playerID, name string) *Client {
	t.Helper()

	c := newTestClient(playerID)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	h.handleJoin(cfg, joinRequest{client: c, msg: ClientMessage{Type: "join", Name: name}})

	if hubPlayer(h, playerID) == nil {
		t.Fatalf("player %q did not join", name)
	}

	return c
}

func hubPlayer(h *Hub, playerID string) *Player {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.findPlayerLocked(playerID)
}

func hubPhase(h *Hub) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.phase
}

// drain empties a client's send buffer and returns everything received.
func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func lastLoginError(c *Client) (LoginErrorMessage, bool) {
	var last LoginErrorMessage
	found := false
	for _, msg := range drain(c) {
		if le, ok := msg.(LoginErrorMessage); ok {
			last = le
			found = true
		}
	}
	return last, found
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", what)
}

func TestJoinOrderAndHost(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	joinTestPlayer(t, h, cfg, "a", "Alice")
	joinTestPlayer(t, h, cfg, "b", "Bob")

	h.mu.RLock()
	defer h.mu.RUnlock()

	if got := h.hostIDLocked(); got != "a" {
		t.Errorf("host = %q, want %q", got, "a")
	}
	if len(h.players) != 2 || h.players[0].Name != "Alice" || h.players[1].Name != "Bob" {
		t.Errorf("unexpected roster: %+v", h.players)
	}
}

func TestJoinRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	joinTestPlayer(t, h, cfg, "a", "Alice")

	c := newTestClient("b")
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	h.handleJoin(cfg, joinRequest{client: c, msg: ClientMessage{Type: "join", Name: "alice"}})

	if _, found := lastLoginError(c); !found {
		t.Error("expected a login_error for a duplicate name")
	}
	if hubPlayer(h, "b") != nil {
		t.Error("duplicate-named player should not have joined")
	}
}

func TestJoinRejectsBadNames(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	for _, name := range []string{"", "   ", "abcdefghijklmnopqrstuvwxy"} {
		c := newTestClient("x")
		h.mu.Lock()
		h.clients[c] = true
		h.mu.Unlock()

		h.handleJoin(cfg, joinRequest{client: c, msg: ClientMessage{Type: "join", Name: name}})

		if _, found := lastLoginError(c); !found {
			t.Errorf("expected a login_error for name %q", name)
		}
	}
}

func TestLobbyLockRejectsLateJoin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	host := joinTestPlayer(t, h, cfg, "a", "Alice")
	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "open_selection"}})

	if got := hubPhase(h); got != phaseSelection {
		t.Fatalf("phase = %q, want %q", got, phaseSelection)
	}

	late := newTestClient("b")
	h.mu.Lock()
	h.clients[late] = true
	h.mu.Unlock()

	h.handleJoin(cfg, joinRequest{client: late, msg: ClientMessage{Type: "join", Name: "Bob"}})

	if _, found := lastLoginError(late); !found {
		t.Error("expected a login_error while the lobby is locked")
	}
	if hubPlayer(h, "b") != nil {
		t.Error("late joiner should have been rejected")
	}
}

func TestLobbyLockDisabledAllowsLateJoin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.lobbyLock = false
	h := newHub("test", nil)

	host := joinTestPlayer(t, h, cfg, "a", "Alice")
	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "open_selection"}})

	joinTestPlayer(t, h, cfg, "b", "Bob")
}

func TestRejoinUpdatesNameKeepsSeat(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	c := joinTestPlayer(t, h, cfg, "a", "Alice")
	joinTestPlayer(t, h, cfg, "b", "Bob")

	h.handleJoin(cfg, joinRequest{client: c, msg: ClientMessage{Type: "join", Name: "Alicia", Color: "#123456"}})

	p := hubPlayer(h, "a")
	if p == nil || p.Name != "Alicia" || p.Color != "#123456" {
		t.Fatalf("rejoin did not update player: %+v", p)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.players) != 2 {
		t.Errorf("rejoin should not add a seat: %d players", len(h.players))
	}
	if got := h.hostIDLocked(); got != "a" {
		t.Errorf("host = %q, want %q", got, "a")
	}
}

func TestNonHostCommandsIgnored(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	joinTestPlayer(t, h, cfg, "a", "Alice")
	bob := joinTestPlayer(t, h, cfg, "b", "Bob")

	h.handleHostCommand(cfg, hostCommand{client: bob, msg: ClientMessage{Type: "open_selection"}})

	if got := hubPhase(h); got != phaseLobby {
		t.Errorf("phase = %q, want %q after non-host command", got, phaseLobby)
	}
}

func TestSubmitRejectsIncompleteTrack(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	c := joinTestPlayer(t, h, cfg, "a", "Alice")
	drain(c)

	h.handleSubmit(cfg, submitRequest{client: c, msg: ClientMessage{
		Type:  "submit_song",
		Track: &Track{Title: "Uptown Funk", Artist: "Mark Ronson"},
	}})

	gotError := false
	for _, msg := range drain(c) {
		if sm, ok := msg.(SimpleMessage); ok && sm.Type == "submit_error" {
			gotError = true
		}
	}
	if !gotError {
		t.Error("expected a submit_error for a track without a preview")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.queue) != 0 {
		t.Errorf("queue = %d tracks, want 0", len(h.queue))
	}
	if h.players[0].Submitted {
		t.Error("player should not be marked submitted")
	}
}

func TestResubmitReplacesTrack(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	c := joinTestPlayer(t, h, cfg, "a", "Alice")

	first := &Track{Title: "Uptown Funk", Artist: "Mark Ronson", PreviewURL: "https://example.com/1.m4a"}
	second := &Track{Title: "Celebration", Artist: "Kool & The Gang", PreviewURL: "https://example.com/2.m4a"}

	h.handleSubmit(cfg, submitRequest{client: c, msg: ClientMessage{Type: "submit_song", Track: first}})
	h.handleSubmit(cfg, submitRequest{client: c, msg: ClientMessage{Type: "submit_song", Track: second}})

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.queue) != 1 {
		t.Fatalf("queue = %d tracks, want 1", len(h.queue))
	}
	if h.queue[0].Title != "Celebration" {
		t.Errorf("queued track = %q, want the replacement", h.queue[0].Title)
	}
	if !h.readyLocked() {
		t.Error("hub should be ready once every player has submitted")
	}
}

func TestKickRemovesPlayer(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	host := joinTestPlayer(t, h, cfg, "a", "Alice")
	bob := joinTestPlayer(t, h, cfg, "b", "Bob")
	drain(bob)

	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "kick", Target: "b"}})

	gotKicked := false
	for _, msg := range drain(bob) {
		if sm, ok := msg.(SimpleMessage); ok && sm.Type == "kicked" {
			gotKicked = true
		}
	}
	if !gotKicked {
		t.Error("kicked player should have been notified")
	}
	if hubPlayer(h, "b") != nil {
		t.Error("kicked player should have been removed")
	}
	if hubPlayer(h, "a") == nil {
		t.Error("host should survive the kick")
	}
}

func TestKickDoesNotBlockOnFullBuffer(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	host := joinTestPlayer(t, h, cfg, "a", "Alice")
	bob := joinTestPlayer(t, h, cfg, "b", "Bob")

filling:
	for {
		select {
		case bob.send <- SimpleMessage{}:
		default:
			break filling
		}
	}

	done := make(chan struct{})
	go func() {
		h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "kick", Target: "b"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("kick stalled on a full client buffer")
	}

	if hubPlayer(h, "b") != nil {
		t.Error("kicked player should have been removed")
	}
}

func TestStartGameRequiresSelectionPhase(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	host := joinTestPlayer(t, h, cfg, "a", "Alice")
	h.handleSubmit(cfg, submitRequest{client: host, msg: ClientMessage{
		Type:  "submit_song",
		Track: &Track{Title: "Uptown Funk", Artist: "Mark Ronson", PreviewURL: "https://example.com/1.m4a"},
	}})

	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "start_game"}})

	if got := hubPhase(h); got != phaseLobby {
		t.Fatalf("phase = %q after start_game from the lobby, want %q", got, phaseLobby)
	}

	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "open_selection"}})
	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "start_game"}})

	if got := hubPhase(h); got != phasePlaying {
		t.Errorf("phase = %q after start_game from selection, want %q", got, phasePlaying)
	}
}

func TestDisconnectMidRoundEndsEarly(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	dj := joinTestPlayer(t, h, cfg, "dj", "Daria")
	gus := joinTestPlayer(t, h, cfg, "gus", "Gus")
	carol := joinTestPlayer(t, h, cfg, "carol", "Carol")

	h.handleSubmit(cfg, submitRequest{client: dj, msg: ClientMessage{
		Type:  "submit_song",
		Track: &Track{Title: "Uptown Funk", Artist: "Mark Ronson", PreviewURL: "https://example.com/1.m4a"},
	}})

	h.mu.Lock()
	h.phase = phasePlaying
	h.startRoundLocked(cfg)
	h.mu.Unlock()

	h.handleGuess(cfg, guessRequest{client: gus, msg: ClientMessage{Type: "guess", Text: "uptown funk"}})

	h.mu.RLock()
	active := h.roundActive
	h.mu.RUnlock()
	if !active {
		t.Fatal("round should still be running with one guesser outstanding")
	}

	h.handleUnregister(cfg, carol)

	waitFor(t, 2*time.Second, "early round end", func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return !h.roundActive
	})
}

func TestKickCannotTargetSelf(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	host := joinTestPlayer(t, h, cfg, "a", "Alice")
	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "kick", Target: "a"}})

	if hubPlayer(h, "a") == nil {
		t.Error("host should not be able to kick themselves")
	}
}

func TestDisconnectTimeoutPromotesNextHost(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	alice := joinTestPlayer(t, h, cfg, "a", "Alice")
	joinTestPlayer(t, h, cfg, "b", "Bob")
	joinTestPlayer(t, h, cfg, "c", "Carol")

	h.handleUnregister(cfg, alice)

	waitFor(t, 2*time.Second, "host promotion", func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.findPlayerLocked("a") == nil && h.hostIDLocked() == "b"
	})
}

func TestReconnectWithinGraceKeepsSeat(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	joinTestPlayer(t, h, cfg, "a", "Alice")
	bob := joinTestPlayer(t, h, cfg, "b", "Bob")

	h.handleUnregister(cfg, bob)

	again := newTestClient("b")
	h.handleRegister(again)

	time.Sleep(4 * cfg.playerTimeout)

	if hubPlayer(h, "b") == nil {
		t.Error("reconnected player should have kept their seat")
	}
}

func TestRegisterReportsExistingSession(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	joinTestPlayer(t, h, cfg, "a", "Alice")

	again := newTestClient("a")
	h.handleRegister(again)

	var info SessionInfoMessage
	found := false
	for _, msg := range drain(again) {
		if si, ok := msg.(SessionInfoMessage); ok {
			info = si
			found = true
		}
	}

	if !found {
		t.Fatal("expected a session_info message on register")
	}
	if !info.IsExisting || !info.IsHost || info.Name != "Alice" {
		t.Errorf("unexpected session info: %+v", info)
	}
}

func TestLastPlayerLeavingResetsSession(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	host := joinTestPlayer(t, h, cfg, "a", "Alice")
	h.handleSubmit(cfg, submitRequest{client: host, msg: ClientMessage{
		Type:  "submit_song",
		Track: &Track{Title: "Uptown Funk", Artist: "Mark Ronson", PreviewURL: "https://example.com/1.m4a"},
	}})
	h.handleHostCommand(cfg, hostCommand{client: host, msg: ClientMessage{Type: "open_selection"}})

	h.handleUnregister(cfg, host)

	waitFor(t, 2*time.Second, "session reset", func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.players) == 0 && h.phase == phaseLobby && len(h.queue) == 0
	})
}
