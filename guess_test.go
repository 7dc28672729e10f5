package main

import (
	"testing"
	"time"
)

// newGuessHub builds a hub with a dj ("Daria") whose track is playing and a
// second player ("Gus") free to guess. Timers are pushed far out so the
// round stays active for the duration of the test.
func newGuessHub(t *testing.T, cfg *Config) (*Hub, *Client, *Client) {
	t.Helper()

	cfg.grace = time.Hour
	cfg.cooldown = time.Hour

	h := newHub("test", nil)

	dj := joinTestPlayer(t, h, cfg, "dj", "Daria")
	gus := joinTestPlayer(t, h, cfg, "gus", "Gus")

	h.handleSubmit(cfg, submitRequest{client: dj, msg: ClientMessage{
		Type:  "submit_song",
		Track: &Track{Title: "Uptown Funk", Artist: "Mark Ronson", PreviewURL: "https://example.com/1.m4a"},
	}})

	h.mu.Lock()
	h.phase = phasePlaying
	h.startRoundLocked(cfg)
	h.mu.Unlock()

	drain(dj)
	drain(gus)

	return h, dj, gus
}

func guess(h *Hub, cfg *Config, c *Client, text string) {
	h.handleGuess(cfg, guessRequest{client: c, msg: ClientMessage{Type: "guess", Text: text}})
}

func TestScorePoints(t *testing.T) {
	t.Parallel()

	if got := scorePoints(0, 30, 5); got != 30 {
		t.Errorf("instant guess = %d points, want 30", got)
	}
	if got := scorePoints(10*time.Second, 30, 5); got != 20 {
		t.Errorf("guess at 10s = %d points, want 20", got)
	}
	if got := scorePoints(40*time.Second, 30, 5); got != 5 {
		t.Errorf("late guess = %d points, want the floor of 5", got)
	}

	prev := scorePoints(0, 30, 5)
	for s := 1; s <= 40; s++ {
		cur := scorePoints(time.Duration(s)*time.Second, 30, 5)
		if cur > prev {
			t.Fatalf("points increased over time: %d -> %d at %ds", prev, cur, s)
		}
		prev = cur
	}
}

func TestCorrectGuessScoresAndPaysDj(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, dj, gus := newGuessHub(t, cfg)

	guess(h, cfg, gus, "uptown funk")

	p := hubPlayer(h, "gus")
	if p.Score < cfg.floorPoints || p.Score > cfg.basePoints {
		t.Errorf("guesser score = %d, want within [%d, %d]", p.Score, cfg.floorPoints, cfg.basePoints)
	}
	if got := hubPlayer(h, "dj").Score; got != cfg.djBonus {
		t.Errorf("dj score = %d, want the bonus of %d", got, cfg.djBonus)
	}

	h.mu.RLock()
	if !h.winners["gus"] {
		t.Error("guesser should be marked as a winner")
	}
	h.mu.RUnlock()

	var result GuessResultMessage
	found := false
	for _, msg := range drain(gus) {
		if gr, ok := msg.(GuessResultMessage); ok && gr.Correct {
			result = gr
			found = true
		}
	}
	if !found {
		t.Fatal("guesser should have received a correct guess_result")
	}
	if result.Points != p.Score {
		t.Errorf("guess_result points = %d, want %d", result.Points, p.Score)
	}

	announced := false
	for _, msg := range drain(dj) {
		if cm, ok := msg.(ChatMessage); ok && cm.Kind == chatKindCorrect {
			announced = true
		}
	}
	if !announced {
		t.Error("correct guess should have been announced to the room")
	}
}

func TestTypoStillScores(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, _, gus := newGuessHub(t, cfg)

	guess(h, cfg, gus, "uptown funkk")

	if got := hubPlayer(h, "gus").Score; got < cfg.floorPoints {
		t.Errorf("typo guess scored %d, want at least %d", got, cfg.floorPoints)
	}
}

func TestWinnerCannotScoreTwice(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, _, gus := newGuessHub(t, cfg)

	guess(h, cfg, gus, "uptown funk")
	before := hubPlayer(h, "gus").Score
	drain(gus)

	guess(h, cfg, gus, "uptown funk")

	if got := hubPlayer(h, "gus").Score; got != before {
		t.Errorf("score changed on repeat guess: %d -> %d", before, got)
	}

	warned := false
	for _, msg := range drain(gus) {
		if gr, ok := msg.(GuessResultMessage); ok && !gr.Correct && gr.Message != "" {
			warned = true
		}
	}
	if !warned {
		t.Error("repeat winner should have been warned privately")
	}
}

func TestWinnerChatStaysOffTheTitle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, dj, gus := newGuessHub(t, cfg)

	guess(h, cfg, gus, "uptown funk")
	drain(dj)

	guess(h, cfg, gus, "great pick!")

	broadcast := false
	for _, msg := range drain(dj) {
		if cm, ok := msg.(ChatMessage); ok && cm.Kind == chatKindWinner && cm.Text == "great pick!" {
			broadcast = true
		}
	}
	if !broadcast {
		t.Error("harmless winner chat should reach the room")
	}
}

func TestDjCannotScoreOwnTrack(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, dj, _ := newGuessHub(t, cfg)

	guess(h, cfg, dj, "uptown funk")

	if got := hubPlayer(h, "dj").Score; got != 0 {
		t.Errorf("dj score = %d after guessing own track, want 0", got)
	}

	warned := false
	for _, msg := range drain(dj) {
		if gr, ok := msg.(GuessResultMessage); ok && gr.Message != "" {
			warned = true
		}
	}
	if !warned {
		t.Error("dj should have been warned privately")
	}
}

func TestArtistOnlyGuessRejectedByDefault(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, _, gus := newGuessHub(t, cfg)

	guess(h, cfg, gus, "Mark Ronson")

	if got := hubPlayer(h, "gus").Score; got != 0 {
		t.Errorf("artist-only guess scored %d, want 0", got)
	}

	nudged := false
	for _, msg := range drain(gus) {
		if gr, ok := msg.(GuessResultMessage); ok && !gr.Correct && gr.Message != "" {
			nudged = true
		}
	}
	if !nudged {
		t.Error("artist-only guess should get a private nudge")
	}
}

func TestArtistGuessScoresWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.countArtist = true
	h, _, gus := newGuessHub(t, cfg)

	guess(h, cfg, gus, "Mark Ronson")

	if got := hubPlayer(h, "gus").Score; got < cfg.floorPoints {
		t.Errorf("artist guess scored %d with --count-artist, want at least %d", got, cfg.floorPoints)
	}
}

func TestWrongGuessBecomesChat(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, dj, gus := newGuessHub(t, cfg)

	guess(h, cfg, gus, "celebration")

	if got := hubPlayer(h, "gus").Score; got != 0 {
		t.Errorf("wrong guess scored %d, want 0", got)
	}

	broadcast := false
	for _, msg := range drain(dj) {
		if cm, ok := msg.(ChatMessage); ok && cm.Kind == chatKindWrong && cm.Text == "celebration" {
			broadcast = true
		}
	}
	if !broadcast {
		t.Error("wrong guess should be mirrored to the room")
	}
}

func TestGuessOutsideRoundIsPlainChat(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h := newHub("test", nil)

	alice := joinTestPlayer(t, h, cfg, "a", "Alice")
	bob := joinTestPlayer(t, h, cfg, "b", "Bob")
	drain(alice)

	guess(h, cfg, bob, "hello everyone")

	broadcast := false
	for _, msg := range drain(alice) {
		if cm, ok := msg.(ChatMessage); ok && cm.Kind == chatKindPlain && cm.Text == "hello everyone" {
			broadcast = true
		}
	}
	if !broadcast {
		t.Error("lobby chat should be broadcast as-is")
	}
	if got := hubPlayer(h, "b").Score; got != 0 {
		t.Errorf("lobby chat scored %d points, want 0", got)
	}
}

func TestUnknownSenderIsDropped(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, dj, _ := newGuessHub(t, cfg)

	stranger := newTestClient("stranger")
	h.mu.Lock()
	h.clients[stranger] = true
	h.mu.Unlock()

	guess(h, cfg, stranger, "uptown funk")

	if msgs := drain(dj); len(msgs) != 0 {
		t.Errorf("guess from a non-player leaked %d messages", len(msgs))
	}
}
