package main

import (
	"fmt"
	"sort"
	"time"
	"unicode"

	"github.com/enescakir/emoji"
	"github.com/valyala/fastrand"
)

// The round scheduler. Each round runs a 1 Hz countdown with progressive
// hint reveals, ends early once every eligible guesser has answered, and
// hands off to the next round (or the results screen) on cancellable timers.
// Every scheduled callback carries the round generation it was created
// under and no-ops if the hub has moved on since.

// startGameLocked shuffles the queue and schedules round zero.
func (h *Hub) startGameLocked(cfg *Config) {
	shuffleTracks(h.queue)
	h.phase = phasePlaying
	h.trackIdx = 0
	h.roundGen++
	gen := h.roundGen

	logf(cfg, "GAMES: Game started in %s with %d tracks", h.id, len(h.queue))

	h.broadcastLocked(GameStartedMessage{
		Type:       "game_started",
		TrackCount: len(h.queue),
	})

	time.AfterFunc(cfg.preroll, func() {
		h.startRound(cfg, gen)
	})
}

func (h *Hub) startRound(cfg *Config, gen int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roundGen != gen || h.phase != phasePlaying {
		return
	}

	h.startRoundLocked(cfg)
}

func (h *Hub) startRoundLocked(cfg *Config) {
	if h.trackIdx >= len(h.queue) {
		h.finishGameLocked(cfg)
		return
	}

	h.roundGen++
	gen := h.roundGen

	track := h.queue[h.trackIdx]

	h.roundActive = true
	h.roundStart = time.Now()
	h.remaining = cfg.roundSeconds
	h.winners = make(map[string]bool)
	h.djBonus = 0
	h.hintMask = maskTitle(track.Title)
	h.revealOrder = hiddenPositions(track.Title)
	shuffleInts(h.revealOrder)

	logf(cfg, "GAMES: Round %d/%d started in %s", h.trackIdx+1, len(h.queue), h.id)

	h.broadcastLocked(PlayTrackMessage{
		Type:        "play_track",
		Round:       h.trackIdx,
		TotalTracks: len(h.queue),
		Seconds:     h.remaining,
		PreviewURL:  track.PreviewURL,
		AddedByName: track.AddedByName,
		Hint:        string(h.hintMask),
	})

	go h.runCountdown(cfg, gen)
}

func (h *Hub) runCountdown(cfg *Config, gen int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if !h.tick(cfg, gen) {
			return
		}
	}
}

// tick advances the countdown by one second. Returns false once this
// round's countdown is over, superseded, or cancelled.
func (h *Hub) tick(cfg *Config, gen int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roundGen != gen || !h.roundActive {
		return false
	}

	h.remaining--

	h.broadcastLocked(CountdownMessage{
		Type:    "countdown",
		Seconds: h.remaining,
	})

	if shouldReveal(h.remaining, cfg.revealWindow, cfg.revealInterval) {
		h.revealOneLocked()
	}

	if h.remaining <= 0 {
		h.endRoundLocked(cfg)
		return false
	}

	return true
}

// shouldReveal reports whether a hint character is due at the given number
// of remaining seconds: within the reveal window, on interval boundaries.
func shouldReveal(remaining, window, interval int) bool {
	return remaining > 0 && remaining <= window && interval > 0 && remaining%interval == 0
}

func (h *Hub) revealOneLocked() {
	if len(h.revealOrder) == 0 || h.trackIdx >= len(h.queue) {
		return
	}

	pos := h.revealOrder[0]
	h.revealOrder = h.revealOrder[1:]

	title := []rune(h.queue[h.trackIdx].Title)
	if pos >= len(title) {
		return
	}

	h.hintMask[pos] = title[pos]

	h.broadcastLocked(RevealHintMessage{
		Type:      "reveal_hint",
		Position:  pos,
		Character: string(title[pos]),
	})
}

// eligibleLocked is the number of players who may score this round: everyone
// present except the track's submitter.
func (h *Hub) eligibleLocked() int {
	if h.trackIdx >= len(h.queue) {
		return 0
	}
	dj := h.queue[h.trackIdx].AddedBy

	n := 0
	for _, p := range h.players {
		if p.PlayerID != dj {
			n++
		}
	}
	return n
}

// maybeEndEarlyLocked schedules the round end once every eligible guesser
// has answered correctly, rather than waiting out the countdown.
func (h *Hub) maybeEndEarlyLocked(cfg *Config) {
	if !h.roundActive {
		return
	}

	eligible := h.eligibleLocked()
	if eligible == 0 || len(h.winners) < eligible {
		return
	}

	gen := h.roundGen
	time.AfterFunc(cfg.grace, func() {
		h.endRound(cfg, gen)
	})
}

func (h *Hub) endRound(cfg *Config, gen int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.roundGen != gen || !h.roundActive {
		return
	}

	h.endRoundLocked(cfg)
}

// endRoundLocked reveals the answer and advances the queue. Bumping the
// generation first cancels the countdown and any pending grace timer.
func (h *Hub) endRoundLocked(cfg *Config) {
	h.roundGen++
	h.roundActive = false

	track := h.queue[h.trackIdx]

	var summary string
	if h.djBonus > 0 {
		summary = fmt.Sprintf("%v %s earned %d bonus points as dj", emoji.MusicalNote, track.AddedByName, h.djBonus)
	}

	h.broadcastLocked(RoundEndedMessage{
		Type:        "round_ended",
		Title:       track.Title,
		Artist:      track.Artist,
		ArtworkURL:  track.ArtworkURL,
		AddedByName: track.AddedByName,
		Summary:     summary,
		Roster:      h.rosterLocked(),
	})

	logf(cfg, "GAMES: Round %d/%d ended in %s", h.trackIdx+1, len(h.queue), h.id)

	h.trackIdx++

	if h.trackIdx >= len(h.queue) {
		h.finishGameLocked(cfg)
		return
	}

	gen := h.roundGen
	time.AfterFunc(cfg.cooldown, func() {
		h.startRound(cfg, gen)
	})
}

func (h *Hub) finishGameLocked(cfg *Config) {
	h.phase = phaseResults
	h.roundActive = false
	h.roundGen++

	scores := h.rosterLocked()
	sortScoresDesc(scores)

	h.broadcastLocked(GameFinishedMessage{
		Type:   "game_finished",
		Scores: scores,
	})

	if len(scores) > 0 {
		h.broadcastLocked(ChatMessage{
			Type: "chat_message",
			Name: scores[0].Name,
			Text: fmt.Sprintf("%v %s wins with %d points!", emoji.Trophy, scores[0].Name, scores[0].Score),
			Kind: chatKindPlain,
		})
	}

	logf(cfg, "GAMES: Game finished in %s", h.id)
}

func sortScoresDesc(scores []RosterEntry) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
}

// maskTitle hides every alphanumeric character of the title behind an
// underscore; spaces and punctuation stay visible.
func maskTitle(title string) []rune {
	mask := []rune(title)
	for i, r := range mask {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			mask[i] = '_'
		}
	}
	return mask
}

func hiddenPositions(title string) []int {
	runes := []rune(title)
	positions := make([]int, 0, len(runes))
	for i, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			positions = append(positions, i)
		}
	}
	return positions
}

// Fisher-Yates; a sort-by-random-comparator is not uniform and is never
// used here.
func shuffleTracks(tracks []Track) {
	for i := len(tracks) - 1; i > 0; i-- {
		j := int(fastrand.Uint32n(uint32(i + 1)))
		tracks[i], tracks[j] = tracks[j], tracks[i]
	}
}

func shuffleInts(xs []int) {
	for i := len(xs) - 1; i > 0; i-- {
		j := int(fastrand.Uint32n(uint32(i + 1)))
		xs[i], xs[j] = xs[j], xs[i]
	}
}
