package main

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Guess evaluation. Every incoming line of text is either a scoring attempt
// or chat, decided by who sent it and when; the outcome is mirrored to all
// clients with a kind tag, and the sender gets a private acknowledgment.

// scorePoints computes the award for a correct guess: base points minus one
// per elapsed second, clamped to the floor so even a buzzer-beater pays out.
func scorePoints(elapsed time.Duration, basePoints, floorPoints int) int {
	points := int(math.Ceil(float64(basePoints) - elapsed.Seconds()))
	if points < floorPoints {
		points = floorPoints
	}
	return points
}

// handleGuess processes "guess" messages. Decision order, first rule wins:
// outside an active round everything is chat; winners and the dj can chat
// but never score (and get warned instead of broadcast if they would spoil
// the title); everyone else runs through the matcher.
func (h *Hub) handleGuess(cfg *Config, gr guessRequest) {
	c := gr.client
	text := strings.TrimSpace(gr.msg.Text)

	if text == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	player := h.findPlayerLocked(c.playerID)
	if player == nil {
		return
	}

	if h.phase != phasePlaying || !h.roundActive || h.trackIdx >= len(h.queue) {
		h.broadcastLocked(ChatMessage{
			Type:  "chat_message",
			Name:  player.Name,
			Text:  text,
			Kind:  chatKindPlain,
			Color: player.Color,
		})
		h.sendLocked(c, GuessResultMessage{Type: "guess_result", Silent: true})
		return
	}

	track := h.queue[h.trackIdx]
	guess := normalizeText(text)
	title := normalizeText(track.Title)
	artist := normalizeText(track.Artist)

	spoils := matchesTitle(guess, title, cfg.typoFloor, cfg.typoTolerance)

	if h.winners[player.PlayerID] {
		if spoils {
			h.sendLocked(c, GuessResultMessage{
				Type:    "guess_result",
				Message: "You already got it; don't spoil it for the others!",
			})
			return
		}
		h.broadcastLocked(ChatMessage{
			Type:  "chat_message",
			Name:  player.Name,
			Text:  text,
			Kind:  chatKindWinner,
			Color: player.Color,
		})
		return
	}

	if track.AddedBy == player.PlayerID {
		if spoils {
			h.sendLocked(c, GuessResultMessage{
				Type:    "guess_result",
				Message: "That's your own song; no spoiling!",
			})
			return
		}
		h.broadcastLocked(ChatMessage{
			Type:  "chat_message",
			Name:  player.Name,
			Text:  text,
			Kind:  chatKindDj,
			Color: player.Color,
		})
		return
	}

	artistOnly := !spoils && artist != "" && matchesTitle(guess, artist, cfg.typoFloor, cfg.typoTolerance)

	switch {
	case spoils || (artistOnly && cfg.countArtist):
		h.awardLocked(cfg, player, track)

	case artistOnly:
		h.sendLocked(c, GuessResultMessage{
			Type:    "guess_result",
			Message: "That's the artist; we need the title!",
		})

	default:
		h.broadcastLocked(ChatMessage{
			Type:  "chat_message",
			Name:  player.Name,
			Text:  text,
			Kind:  chatKindWrong,
			Color: player.Color,
		})
		h.sendLocked(c, GuessResultMessage{Type: "guess_result", Silent: true})
	}
}

// awardLocked scores a correct guess: points for the guesser by elapsed
// time, a fixed bonus for the dj, and a possible early round end.
func (h *Hub) awardLocked(cfg *Config, player *Player, track Track) {
	points := scorePoints(time.Since(h.roundStart), cfg.basePoints, cfg.floorPoints)

	player.Score += points
	h.winners[player.PlayerID] = true

	if dj := h.findPlayerLocked(track.AddedBy); dj != nil {
		dj.Score += cfg.djBonus
		h.djBonus += cfg.djBonus
	}

	logf(cfg, "GAMES: Player %q guessed round %d in %s for %d points", player.Name, h.trackIdx, h.id, points)

	h.broadcastLocked(ChatMessage{
		Type:  "chat_message",
		Name:  player.Name,
		Text:  fmt.Sprintf("%s guessed the title!", player.Name),
		Kind:  chatKindCorrect,
		Color: player.Color,
	})

	for client := range h.clients {
		if client.playerID == player.PlayerID {
			h.sendLocked(client, GuessResultMessage{
				Type:    "guess_result",
				Correct: true,
				Points:  points,
				Message: fmt.Sprintf("+%d points", points),
			})
		}
	}

	h.broadcastRosterLocked()

	h.maybeEndEarlyLocked(cfg)
}
