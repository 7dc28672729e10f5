// Trackdown music quiz
//
// Each player joins a shared session, picks a display name and accent color,
// and submits one song found through the song catalog. Once the host starts
// the game, the submitted tracks are shuffled into a queue and played
// round-by-round as short audio previews. Players race to type the title:
// faster correct guesses score more points, the submitter (the "dj") earns a
// small bonus per correct guesser, and hint characters of the title are
// progressively revealed as the countdown runs down.
//
// Features:
// - WebSockets per game ID: /quiz/:gameid and /quiz/:gameid/ws
// - Host is the first-joined surviving player; host-only actions from
//   anyone else are silently ignored
// - Lobby -> selection -> playing -> results phase cycle, host-driven
// - Joins rejected outside the lobby while --lobby-lock is set
// - Duplicate display names rejected case-insensitively
// - Typo-tolerant title matching with configurable allowance
// - Countdown, hint reveals and round transitions run on cancellable
//   timers keyed by a round generation counter
// - Players identified by cookie (playerID); a dropped connection keeps
//   its seat for --player-timeout before removal
// - Games auto-reaped after configurable idle timeout
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const maxNameLength = 24

const (
	phaseLobby     = "lobby"
	phaseSelection = "selection"
	phasePlaying   = "playing"
	phaseResults   = "results"
)

const (
	chatKindPlain   = "chat"
	chatKindCorrect = "correct"
	chatKindWrong   = "wrong"
	chatKindDj      = "dj"
	chatKindWinner  = "winner"
)

// Player holds the data we store server-side
type Player struct {
	PlayerID  string
	Name      string
	Color     string
	Score     int
	Submitted bool
}

// Track is a song in the game queue. AddedByName is captured at submission
// time and stays fixed even if the submitter later renames or leaves.
type Track struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	PreviewURL  string `json:"previewUrl"`
	ArtworkURL  string `json:"artworkUrl,omitempty"`
	AddedBy     string `json:"-"`
	AddedByName string `json:"addedByName,omitempty"`
}

// Messages coming from clients
type ClientMessage struct {
	Type   string `json:"type"`             // "join", "open_selection", "start_game", "kick", "skip_round", "search", "submit_song", "guess", "play_again"
	Name   string `json:"name,omitempty"`   // join
	Color  string `json:"color,omitempty"`  // join
	Query  string `json:"query,omitempty"`  // search
	Text   string `json:"text,omitempty"`   // guess
	Target string `json:"target,omitempty"` // kick
	Track  *Track `json:"track,omitempty"`  // submit_song
}

// Messages sent to clients

// Sent to a single client when a join is rejected
type LoginErrorMessage struct {
	Type    string `json:"type"` // "login_error"
	Message string `json:"message"`
}

// SimpleMessage is for generic notifications ("kicked", "selection_started", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type RosterEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	Score     int    `json:"score"`
	Submitted bool   `json:"submitted"`
}

// PlayerJoinedMessage carries the full roster on any membership change.
type PlayerJoinedMessage struct {
	Type   string        `json:"type"` // "player_joined"
	Roster []RosterEntry `json:"roster"`
	HostID string        `json:"hostId"`
	Phase  string        `json:"phase"`
}

type SongSubmittedMessage struct {
	Type   string        `json:"type"` // "song_submitted"
	Roster []RosterEntry `json:"roster"`
	Ready  bool          `json:"ready"`
}

type GameStartedMessage struct {
	Type       string `json:"type"` // "game_started"
	TrackCount int    `json:"trackCount"`
}

type PlayTrackMessage struct {
	Type        string `json:"type"` // "play_track"
	Round       int    `json:"round"`
	TotalTracks int    `json:"totalTracks"`
	Seconds     int    `json:"seconds"`
	PreviewURL  string `json:"previewUrl"`
	AddedByName string `json:"addedByName"`
	Hint        string `json:"hint"`
}

type CountdownMessage struct {
	Type    string `json:"type"` // "countdown"
	Seconds int    `json:"seconds"`
}

type RevealHintMessage struct {
	Type      string `json:"type"` // "reveal_hint"
	Position  int    `json:"position"`
	Character string `json:"character"`
}

// GuessResultMessage is the private acknowledgment for a guess.
type GuessResultMessage struct {
	Type    string `json:"type"` // "guess_result"
	Correct bool   `json:"correct"`
	Points  int    `json:"points,omitempty"`
	Message string `json:"message,omitempty"`
	Silent  bool   `json:"silent,omitempty"`
}

// ChatMessage mirrors every guess outcome to all clients, tagged so the
// client can style chat, wrong answers, dj chatter and winner chatter apart.
type ChatMessage struct {
	Type  string `json:"type"` // "chat_message"
	Name  string `json:"name"`
	Text  string `json:"text"`
	Kind  string `json:"kind"`
	Color string `json:"color,omitempty"`
}

type RoundEndedMessage struct {
	Type        string        `json:"type"` // "round_ended"
	Title       string        `json:"title"`
	Artist      string        `json:"artist"`
	ArtworkURL  string        `json:"artworkUrl,omitempty"`
	AddedByName string        `json:"addedByName"`
	Summary     string        `json:"summary,omitempty"`
	Roster      []RosterEntry `json:"roster"`
}

type GameFinishedMessage struct {
	Type   string        `json:"type"` // "game_finished"
	Scores []RosterEntry `json:"scores"`
}

// SessionInfoMessage is sent immediately on connect so the client knows
// the current phase and what role this cookie has.
type SessionInfoMessage struct {
	Type       string `json:"type"` // "session_info"
	Phase      string `json:"phase"`
	IsHost     bool   `json:"is_host"`
	IsExisting bool   `json:"is_existing"`
	Name       string `json:"name,omitempty"`
}

type SearchResultsMessage struct {
	Type    string  `json:"type"` // "search_results"
	Results []Track `json:"results"`
}

type joinRequest struct {
	client *Client
	msg    ClientMessage
}

type submitRequest struct {
	client *Client
	msg    ClientMessage
}

type hostCommand struct {
	client *Client
	msg    ClientMessage
}

type guessRequest struct {
	client *Client
	msg    ClientMessage
}

type searchRequest struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	clients map[*Client]bool
	players []*Player // join order; players[0] is host

	register chan *Client
	unreg    chan *Client
	joins    chan joinRequest
	submits  chan submitRequest
	cmds     chan hostCommand
	guesses  chan guessRequest
	searches chan searchRequest

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time

	phase string

	// round state, valid while phase == playing
	queue       []Track
	trackIdx    int
	roundGen    int // bumped whenever a scheduled timer would go stale
	roundActive bool
	roundStart  time.Time
	remaining   int
	winners     map[string]bool
	djBonus     int
	hintMask    []rune
	revealOrder []int

	catalog *catalogClient
}

func newHub(gameID string, catalog *catalogClient) *Hub {
	now := time.Now()
	return &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		joins:      make(chan joinRequest),
		submits:    make(chan submitRequest),
		cmds:       make(chan hostCommand),
		guesses:    make(chan guessRequest),
		searches:   make(chan searchRequest),
		createdAt:  now,
		lastActive: now,
		phase:      phaseLobby,
		catalog:    catalog,
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unreg:
			h.handleUnregister(cfg, c)

		case jr := <-h.joins:
			h.handleJoin(cfg, jr)

		case sr := <-h.submits:
			h.handleSubmit(cfg, sr)

		case cmd := <-h.cmds:
			h.handleHostCommand(cfg, cmd)

		case gr := <-h.guesses:
			h.handleGuess(cfg, gr)

		case sr := <-h.searches:
			h.handleSearch(cfg, sr)
		}
	}
}

// Host identity is recomputed from join order, never stored.
func (h *Hub) hostIDLocked() string {
	if len(h.players) == 0 {
		return ""
	}
	return h.players[0].PlayerID
}

func (h *Hub) findPlayerLocked(playerID string) *Player {
	for _, p := range h.players {
		if p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

func (h *Hub) rosterLocked() []RosterEntry {
	roster := make([]RosterEntry, 0, len(h.players))
	for _, p := range h.players {
		roster = append(roster, RosterEntry{
			ID:        p.PlayerID,
			Name:      p.Name,
			Color:     p.Color,
			Score:     p.Score,
			Submitted: p.Submitted,
		})
	}
	return roster
}

func (h *Hub) readyLocked() bool {
	if len(h.players) == 0 {
		return false
	}
	for _, p := range h.players {
		if !p.Submitted {
			return false
		}
	}
	return true
}

func (h *Hub) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) broadcastRosterLocked() {
	h.broadcastLocked(PlayerJoinedMessage{
		Type:   "player_joined",
		Roster: h.rosterLocked(),
		HostID: h.hostIDLocked(),
		Phase:  h.phase,
	})
}

func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()
	h.clients[c] = true

	existing := h.findPlayerLocked(c.playerID)

	info := SessionInfoMessage{
		Type:       "session_info",
		Phase:      h.phase,
		IsHost:     existing != nil && c.playerID == h.hostIDLocked(),
		IsExisting: existing != nil,
	}
	if existing != nil {
		info.Name = existing.Name
	}
	h.sendLocked(c, info)

	h.sendLocked(c, PlayerJoinedMessage{
		Type:   "player_joined",
		Roster: h.rosterLocked(),
		HostID: h.hostIDLocked(),
		Phase:  h.phase,
	})

	// A reconnect mid-round gets the current track and hint state.
	if h.phase == phasePlaying && h.roundActive && h.trackIdx < len(h.queue) {
		track := h.queue[h.trackIdx]
		h.sendLocked(c, PlayTrackMessage{
			Type:        "play_track",
			Round:       h.trackIdx,
			TotalTracks: len(h.queue),
			Seconds:     h.remaining,
			PreviewURL:  track.PreviewURL,
			AddedByName: track.AddedByName,
			Hint:        string(h.hintMask),
		})
	}
}

func (h *Hub) handleUnregister(cfg *Config, c *Client) {
	h.mu.Lock()
	h.lastActive = time.Now()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	playerID := c.playerID
	h.mu.Unlock()

	if playerID != "" {
		go h.scheduleRemoval(cfg, playerID, cfg.playerTimeout)
	}
}

// scheduleRemoval waits for d, and if no client with this playerID has
// reconnected, removes that player's entry and broadcasts the updated
// roster. Host promotion falls out of the join-ordered player slice.
func (h *Hub) scheduleRemoval(cfg *Config, playerID string, d time.Duration) {
	time.Sleep(d)

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.playerID == playerID {
			return
		}
	}

	if p := h.findPlayerLocked(playerID); p != nil {
		logf(cfg, "GAMES: Player %q timed out of %s", p.Name, h.id)
	}

	h.removePlayerLocked(cfg, playerID)
}

// removePlayerLocked deletes the player and all derived-set memberships in a
// single mutation, so mid-round departures cannot leave stale bookkeeping.
func (h *Hub) removePlayerLocked(cfg *Config, playerID string) {
	idx := -1
	for i, p := range h.players {
		if p.PlayerID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	h.players = append(h.players[:idx], h.players[idx+1:]...)
	delete(h.winners, playerID)

	h.lastActive = time.Now()

	if len(h.players) == 0 {
		h.resetLocked(cfg, true)
		return
	}

	h.broadcastRosterLocked()

	// The departure may have made everyone remaining a winner already.
	if h.phase == phasePlaying && h.roundActive {
		h.maybeEndEarlyLocked(cfg)
	}
}

// handleJoin processes "join" messages.
func (h *Hub) handleJoin(cfg *Config, jr joinRequest) {
	msg := jr.msg
	c := jr.client

	if c.playerID == "" {
		return
	}

	name := strings.TrimSpace(msg.Name)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		h.sendLocked(c, LoginErrorMessage{
			Type:    "login_error",
			Message: "Pick a name between 1 and 24 characters.",
		})
		return
	}

	existing := h.findPlayerLocked(c.playerID)

	if existing == nil && cfg.lobbyLock && h.phase != phaseLobby {
		h.sendLocked(c, LoginErrorMessage{
			Type:    "login_error",
			Message: "A game is already in progress; try again once it is over.",
		})
		return
	}

	for _, p := range h.players {
		if p.PlayerID != c.playerID && strings.EqualFold(p.Name, name) {
			h.sendLocked(c, LoginErrorMessage{
				Type:    "login_error",
				Message: "That name is already taken. Please choose a different name.",
			})
			return
		}
	}

	if existing != nil {
		existing.Name = name
		if msg.Color != "" {
			existing.Color = msg.Color
		}
	} else {
		h.players = append(h.players, &Player{
			PlayerID: c.playerID,
			Name:     name,
			Color:    msg.Color,
		})
		logf(cfg, "GAMES: Player %q joined %s", name, h.id)
	}

	h.broadcastRosterLocked()
}

// handleSubmit processes "submit_song" messages. A second submission from
// the same player replaces their earlier track in place.
func (h *Hub) handleSubmit(cfg *Config, sr submitRequest) {
	c := sr.client
	msg := sr.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	player := h.findPlayerLocked(c.playerID)
	if player == nil {
		return
	}

	if h.phase != phaseLobby && h.phase != phaseSelection {
		return
	}

	if msg.Track == nil ||
		strings.TrimSpace(msg.Track.Title) == "" ||
		strings.TrimSpace(msg.Track.Artist) == "" ||
		strings.TrimSpace(msg.Track.PreviewURL) == "" {
		h.sendLocked(c, SimpleMessage{
			Type:    "submit_error",
			Message: "A song needs a title, an artist and a preview.",
		})
		return
	}

	track := Track{
		Title:       strings.TrimSpace(msg.Track.Title),
		Artist:      strings.TrimSpace(msg.Track.Artist),
		PreviewURL:  strings.TrimSpace(msg.Track.PreviewURL),
		ArtworkURL:  strings.TrimSpace(msg.Track.ArtworkURL),
		AddedBy:     player.PlayerID,
		AddedByName: player.Name,
	}

	replaced := false
	for i := range h.queue {
		if h.queue[i].AddedBy == player.PlayerID {
			h.queue[i] = track
			replaced = true
			break
		}
	}
	if !replaced {
		h.queue = append(h.queue, track)
	}
	player.Submitted = true

	logf(cfg, "GAMES: Player %q submitted a song in %s", player.Name, h.id)

	h.broadcastLocked(SongSubmittedMessage{
		Type:   "song_submitted",
		Roster: h.rosterLocked(),
		Ready:  h.readyLocked(),
	})
}

// handleHostCommand processes host-only commands. Commands from anyone but
// the current host are dropped without a reply.
func (h *Hub) handleHostCommand(cfg *Config, cmd hostCommand) {
	c := cmd.client
	msg := cmd.msg

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = time.Now()

	host := h.hostIDLocked()
	if host == "" || c.playerID != host {
		return
	}

	switch msg.Type {
	case "open_selection":
		if h.phase != phaseLobby {
			return
		}
		h.phase = phaseSelection
		h.broadcastLocked(SimpleMessage{
			Type:    "selection_started",
			Message: "Pick your songs!",
		})
		h.broadcastRosterLocked()

	case "start_game":
		if h.phase != phaseSelection {
			return
		}
		if len(h.queue) == 0 {
			return
		}
		h.startGameLocked(cfg)

	case "kick":
		target := msg.Target
		if target == "" || target == c.playerID {
			return
		}
		h.kickLocked(cfg, target)

	case "skip_round":
		if h.phase != phasePlaying || !h.roundActive {
			return
		}
		logf(cfg, "GAMES: Host skipped round %d in %s", h.trackIdx, h.id)
		h.endRoundLocked(cfg)

	case "play_again":
		if h.phase != phaseResults {
			return
		}
		h.resetLocked(cfg, true)
		h.broadcastLocked(SimpleMessage{
			Type:    "play_again",
			Message: "Back to the lobby!",
		})
		h.broadcastRosterLocked()
	}
}

func (h *Hub) kickLocked(cfg *Config, target string) {
	p := h.findPlayerLocked(target)
	if p == nil {
		return
	}

	logf(cfg, "GAMES: Player %q kicked from %s", p.Name, h.id)

	for client := range h.clients {
		if client.playerID == target {
			h.sendLocked(client, SimpleMessage{
				Type:    "kicked",
				Message: "You have been removed by the host.",
			})
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
		}
	}

	h.removePlayerLocked(cfg, target)
}

// handleSearch delegates to the song catalog without holding up the hub;
// the result (or an empty list, on upstream failure) goes only to the
// requesting client.
func (h *Hub) handleSearch(cfg *Config, sr searchRequest) {
	c := sr.client
	query := strings.TrimSpace(sr.msg.Query)

	h.mu.Lock()
	h.lastActive = time.Now()
	known := h.findPlayerLocked(c.playerID) != nil
	h.mu.Unlock()

	if !known || h.catalog == nil {
		return
	}

	go func() {
		results, err := h.catalog.search(query)
		if err != nil {
			logf(cfg, "GAMES: Catalog lookup for %q failed in %s: %v", query, h.id, err)
			results = []Track{}
		}

		debugf(cfg, "GAMES: Catalog returned %d results for %q in %s", len(results), query, h.id)

		h.mu.Lock()
		defer h.mu.Unlock()

		if !h.clients[c] {
			return
		}

		h.sendLocked(c, SearchResultsMessage{
			Type:    "search_results",
			Results: results,
		})
	}()
}

// resetLocked returns the session to the lobby. Queue, per-round state and
// submission flags always reset; scores only on an explicit reset.
func (h *Hub) resetLocked(cfg *Config, resetScores bool) {
	h.phase = phaseLobby
	h.queue = nil
	h.trackIdx = 0
	h.roundGen++
	h.roundActive = false
	h.remaining = 0
	h.winners = nil
	h.djBonus = 0
	h.hintMask = nil
	h.revealOrder = nil

	for _, p := range h.players {
		p.Submitted = false
		if resetScores {
			p.Score = 0
		}
	}

	logf(cfg, "GAMES: Session %s reset to lobby", h.id)
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}
