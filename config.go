package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	bind           string
	playerTimeout  time.Duration
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	// round pacing
	roundSeconds   int
	revealWindow   int
	revealInterval int
	preroll        time.Duration
	cooldown       time.Duration
	grace          time.Duration

	// scoring
	basePoints  int
	floorPoints int
	djBonus     int

	// matching policy
	typoFloor     int
	typoTolerance float64
	countArtist   bool

	// lobby policy
	lobbyLock bool

	// song catalog
	catalogURL     string
	catalogTimeout time.Duration
	catalogLimit   int

	logger *zap.SugaredLogger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.roundSeconds < 1 {
		return fmt.Errorf("invalid round length: %d", c.roundSeconds)
	}
	if c.revealInterval < 1 {
		return fmt.Errorf("invalid reveal interval: %d", c.revealInterval)
	}
	if c.revealWindow >= c.roundSeconds {
		return fmt.Errorf("reveal window (%d) must be shorter than the round (%d)", c.revealWindow, c.roundSeconds)
	}
	if c.typoTolerance < 0 || c.typoTolerance >= 1 {
		return fmt.Errorf("invalid typo tolerance (must be in [0,1)): %f", c.typoTolerance)
	}
	if c.floorPoints > c.basePoints {
		return fmt.Errorf("floor points (%d) may not exceed base points (%d)", c.floorPoints, c.basePoints)
	}
	if c.catalogLimit < 1 || c.catalogLimit > 25 {
		return fmt.Errorf("invalid catalog limit (must be between 1-25 inclusive): %d", c.catalogLimit)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TRACKDOWN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "trackdown",
		Short:         "A multiplayer music-guessing party game, served as a single binary.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			cfg.logger = newLogger(cfg.verbose)
			defer cfg.logger.Sync() //nolint:errcheck
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TRACKDOWN_BIND)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 30*time.Second, "time before disconnected players are dropped (env: TRACKDOWN_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TRACKDOWN_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TRACKDOWN_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TRACKDOWN_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle game sessions are ended (env: TRACKDOWN_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TRACKDOWN_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TRACKDOWN_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TRACKDOWN_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TRACKDOWN_VERSION)")

	fs.IntVar(&cfg.roundSeconds, "round-seconds", 30, "countdown length of each round, in seconds (env: TRACKDOWN_ROUND_SECONDS)")
	fs.IntVar(&cfg.revealWindow, "reveal-window", 20, "remaining seconds below which hint characters are revealed (env: TRACKDOWN_REVEAL_WINDOW)")
	fs.IntVar(&cfg.revealInterval, "reveal-interval", 5, "seconds between hint character reveals (env: TRACKDOWN_REVEAL_INTERVAL)")
	fs.DurationVar(&cfg.preroll, "preroll", 3*time.Second, "delay between game start and the first round (env: TRACKDOWN_PREROLL)")
	fs.DurationVar(&cfg.cooldown, "cooldown", 5*time.Second, "delay between rounds (env: TRACKDOWN_COOLDOWN)")
	fs.DurationVar(&cfg.grace, "grace", time.Second, "delay before ending a round once everyone has guessed (env: TRACKDOWN_GRACE)")

	fs.IntVar(&cfg.basePoints, "base-points", 30, "points awarded for an instant correct guess (env: TRACKDOWN_BASE_POINTS)")
	fs.IntVar(&cfg.floorPoints, "floor-points", 5, "minimum points awarded for any correct guess (env: TRACKDOWN_FLOOR_POINTS)")
	fs.IntVar(&cfg.djBonus, "dj-bonus", 3, "points awarded to the dj per correct guesser (env: TRACKDOWN_DJ_BONUS)")

	fs.IntVar(&cfg.typoFloor, "typo-floor", 2, "minimum number of typos tolerated in a guess (env: TRACKDOWN_TYPO_FLOOR)")
	fs.Float64Var(&cfg.typoTolerance, "typo-tolerance", 0.3, "typos tolerated as a fraction of title length (env: TRACKDOWN_TYPO_TOLERANCE)")
	fs.BoolVar(&cfg.countArtist, "count-artist", false, "score artist-only guesses as wins (env: TRACKDOWN_COUNT_ARTIST)")

	fs.BoolVar(&cfg.lobbyLock, "lobby-lock", true, "reject joins once a game has left the lobby (env: TRACKDOWN_LOBBY_LOCK)")

	fs.StringVar(&cfg.catalogURL, "catalog-url", "https://itunes.apple.com/search", "song catalog search endpoint (env: TRACKDOWN_CATALOG_URL)")
	fs.DurationVar(&cfg.catalogTimeout, "catalog-timeout", 5*time.Second, "timeout for song catalog lookups (env: TRACKDOWN_CATALOG_TIMEOUT)")
	fs.IntVar(&cfg.catalogLimit, "catalog-limit", 5, "maximum results per song catalog lookup (env: TRACKDOWN_CATALOG_LIMIT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("trackdown v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
