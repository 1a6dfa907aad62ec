package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/popbox/game"
)

type Config struct {
	bind           string
	port           int
	prefix         string
	profile        bool
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	room              string
	balls             int
	restartBalls      int
	ballRadius        float64
	hitScale          float64
	mirror            bool
	placementAttempts int
	referenceWidth    float64
	referenceHeight   float64
	effectDuration    time.Duration
	images            []string

	natsURL     string
	natsSubject string
	databaseURL string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must not be negative): %s", c.sessionTimeout)
	}
	if c.room == "" || strings.ContainsAny(c.room, "/.") {
		return fmt.Errorf("invalid room id: %q", c.room)
	}
	if c.balls < 1 {
		return fmt.Errorf("invalid ball count (must be at least 1): %d", c.balls)
	}
	if c.restartBalls < 1 {
		return fmt.Errorf("invalid restart ball count (must be at least 1): %d", c.restartBalls)
	}
	if c.ballRadius <= 0 {
		return fmt.Errorf("invalid ball radius (must be positive): %v", c.ballRadius)
	}
	if c.hitScale <= 0 {
		return fmt.Errorf("invalid hit scale (must be positive): %v", c.hitScale)
	}
	if c.placementAttempts < 1 {
		return fmt.Errorf("invalid placement attempts (must be at least 1): %d", c.placementAttempts)
	}
	if c.referenceWidth <= 0 || c.referenceHeight <= 0 {
		return fmt.Errorf("invalid reference size: %vx%v", c.referenceWidth, c.referenceHeight)
	}
	if c.effectDuration <= 0 {
		return fmt.Errorf("invalid effect duration (must be positive): %s", c.effectDuration)
	}
	if c.natsURL != "" && c.natsSubject == "" {
		return errors.New("--nats-subject must be set when --nats-url is provided")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) layout() game.Layout {
	return game.Layout{
		Width:    c.referenceWidth,
		Height:   c.referenceHeight,
		Radius:   c.ballRadius,
		Attempts: c.placementAttempts,
	}
}

func (c *Config) policy() game.Policy {
	return game.Policy{Scale: c.hitScale, Mirror: c.mirror}
}

func (c *Config) referenceSize() game.Size {
	return game.Size{Width: c.referenceWidth, Height: c.referenceHeight}
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("POPBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "popbox",
		Short:         "A multiplayer balloon-popping game played with your hands.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: POPBOX_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: POPBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: POPBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: POPBOX_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before empty rooms are removed (env: POPBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: POPBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: POPBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: POPBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: POPBOX_VERSION)")

	fs.StringVar(&cfg.room, "room", "miSala", "room linked from the home page (env: POPBOX_ROOM)")
	fs.IntVar(&cfg.balls, "balls", 10, "balls placed when a room is created (env: POPBOX_BALLS)")
	fs.IntVar(&cfg.restartBalls, "restart-balls", 5, "balls placed when a game is restarted (env: POPBOX_RESTART_BALLS)")
	fs.Float64Var(&cfg.ballRadius, "ball-radius", 30, "ball radius in pixels (env: POPBOX_BALL_RADIUS)")
	fs.Float64Var(&cfg.hitScale, "hit-scale", 2, "multiple of the ball radius that counts as a hit (env: POPBOX_HIT_SCALE)")
	fs.BoolVar(&cfg.mirror, "mirror", true, "mirror keypoints horizontally for selfie cameras (env: POPBOX_MIRROR)")
	fs.IntVar(&cfg.placementAttempts, "placement-attempts", 100, "tries per ball before it is dropped (env: POPBOX_PLACEMENT_ATTEMPTS)")
	fs.Float64Var(&cfg.referenceWidth, "reference-width", 1280, "width of the canvas balls are placed on (env: POPBOX_REFERENCE_WIDTH)")
	fs.Float64Var(&cfg.referenceHeight, "reference-height", 720, "height of the canvas balls are placed on (env: POPBOX_REFERENCE_HEIGHT)")
	fs.DurationVar(&cfg.effectDuration, "effect-duration", time.Second, "how long hit popups stay visible (env: POPBOX_EFFECT_DURATION)")
	fs.StringSliceVar(&cfg.images, "images", nil, "sprite keys assigned to balls in turn (env: POPBOX_IMAGES)")

	fs.StringVar(&cfg.natsURL, "nats-url", "", "publish room changes to this NATS server (env: POPBOX_NATS_URL)")
	fs.StringVar(&cfg.natsSubject, "nats-subject", "popbox.rooms", "subject prefix for room changes (env: POPBOX_NATS_SUBJECT)")
	fs.StringVar(&cfg.databaseURL, "database-url", "", "archive finished games to this PostgreSQL database (env: POPBOX_DATABASE_URL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, v.GetString(f.Name))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("popbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
