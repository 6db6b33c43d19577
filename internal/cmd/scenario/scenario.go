// Package scenario runs a scripted multi-participant session end to end
// against the in-memory realtime service: join, readiness, submission, and
// the display-phase transition.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/lenslabs/chordfield/internal/platform/id"
	"github.com/lenslabs/chordfield/internal/platform/telemetry"
	"github.com/lenslabs/chordfield/internal/realtime"
	"github.com/lenslabs/chordfield/internal/realtime/realtimetest"
	"github.com/lenslabs/chordfield/internal/session/autostart"
	"github.com/lenslabs/chordfield/internal/session/controller"
	"github.com/lenslabs/chordfield/internal/session/domain"
	"github.com/lenslabs/chordfield/internal/session/registry"
	"github.com/lenslabs/chordfield/internal/session/statesync"
	"github.com/lenslabs/chordfield/internal/storage/bbolt"
)

// Config holds scenario command configuration.
type Config struct {
	Participants int           `env:"CHORDFIELD_SCENARIO_PARTICIPANTS" envDefault:"2"`
	Chords       string        `env:"CHORDFIELD_SCENARIO_CHORDS"       envDefault:"Cmaj,Gmaj;Fmaj"`
	Colocated    bool          `env:"CHORDFIELD_SCENARIO_COLOCATED"`
	SessionStore bool          `env:"CHORDFIELD_SCENARIO_SESSION_STORE"`
	TelemetryDB  string        `env:"CHORDFIELD_SCENARIO_TELEMETRY_DB"`
	Verbose      bool          `env:"CHORDFIELD_SCENARIO_VERBOSE"`
	Timeout      time.Duration `env:"CHORDFIELD_SCENARIO_TIMEOUT"      envDefault:"10s"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.IntVar(&cfg.Participants, "participants", cfg.Participants, "number of session participants")
	fs.StringVar(&cfg.Chords, "chords", cfg.Chords, "chord sets, one per participant (comma-separated chords, semicolon-separated sets)")
	fs.BoolVar(&cfg.Colocated, "colocated", cfg.Colocated, "run the colocated sub-flow before readiness")
	fs.BoolVar(&cfg.SessionStore, "session-store", cfg.SessionStore, "require the durable session store before readiness")
	fs.StringVar(&cfg.TelemetryDB, "telemetry-db", cfg.TelemetryDB, "path to a bbolt telemetry journal (empty disables journaling)")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose logging")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall scenario timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// autoLocate is a colocated setup that locates immediately, standing in for
// the external landmark-discovery flow.
type autoLocate struct{}

func (autoLocate) Start(located func()) { located() }

// participant bundles one client's view of the session.
type participant struct {
	userID   string
	chords   []string
	registry *registry.Registry
	ctrl     *controller.Controller
	sync     *statesync.Sync
}

// Run executes the scenario command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if cfg.Participants < 1 {
		return errors.New("at least one participant is required")
	}

	sets, err := parseChordSets(cfg.Chords)
	if err != nil {
		return err
	}

	logOut := io.Discard
	if cfg.Verbose {
		logOut = errOut
	}
	logger := log.New(logOut, "", log.LstdFlags)

	emitter := telemetry.NewEmitter(nil)
	if cfg.TelemetryDB != "" {
		store, err := bbolt.Open(cfg.TelemetryDB)
		if err != nil {
			return fmt.Errorf("open telemetry journal: %w", err)
		}
		defer store.Close()
		emitter = telemetry.NewEmitter(store)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	service := realtimetest.NewService()
	sessionID, err := id.NewID()
	if err != nil {
		return fmt.Errorf("generate session id: %w", err)
	}
	logger.Printf("session %s: %d participants", sessionID, cfg.Participants)

	participants := make([]*participant, cfg.Participants)
	ready := make(chan int, cfg.Participants)
	for i := range participants {
		p := &participant{
			userID:   fmt.Sprintf("u%d", i+1),
			chords:   sets[i%len(sets)],
			registry: registry.New(),
		}
		var setup controller.ColocatedSetup
		if cfg.Colocated {
			setup = autoLocate{}
		}
		p.ctrl = controller.New(controller.Config{
			Service:             service,
			Registry:            p.registry,
			SessionID:           sessionID,
			UserID:              p.userID,
			DisplayName:         strings.ToUpper(p.userID),
			RequireSessionStore: cfg.SessionStore,
			Colocated:           cfg.Colocated,
			Setup:               setup,
			Telemetry:           emitter,
			Logger:              logger,
		})
		idx := i
		p.ctrl.NotifyOnReady(func() { ready <- idx })
		participants[i] = p
	}

	for _, p := range participants {
		auto := autostart.New(service, p.ctrl, autostart.Options{Logger: logger})
		auto.Start(ctx)
	}

	for range participants {
		select {
		case i := <-ready:
			logger.Printf("%s ready", participants[i].userID)
		case <-ctx.Done():
			return fmt.Errorf("waiting for readiness: %w", ctx.Err())
		}
	}

	submitted := make(chan int, cfg.Participants)
	for i, p := range participants {
		info, ok := p.registry.StoreByScope(realtime.StoreScopeSessionScoped)
		if !ok {
			return fmt.Errorf("%s: ready without a session-scoped store", p.userID)
		}
		idx := i
		sync, err := statesync.New(statesync.Config{
			SessionID:      sessionID,
			Conn:           p.ctrl.Conn(),
			Store:          info.Store,
			Registry:       p.registry,
			OnAllSubmitted: func() { submitted <- idx },
			Telemetry:      emitter,
			Logger:         logger,
		})
		if err != nil {
			return fmt.Errorf("%s: state sync: %w", p.userID, err)
		}
		p.sync = sync
	}

	for _, p := range participants {
		connID := p.ctrl.Conn().LocalUser().ConnectionID
		if err := p.sync.SubmitProgression(connID, p.chords); err != nil {
			return fmt.Errorf("%s: submit: %w", p.userID, err)
		}
		logger.Printf("%s submitted %d chords as %s", p.userID, len(p.chords), connID)
	}

	for range participants {
		select {
		case i := <-submitted:
			logger.Printf("%s observed all submissions", participants[i].userID)
		case <-ctx.Done():
			return fmt.Errorf("waiting for submissions: %w", ctx.Err())
		}
	}

	return report(participants, out)
}

// report verifies the converged state on every participant's replica and
// prints the decoded progressions.
func report(participants []*participant, out io.Writer) error {
	for _, p := range participants {
		if phase := p.sync.SessionPhase(); phase != domain.PhaseDisplay {
			return fmt.Errorf("%s: expected display phase, got %d", p.userID, phase)
		}
	}

	for _, reader := range participants {
		for _, author := range participants {
			connID := author.ctrl.Conn().LocalUser().ConnectionID
			got := reader.sync.Progression(connID)
			if !slices.Equal(got, author.chords) {
				return fmt.Errorf("%s reads %v for %s, submitted %v",
					reader.userID, got, author.userID, author.chords)
			}
		}
	}

	for _, p := range participants {
		connID := p.ctrl.Conn().LocalUser().ConnectionID
		fmt.Fprintf(out, "%s (%s): %s\n", p.userID, connID,
			strings.Join(p.chords, " "))
	}
	return nil
}

// parseChordSets splits "Cmaj,Gmaj;Fmaj" into per-participant chord lists.
// Sets are reused round-robin when there are fewer sets than participants.
func parseChordSets(spec string) ([][]string, error) {
	var sets [][]string
	for _, rawSet := range strings.Split(spec, ";") {
		var chords []string
		for _, raw := range strings.Split(rawSet, ",") {
			if chord := strings.TrimSpace(raw); chord != "" {
				chords = append(chords, chord)
			}
		}
		if len(chords) == 0 {
			return nil, fmt.Errorf("empty chord set in %q", spec)
		}
		sets = append(sets, chords)
	}
	if len(sets) == 0 {
		return nil, errors.New("at least one chord set is required")
	}
	return sets, nil
}
