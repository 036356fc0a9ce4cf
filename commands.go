package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/alexbotov/rgsclient/internal/api"
	"github.com/alexbotov/rgsclient/internal/audit"
	"github.com/alexbotov/rgsclient/internal/auth"
	"github.com/alexbotov/rgsclient/internal/config"
	"github.com/alexbotov/rgsclient/internal/controller"
	"github.com/alexbotov/rgsclient/internal/database"
	"github.com/alexbotov/rgsclient/internal/domain"
	"github.com/alexbotov/rgsclient/internal/limits"
	"github.com/alexbotov/rgsclient/pkg/rgs"
)

const shutdownTimeout = 5 * time.Second

// setup builds the controller, and the round journal when a DSN is set.
// The returned cleanup closes the journal database.
func setup(cfg *config.Config, logger zerolog.Logger) (*controller.Controller, func(), error) {
	conv, err := domain.NewConverter(cfg.RGS.APIMultiplier)
	if err != nil {
		return nil, nil, err
	}

	client := rgs.NewClient(cfg.ClientConfig(), rgs.WithLogger(logger))
	opts := []controller.Option{controller.WithLogger(logger)}
	cleanup := func() {}

	if cfg.Audit.DSN != "" {
		db, err := database.New(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		opts = append(opts, controller.WithRecorder(audit.New(db.DB)))
		cleanup = func() { db.Close() }
		logger.Info().Str("driver", cfg.Audit.Driver).Msg("round journal enabled")
	}

	return controller.New(client, nil, conv, opts...), cleanup, nil
}

// prepare loads and validates config and builds the controller
func prepare(g *Globals, override func(*config.Config)) (*config.Config, zerolog.Logger, *controller.Controller, func(), error) {
	cfg, err := g.load()
	if err != nil {
		return nil, zerolog.Nop(), nil, nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := g.logger(cfg.Log)
	ctrl, cleanup, err := setup(cfg, logger)
	if err != nil {
		return nil, logger, nil, nil, err
	}
	return cfg, logger, ctrl, cleanup, nil
}

func printBalance(ctrl *controller.Controller) {
	st := ctrl.Store().State()
	currency := ""
	if st.Balance != nil {
		currency = st.Balance.Currency
	}
	fmt.Printf("balance: %.2f %s\n", ctrl.DisplayBalance(), currency)
}

// PlayCmd plays rounds from the terminal
type PlayCmd struct {
	Bet    float64 `help:"Bet in display currency, 0 uses the default bet level" default:"0"`
	Mode   string  `help:"Bet mode" default:"BASE"`
	Rounds int     `short:"n" help:"Number of rounds to play" default:"1"`
}

func (c *PlayCmd) Run(g *Globals) error {
	_, logger, ctrl, cleanup, err := prepare(g, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Initialize(ctx); err != nil {
		return err
	}
	printBalance(ctrl)

	// Collect a payout left over from a previous session first
	if ctrl.Store().NeedsEndRound() {
		logger.Info().Msg("resuming unfinished round")
		if err := ctrl.EndRound(ctx); err != nil {
			return err
		}
		printBalance(ctrl)
	}

	checker := limits.New(ctrl.Store().State().Config, ctrl.Converter())
	bet := c.Bet
	if bet == 0 {
		bet = checker.DefaultBet()
	}
	if err := checker.Validate(bet); err != nil {
		return fmt.Errorf("bet %.2f: %w", bet, err)
	}

	for i := 1; i <= c.Rounds && ctx.Err() == nil; i++ {
		if err := ctrl.PlaceBet(ctx, bet, c.Mode); err != nil {
			return err
		}

		st := ctrl.Store().State()
		if st.NeedsEndRound() {
			fmt.Printf("round %d: bet %.2f won x%g\n", i, bet, st.LastWin)
			if err := ctrl.EndRound(ctx); err != nil {
				return err
			}
		} else {
			fmt.Printf("round %d: bet %.2f lost\n", i, bet)
		}
		printBalance(ctrl)
	}
	return nil
}

// BalanceCmd prints the session balance
type BalanceCmd struct{}

func (c *BalanceCmd) Run(g *Globals) error {
	_, _, ctrl, cleanup, err := prepare(g, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := ctrl.Initialize(context.Background()); err != nil {
		return err
	}
	printBalance(ctrl)
	if ctrl.Store().NeedsEndRound() {
		fmt.Printf("unfinished round with x%g payout pending\n", ctrl.Store().State().LastWin)
	}
	return nil
}

// ServeCmd runs the local bridge
type ServeCmd struct {
	Addr       string `help:"Listen address, overrides the config file"`
	Initialize bool   `help:"Authenticate the session before accepting requests"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, logger, ctrl, cleanup, err := prepare(g, func(cfg *config.Config) {
		if c.Addr != "" {
			cfg.Bridge.Addr = c.Addr
		}
	})
	if err != nil {
		return err
	}
	defer cleanup()

	authSvc := auth.New(&cfg.Bridge)
	if !authSvc.Enabled() {
		logger.Warn().Msg("bridge authentication disabled, set bridge.jwt_secret to enable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Initialize {
		if err := ctrl.Initialize(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:         cfg.Bridge.Addr,
		Handler:      api.New(ctrl, authSvc, logger).SetupRouter(),
		ReadTimeout:  cfg.Bridge.ReadTimeout,
		WriteTimeout: cfg.Bridge.WriteTimeout,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info().
			Str("address", srv.Addr).
			Str("rgs", cfg.RGS.URL).
			Bool("auth", authSvc.Enabled()).
			Msg("starting bridge")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutting down bridge")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// ErrNoJournal is returned by journal when no audit DSN is configured
var ErrNoJournal = errors.New("round journal disabled, set audit.dsn or RGS_AUDIT_DSN")

// JournalCmd prints recorded controller outcomes, newest first
type JournalCmd struct {
	Session string `help:"Only rows for this session id"`
	Round   string `help:"Only rows for this round id"`
	Failed  bool   `help:"Only failed operations"`
	Limit   int    `short:"n" help:"Maximum rows" default:"100"`
}

func (c *JournalCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if cfg.Audit.DSN == "" {
		return ErrNoJournal
	}

	db, err := database.New(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	events, err := audit.New(db.DB).GetEvents(context.Background(), &audit.EventFilter{
		SessionID:  c.Session,
		RoundID:    c.Round,
		FailedOnly: c.Failed,
		Limit:      c.Limit,
	})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	return audit.WriteTable(os.Stdout, events)
}

// HashPasswordCmd prints a bcrypt hash for bridge.password_hash
type HashPasswordCmd struct {
	Password string `arg:"" help:"Operator password"`
}

func (c *HashPasswordCmd) Run(g *Globals) error {
	hash, err := auth.HashPassword(c.Password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
