package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"vn.io.arda/pim/internal/application"
	"vn.io.arda/pim/internal/config"
	"vn.io.arda/pim/internal/domain"
	"vn.io.arda/pim/internal/events"
	"vn.io.arda/pim/internal/infrastructure/azauth"
	"vn.io.arda/pim/internal/infrastructure/azurerm"
	"vn.io.arda/pim/internal/infrastructure/entra"
	"vn.io.arda/pim/internal/orchestrator"
	"vn.io.arda/pim/internal/render"
	transporthttp "vn.io.arda/pim/internal/transport/http"
)

var (
	rolesExpr     string
	justification string
)

// errBatchFailed signals a partially or fully failed transition batch. It
// propagates up through Execute so that deferred cleanup (the event-producer
// flush in particular) runs before the process exits non-zero.
var errBatchFailed = errors.New("one or more role transitions failed")

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	root := &cobra.Command{
		Use:           "pim",
		Short:         "Activate and deactivate time-bound privileged roles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		listCmd(),
		transitionCmd("activate", "Activate eligible roles", domain.ActionActivate),
		transitionCmd("deactivate", "Deactivate active roles", domain.ActionDeactivate),
		transitionCmd("reactivate", "Deactivate then re-activate roles to reset their clock", domain.ActionReactivate),
		serveCmd(),
	)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errBatchFailed) {
			log.Error().Err(err).Msg("session failed")
		}
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show eligible roles and their activation state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, _, closeFn, err := buildSession()
			if err != nil {
				return err
			}
			defer closeFn()

			roles, err := session.Discover(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Print(render.Catalog(roles))
			return nil
		},
	}
}

func transitionCmd(use, short string, action domain.Action) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, _, closeFn, err := buildSession()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runTransition(ctx, session, action, rolesExpr, justification)
		},
	}
	cmd.Flags().StringVar(&rolesExpr, "roles", "", "selection: ALL, ACTIVE, INACTIVE, or comma-separated numbers from 'pim list'")
	cmd.Flags().StringVar(&justification, "justification", "", "justification recorded with each activation")
	_ = cmd.MarkFlagRequired("roles")
	return cmd
}

// runTransition executes one batch and reports the result. A batch with
// failures returns errBatchFailed instead of exiting directly, so the
// caller's deferred cleanup still runs.
func runTransition(ctx context.Context, session *application.Session, action domain.Action, expr, justification string) error {
	report, invalid, err := session.Transition(ctx, action, expr, justification)
	for _, msg := range invalid {
		fmt.Fprintln(os.Stderr, "  rejected:", msg)
	}
	if err != nil {
		return err
	}

	fmt.Print(render.Report(report))
	if report.Failed > 0 {
		return errBatchFailed
	}
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose the role catalog and transitions over local HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, cfg, closeFn, err := buildSession()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := transporthttp.NewHandler(session)
			router := transporthttp.NewRouter(handler)

			go func() {
				log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
				if err := router.Start(":" + cfg.Server.Port); err != nil {
					log.Info().Msg("HTTP server stopped")
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return router.Shutdown(shutdownCtx)
		},
	}
}

// buildSession wires adapters, orchestrator, and the optional event tap from
// configuration. The returned close function flushes the event producer.
func buildSession() (*application.Session, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	graphTokens := tokenSource(cfg, cfg.Auth.GraphToken, "https://graph.microsoft.com/.default")
	armTokens := tokenSource(cfg, cfg.Auth.ARMToken, "https://management.azure.com/.default")

	directory := entra.New(cfg.Graph.BaseURL, graphTokens)
	resource := azurerm.New(cfg.ARM.BaseURL, cfg.ARM.APIVersion, armTokens)

	orch := orchestrator.New(
		[]domain.Backend{directory, resource},
		orchestrator.WithPacingDelay(cfg.Orchestrator.PacingDelay),
		orchestrator.WithSettleDelay(cfg.Orchestrator.SettleDelay),
		orchestrator.WithActivationDuration(cfg.Orchestrator.ActivationDuration),
		orchestrator.WithDefaultJustification(cfg.Orchestrator.DefaultJustification),
	)

	var publisher application.OutcomePublisher
	closeFn := func() {}
	if len(cfg.Events.Brokers) > 0 {
		producer, err := events.NewProducer(cfg.Events.Brokers, cfg.Events.Topic)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create event producer: %w", err)
		}
		publisher = producer
		closeFn = func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			producer.Close(flushCtx)
		}
	}

	principal := principalResolver(cfg, graphTokens)
	session := application.NewSession(directory, resource, orch, publisher, principal)
	return session, cfg, closeFn, nil
}

func tokenSource(cfg *config.Config, staticToken, scope string) *azauth.TokenSource {
	if staticToken != "" {
		return azauth.NewStatic(staticToken)
	}
	return azauth.NewClientCredentials(
		cfg.Auth.AuthorityURL,
		cfg.Auth.TenantID,
		cfg.Auth.ClientID,
		cfg.Auth.ClientSecret,
		scope,
	)
}

func principalResolver(cfg *config.Config, tokens *azauth.TokenSource) application.PrincipalResolver {
	if cfg.Auth.PrincipalID != "" {
		return func(context.Context) (string, error) { return cfg.Auth.PrincipalID, nil }
	}
	return tokens.PrincipalID
}
