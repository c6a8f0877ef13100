package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/api"
	"github.com/cleared-dev/harvest/internal/mfa"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/server"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregating service and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			svc, err := a.service()
			if err != nil {
				return err
			}
			db, err := a.store()
			if err != nil {
				return err
			}

			// Records left unfinished by a previous process can never finish.
			if n, err := db.AbortUnfinished(cmd.Context(), model.AbortedError); err != nil {
				return err
			} else if n > 0 {
				a.logger.Warn("aborted stale extractions", zap.Int("count", n))
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			l, err := net.Listen("tcp", a.cfg.Server.Listen)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", a.cfg.Server.Listen, err)
			}
			logger := a.logger.With(zap.String("component", "ServiceServer"))
			srv := server.New(a.cfg.Server.Listen, api.NewServiceRouter(svc, db, a.logger), logger)
			return srv.Run(ctx, l, func(graceCtx context.Context) {
				if err := svc.Shutdown(graceCtx); err != nil {
					logger.Warn("extraction service shutdown", zap.Error(err))
				}
			})
		},
	}
}

func newExtractorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extractor",
		Short: "Run the extraction process's streaming HTTP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var challenges mfa.ChallengeStore
			if a.cfg.MFA.URL != "" {
				challenges = mfa.NewClient(a.cfg.MFA.URL, nil)
			} else {
				db, err := a.store()
				if err != nil {
					return err
				}
				challenges = db
			}
			coord, err := a.coordinator(challenges)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			l, err := net.Listen("tcp", a.cfg.Extractor.Listen)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", a.cfg.Extractor.Listen, err)
			}
			logger := a.logger.With(zap.String("component", "ExtractorServer"))
			srv := server.New(a.cfg.Extractor.Listen, api.NewExtractorRouter(coord, a.logger), logger)
			return srv.Run(ctx, l, nil)
		},
	}
}
