package commands

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cleared-dev/harvest/internal/aggregate"
	"github.com/cleared-dev/harvest/internal/bank"
	"github.com/cleared-dev/harvest/internal/bank/filedrop"
	"github.com/cleared-dev/harvest/internal/config"
	"github.com/cleared-dev/harvest/internal/extract"
	"github.com/cleared-dev/harvest/internal/importer"
	"github.com/cleared-dev/harvest/internal/logging"
	"github.com/cleared-dev/harvest/internal/mfa"
	"github.com/cleared-dev/harvest/internal/model"
	"github.com/cleared-dev/harvest/internal/session"
	"github.com/cleared-dev/harvest/internal/store"
	"github.com/cleared-dev/harvest/internal/stream"
)

// app is what every command builds from the config file.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *store.Store
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) store() (*store.Store, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.Open(store.Config{
		Path:   a.cfg.Store.Path,
		Logger: a.logger.With(zap.String("component", "Store")),
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// registry registers a statement-directory adapter for every configured bank.
func (a *app) registry() (*bank.Registry, error) {
	reg := bank.NewRegistry()
	for _, bc := range a.cfg.Banks {
		fc, err := filedropConfig(bc, a.cfg.Paths.Import)
		if err != nil {
			return nil, err
		}
		adapter, err := filedrop.New(fc, a.logger.With(zap.String("component", "FiledropAdapter")))
		if err != nil {
			return nil, err
		}
		reg.Register(adapter)
	}
	return reg, nil
}

func filedropConfig(bc config.BankConfig, importDir string) (filedrop.Config, error) {
	fc := filedrop.Config{BalanceColumn: -1}
	switch strings.ToLower(bc.Format) {
	case "chase":
		fc = filedrop.Chase(importDir)
	case "chase_card":
		fc.Columns = importer.ChaseCard()
		fc.Kinds = []model.AccountKind{model.AccountKindCredit}
	case "split":
		fc.Columns = importer.SplitColumns()
		fc.Kinds = []model.AccountKind{model.AccountKindChecking, model.AccountKindSavings}
	default:
		return filedrop.Config{}, fmt.Errorf("bank %s: unknown format %q", bc.ID, bc.Format)
	}
	fc.ID = strings.ToLower(bc.ID)
	fc.Dir = filepath.Join(importDir, fc.ID)
	if len(bc.Names) > 0 {
		fc.Names = bc.Names
	}
	if bc.MaxSpanMonths > 0 {
		fc.MaxSpanMonths = bc.MaxSpanMonths
	}
	if bc.BalanceColumn != nil {
		fc.BalanceColumn = *bc.BalanceColumn
	}
	if len(fc.Names) == 0 {
		fc.Names = []string{bc.ID}
	}
	return fc, nil
}

// coordinator builds the extraction side. challenges is where the MFA relay
// registers and polls challenges.
func (a *app) coordinator(challenges mfa.ChallengeStore) (*extract.Coordinator, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	relay := mfa.NewRelay(challenges, a.logger.With(zap.String("component", "MFARelay")),
		mfa.WithInterval(a.cfg.MFA.PollInterval),
		mfa.WithMaxPolls(a.cfg.MFA.MaxPolls),
	)
	sessions := &session.Files{StateDir: a.cfg.Paths.Sessions, ScreenshotDir: a.cfg.Paths.Screenshots}
	return extract.NewCoordinator(reg, relay, sessions, a.logger.With(zap.String("component", "Coordinator")),
		extract.WithSettle(a.cfg.Auth.Settle),
	), nil
}

// service builds the aggregating side over an in-process extractor, or a
// remote one when extractor.url is set.
func (a *app) service() (*aggregate.Service, error) {
	db, err := a.store()
	if err != nil {
		return nil, err
	}

	var transport aggregate.Transport
	if a.cfg.Extractor.URL == "" {
		coord, err := a.coordinator(db)
		if err != nil {
			return nil, err
		}
		transport = aggregate.NewLocal(coord, a.logger.With(zap.String("component", "LocalTransport")))
	} else {
		framing, err := stream.ParseFraming(a.cfg.Extractor.Framing)
		if err != nil {
			return nil, err
		}
		transport = aggregate.NewRemote(a.cfg.Extractor.URL, framing, &http.Client{})
	}

	return aggregate.NewService(db, transport, a.cfg.CredentialsFor, a.cfg.Concurrency,
		a.logger.With(zap.String("component", "ExtractionService"))), nil
}
