package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"defilab/config"
	"defilab/core/scenario"
	"defilab/core/state"
	"defilab/native/oracle"
	"defilab/native/safemath"
	"defilab/observability/logging"
	"defilab/observability/metrics"
	"defilab/observability/otel"
	"defilab/storage/receipts"
)

type scenarioFlags struct {
	oracle   string
	feedURL  string
	receipts string
}

type reportView struct {
	Oracle       string `json:"oracle"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	UnitID       string `json:"unit_id,omitempty"`
	Seq          uint64 `json:"seq,omitempty"`
	SpotBefore   string `json:"spot_before"`
	SpotDuring   string `json:"spot_during,omitempty"`
	SpotAfter    string `json:"spot_after"`
	OracleDuring string `json:"oracle_during,omitempty"`
	FairLimit    string `json:"fair_limit"`
	LimitDuring  string `json:"limit_during,omitempty"`
	DebtAfter    string `json:"debt_after"`
	ProfitB      string `json:"profit_b"`
	FeedPrice    string `json:"feed_price,omitempty"`
}

func newScenarioCmd() *cobra.Command {
	var flags scenarioFlags
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Build the lab and run the flash-loan manipulation",
		Long: `Seeds the pool, the flash facility and the lending market, then runs
flash-borrow, swap, deposit, borrow, swap back and repay as one unit. A
reverted exploit is a reported outcome, not a command failure.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runScenario(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.oracle, "oracle", "", "override the oracle mode (spot, anchored, twap)")
	cmd.Flags().StringVar(&flags.feedURL, "feed-url", "", "anchor the collateral price from this HTTP feed first")
	cmd.Flags().StringVar(&flags.receipts, "receipts", "", "sqlite file receiving every unit receipt")
	return cmd
}

func runScenario(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, flags scenarioFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if mode := strings.ToLower(strings.TrimSpace(flags.oracle)); mode != "" {
		cfg.Lab.Oracle.Mode = mode
	}
	if flags.feedURL != "" {
		cfg.Lab.Oracle.FeedURL = flags.feedURL
	}
	if flags.receipts != "" {
		cfg.Receipts = flags.receipts
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	logger := logging.Setup(cfg.Service, cfg.Env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Output:     stderr,
	})
	shutdown, err := otel.Init(ctx, otel.Config{
		ServiceName: cfg.Service,
		Environment: cfg.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	opts := []state.Option{
		state.WithLogger(logger),
		state.WithMetrics(metrics.Lab()),
		state.WithTracer(otel.Tracer("state")),
	}
	if cfg.Receipts != "" {
		store, err := receipts.Open(cfg.Receipts)
		if err != nil {
			return err
		}
		defer store.Close()
		store.SetLogger(logger)
		opts = append(opts, state.WithReceiptHook(store.Hook()))
	}
	mgr, db, err := scenario.OpenState(cfg.DataDir, opts...)
	if err != nil {
		return err
	}
	defer db.Close()

	lab, err := scenario.New(mgr, cfg.Lab, scenario.WithLogger(logger))
	if err != nil {
		return err
	}
	ready, err := lab.Pool.Initialized()
	if err != nil {
		return err
	}
	if !ready {
		if _, err := lab.Setup(ctx); err != nil {
			return fmt.Errorf("lab setup: %w", err)
		}
	} else if cfg.Lab.Oracle.Mode == config.OracleTWAP {
		if _, err := lab.Sample(ctx); err != nil {
			logger.Warn("twap sample skipped", "error", err)
		}
	}

	view := reportView{}
	if cfg.Lab.Oracle.FeedURL != "" {
		feed, err := oracle.NewHTTPFeed(nil, cfg.Lab.Oracle.FeedURL, cfg.Lab.Oracle.FeedAPIKey,
			time.Duration(cfg.Lab.Oracle.FeedMaxAgeSeconds)*time.Second)
		if err != nil {
			return err
		}
		feed.SetLogger(logger)
		if perMinute := cfg.Lab.Oracle.FeedRatePerMinute; perMinute > 0 {
			feed.SetRateLimit(rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1))
		}
		quote, _, err := lab.AnchorFromFeed(ctx, feed)
		if err != nil {
			return fmt.Errorf("anchor from feed: %w", err)
		}
		view.FeedPrice = units(quote.Price)
	}

	report, err := lab.RunExploit(ctx, lab.DefaultExploit())
	if err != nil {
		return err
	}
	fillView(&view, report)
	logger.Info("scenario complete", slog.String("status", view.Status))
	return writeJSON(stdout, view)
}

func fillView(view *reportView, r *scenario.Report) {
	view.Oracle = r.Oracle
	view.Reason = r.ErrorReason()
	if r.Receipt != nil {
		view.Status = string(r.Receipt.Status)
		view.UnitID = r.Receipt.ID.String()
		view.Seq = r.Receipt.Seq
	}
	view.SpotBefore = units(r.SpotBefore)
	view.SpotDuring = units(r.SpotDuring)
	view.SpotAfter = units(r.SpotAfter)
	view.OracleDuring = units(r.OracleDuring)
	view.FairLimit = units(r.FairLimit)
	view.LimitDuring = units(r.LimitDuring)
	view.DebtAfter = units(r.DebtAfter)
	view.ProfitB = signedUnits(r.ProfitB)
}

func units(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return safemath.FormatUnits(v, safemath.Decimals)
}

func signedUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -safemath.Decimals).String()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
