package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dukafetch/dukafetch/internal/aggregate"
	"github.com/dukafetch/dukafetch/internal/config"
	"github.com/dukafetch/dukafetch/internal/db"
	"github.com/dukafetch/dukafetch/internal/dukascopy"
	"github.com/dukafetch/dukafetch/internal/export"
	"github.com/dukafetch/dukafetch/internal/logx"
	"github.com/dukafetch/dukafetch/internal/market"
	"github.com/dukafetch/dukafetch/internal/pool"
	"github.com/dukafetch/dukafetch/internal/resample"
	"github.com/dukafetch/dukafetch/internal/session"
	"github.com/dukafetch/dukafetch/internal/tfutils"
)

var rootCmd = &cobra.Command{
	Use:   "dukafetch",
	Short: "Download Dukascopy historical tick data and build validated bar series",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run(cmd)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.String("config", "", "Path to YAML config file")
	flags.String("instrument", "", "Instrument symbol (e.g. EURUSD)")
	flags.String("start", "", "Window start, RFC3339 (e.g. 2025-01-01T00:00:00Z)")
	flags.String("end", "", "Window end, RFC3339")
	flags.String("timeframe", "", "Output timeframe: m1, m5, m15, m30, h1, h4, d1, w1, mn")
	flags.String("mode", "", "Download mode: ticks or direct")
	flags.String("format", "", "Output format: csv or csv+hst")
	flags.String("offset", "", "Display UTC offset (e.g. +02:00)")
	flags.String("pool", "", "Data pool directory")
	flags.String("output", "", "Output directory")
	flags.Int("workers", 0, "Download worker count (0 = auto)")
	flags.Bool("verbose", false, "Enable debug logging")
}

func main() {
	// Missing .env is fine; flags and config cover everything.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("Error: %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	flags := cmd.Flags()

	verbose, _ := flags.GetBool("verbose")
	logx.Setup(verbose)

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg, cmd)

	tf, err := tfutils.Parse(cfg.Timeframe)
	if err != nil {
		return err
	}
	digits, ok := cfg.DigitsFor(cfg.Instrument)
	if !ok {
		return fmt.Errorf("unknown instrument %q: add it to the digits config", cfg.Instrument)
	}
	offset, err := cfg.Offset()
	if err != nil {
		return err
	}

	start := cfg.Start.UTC()
	end := cfg.End.UTC()
	if !end.After(start) {
		return fmt.Errorf("end time must be after start time")
	}

	if err := os.MkdirAll(cfg.PoolDir, 0o755); err != nil {
		return fmt.Errorf("create pool directory: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warnf("Received signal %v, cancelling run...", sig)
		cancel()
	}()

	dataPool := pool.New(cfg.PoolDir, pool.Config{
		BaseURLs:            cfg.BaseURLs,
		RetryCount:          cfg.RetryCount,
		RetryBackoff:        time.Duration(cfg.RetryBackoffSeconds) * time.Second,
		Timeout:             time.Duration(cfg.TimeoutSeconds) * time.Second,
		VerifyChecksum:      cfg.VerifyChecksum,
		RefreshCache:        cfg.RefreshCache,
		RecentRefreshWindow: time.Duration(cfg.RecentRefreshDays) * 24 * time.Hour,
	})
	client := dukascopy.NewClient(dataPool, cfg.Instrument, digits, cfg.WorkerCount)

	var calendar *session.Calendar
	if cfg.UseSessionCalendar {
		calendar = session.New(cfg.Session)
	}

	aggOpts := aggregate.Options{
		Digits:               digits,
		UTCOffset:            offset,
		Start:                start,
		End:                  end,
		FilterWeekends:       cfg.FilterWeekends,
		DeduplicateTicks:     cfg.DeduplicateTicks,
		SkipFallbackIfTicked: cfg.SkipFallbackIfTicked,
		Calendar:             calendar,
	}
	agg := aggregate.New(aggOpts)
	sum := export.NewSummary()

	log.WithFields(log.Fields{
		"run_id":     sum.RunID,
		"instrument": cfg.Instrument,
		"start":      start,
		"end":        end,
		"mode":       cfg.Mode,
		"timeframe":  tf.Token,
	}).Info("starting run")

	tickMode := cfg.Mode != "direct"
	if tickMode {
		err = client.DownloadTicks(ctx, start, end, cfg.FallbackToM1, agg, sum)
	} else {
		err = client.DownloadM1Bars(ctx, start, end, agg, sum)
	}
	if err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}

	m1Bars := agg.GetBars()

	if cfg.RepairGaps && tickMode {
		repairOpts := aggOpts
		repairOpts.DeduplicateTicks = false
		repairOpts.SkipFallbackIfTicked = true
		repairAgg := aggregate.New(repairOpts)
		if err := client.DownloadM1Bars(ctx, start, end, repairAgg, export.NewSummary()); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		sum.GapRepairBarsAdded, sum.GapRepairBarsSkipped = dukascopy.RepairGaps(agg, repairAgg.GetBars())
		m1Bars = agg.GetBars()
	}

	if cfg.ValidateM1 && tickMode {
		validateOpts := aggOpts
		validateOpts.DeduplicateTicks = false
		validateOpts.SkipFallbackIfTicked = false
		validateAgg := aggregate.New(validateOpts)
		if err := client.DownloadM1Bars(ctx, start, end, validateAgg, export.NewSummary()); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		tolerance := float64(cfg.ValidationTolerancePoints) / market.Scale(digits)
		sum.ValidationChecked, sum.ValidationMismatches = dukascopy.ValidateBars(m1Bars, validateAgg.GetBars(), tolerance)
	}

	bars := m1Bars
	if !(tf.Kind == tfutils.KindMinutes && tf.Minutes <= 1) {
		bars = resample.Resample(bars, tf)
	}
	sum.Bars = int64(len(bars))
	sum.DuplicateTicksDropped = agg.DuplicateTicksDropped()
	sum.FallbackBarsSkipped = agg.FallbackBarsSkipped()

	csvPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s_%s.csv", cfg.Instrument, tf.Token))
	if err := export.WriteCSV(csvPath, bars); err != nil {
		return err
	}

	hstPath := ""
	if cfg.Format != "csv" {
		hstPath = filepath.Join(cfg.OutputDir, fmt.Sprintf("%s_%s.hst", cfg.Instrument, tf.Token))
		if err := export.WriteHST(hstPath, bars, cfg.Instrument, digits, tf.Minutes); err != nil {
			return err
		}
	}

	connStr := cfg.DBConnStr
	if connStr == "" {
		connStr = os.Getenv("DB_CONN_STR")
	}
	if connStr != "" {
		if err := saveToDB(ctx, connStr, cfg.Instrument, tf.Token, bars); err != nil {
			return err
		}
	}

	sum.Print(os.Stdout)
	sum.Log()
	fmt.Printf("CSV: %s\n", csvPath)
	if hstPath != "" {
		fmt.Printf("HST: %s\n", hstPath)
	}
	return nil
}

func saveToDB(ctx context.Context, connStr, instrument, timeframe string, bars []market.Bar) error {
	storage, err := db.NewPostgres(ctx, connStr, 10, 5)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := storage.SaveBars(ctx, instrument, timeframe, bars); err != nil {
		return err
	}
	log.WithFields(log.Fields{"instrument": instrument, "timeframe": timeframe, "bars": len(bars)}).Info("bars saved to database")
	return nil
}

func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command) {
	flags := cmd.Flags()

	if flags.Changed("instrument") {
		cfg.Instrument, _ = flags.GetString("instrument")
	}
	if flags.Changed("start") {
		if v, _ := flags.GetString("start"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				cfg.Start = t
			} else {
				log.Warnf("ignoring malformed --start %q: %v", v, err)
			}
		}
	}
	if flags.Changed("end") {
		if v, _ := flags.GetString("end"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				cfg.End = t
			} else {
				log.Warnf("ignoring malformed --end %q: %v", v, err)
			}
		}
	}
	if flags.Changed("timeframe") {
		cfg.Timeframe, _ = flags.GetString("timeframe")
	}
	if flags.Changed("mode") {
		cfg.Mode, _ = flags.GetString("mode")
	}
	if flags.Changed("format") {
		cfg.Format, _ = flags.GetString("format")
	}
	if flags.Changed("offset") {
		cfg.UTCOffset, _ = flags.GetString("offset")
	}
	if flags.Changed("pool") {
		cfg.PoolDir, _ = flags.GetString("pool")
	}
	if flags.Changed("output") {
		cfg.OutputDir, _ = flags.GetString("output")
	}
	if flags.Changed("workers") {
		cfg.WorkerCount, _ = flags.GetInt("workers")
	}
}
