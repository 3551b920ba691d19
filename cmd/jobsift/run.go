package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/jobsift/jobsift/internal/acquire"
	"github.com/jobsift/jobsift/internal/config"
	"github.com/jobsift/jobsift/internal/enrich"
	"github.com/jobsift/jobsift/internal/extract"
	"github.com/jobsift/jobsift/internal/model"
	"github.com/jobsift/jobsift/internal/pipeline"
	"github.com/jobsift/jobsift/internal/store"
)

var (
	flagMaxRecords      int
	flagScrapeOnly      bool
	flagSkipProcessing  bool
	flagSkipStorage     bool
	flagMigrate         bool
	flagContinueOnError bool
	flagReplay          bool
	flagOrganizations   []string
	flagLocations       []string
	flagPostedAfter     string
	flagPostedBefore    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long:  "Acquire listings in batches, enrich them, and persist the results. Ctrl+C stops after the in-flight batch; a second Ctrl+C aborts.",
	RunE:  runPipeline,
}

func init() {
	runCmd.Flags().IntVar(&flagMaxRecords, "max-records", 0, "cap on records to process (0 = unlimited)")
	runCmd.Flags().BoolVar(&flagScrapeOnly, "scrape-only", false, "persist raw details without enrichment")
	runCmd.Flags().BoolVar(&flagSkipProcessing, "skip-processing", false, "skip enrichment (requires --skip-storage)")
	runCmd.Flags().BoolVar(&flagSkipStorage, "skip-storage", false, "skip the persistence sink")
	runCmd.Flags().BoolVar(&flagMigrate, "migrate", false, "promote each stored batch to the live store")
	runCmd.Flags().BoolVar(&flagContinueOnError, "continue-on-error", true, "isolate per-item failures instead of aborting")
	runCmd.Flags().BoolVar(&flagReplay, "replay", false, "serve matching extraction calls from the invocation log")
	runCmd.Flags().StringArrayVar(&flagOrganizations, "organization", nil, "filter listings by organization (repeatable)")
	runCmd.Flags().StringArrayVar(&flagLocations, "location", nil, "filter listings by location (repeatable)")
	runCmd.Flags().StringVar(&flagPostedAfter, "posted-after", "", "only listings posted after this date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&flagPostedBefore, "posted-before", "", "only listings posted before this date (YYYY-MM-DD)")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	printBanner()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	capabilities, err := config.LoadCapabilities(cfg.Taxonomy.CapabilitiesFile)
	if err != nil {
		return fmt.Errorf("load capability taxonomy: %w", err)
	}
	groups, err := config.LoadGroups(cfg.Taxonomy.GroupsFile)
	if err != nil {
		return fmt.Errorf("load classification taxonomy: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var source model.AcquisitionSource = acquire.NewBoardSource(cfg.Source.BaseURL, cfg.Source.Board, httpClient)
	if cfg.Source.MinDelay > 0 {
		source = acquire.NewRateLimitedSource(source, cfg.Source.MinDelay)
	}

	var caller extract.Caller = extract.NewLiveCaller(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, httpClient)
	if flagReplay {
		logger.Info("replay enabled, ledger hits skip the model")
		caller = extract.NewReplayCaller(db, caller)
	}
	extractor := extract.NewClient(caller, db, cfg.AI.Model, cfg.AI.MaxAttempts, cfg.AI.BaseDelay, cfg.AI.Timeout, logger)

	var embedder model.Embedder
	if cfg.AI.EmbeddingModel != "" {
		embedder = extract.NewEmbeddingClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.EmbeddingModel, httpClient)
	}

	stage := enrich.NewStage(extractor, db, db, embedder, logger)
	stage.LoadTaxonomies(capabilities, groups)

	var (
		sink     model.BatchSink    = db
		migrator model.LiveMigrator = db
	)
	if flagSkipStorage {
		nop := store.NewNopSink()
		sink, migrator = nop, nop
	}

	orch := pipeline.NewOrchestrator(source, stage, sink, migrator,
		cfg.Pipeline.Concurrency, cfg.Pipeline.BatchDelay, logger)

	bar := pb.New(0)
	orch.SetProgressFunc(func(completed, total int) {
		bar.SetTotal(int64(total))
		bar.SetCurrent(int64(completed))
	})
	bar.Start()
	defer bar.Finish()

	filters, err := buildFilters()
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		MaxRecords:      flagMaxRecords,
		BatchSize:       cfg.Pipeline.BatchSize,
		SkipProcessing:  flagSkipProcessing,
		SkipStorage:     flagSkipStorage,
		MigrateToLive:   flagMigrate,
		ContinueOnError: flagContinueOnError,
		ScrapeOnly:      flagScrapeOnly,
		Filters:         filters,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal requests a graceful stop; the second aborts in-flight work.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("stop requested, finishing in-flight batch")
		orch.Stop()
		<-sigCh
		logger.Warn("aborting")
		cancel()
	}()

	result, runErr := orch.Run(ctx, opts)
	bar.Finish()

	if result != nil {
		printSummary(result)
	}
	if runErr != nil {
		logger.Error("pipeline run failed", "error", runErr)
	}
	return runErr
}

func buildFilters() (model.SourceFilters, error) {
	filters := model.SourceFilters{
		Organizations: flagOrganizations,
		Locations:     flagLocations,
	}
	if flagPostedAfter == "" && flagPostedBefore == "" {
		return filters, nil
	}

	dr := &model.DateRange{}
	if flagPostedAfter != "" {
		t, err := time.Parse("2006-01-02", flagPostedAfter)
		if err != nil {
			return filters, fmt.Errorf("parse --posted-after %q: %w", flagPostedAfter, err)
		}
		dr.Start = t
	}
	if flagPostedBefore != "" {
		t, err := time.Parse("2006-01-02", flagPostedBefore)
		if err != nil {
			return filters, fmt.Errorf("parse --posted-before %q: %w", flagPostedBefore, err)
		}
		dr.End = t
	}
	filters.DateRange = dr
	return filters, nil
}

func printBanner() {
	pterm.DefaultBasicText.Println(pterm.LightCyan(" jobsift ") + pterm.Gray("— job listing ETL"))
}

func printSummary(result *pipeline.Result) {
	m := result.Metrics
	pterm.DefaultSection.Println("Run summary")
	pterm.Printf("status     %s\n", string(result.Status))
	pterm.Printf("scraped    %s (%s failed)\n", humanize.Comma(int64(m.Scraped)), humanize.Comma(int64(m.FailedScrapes)))
	pterm.Printf("processed  %s (%s failed)\n", humanize.Comma(int64(m.Processed)), humanize.Comma(int64(m.FailedEnrichments)))
	pterm.Printf("stored     %s (%s failed)\n", humanize.Comma(int64(m.Stored)), humanize.Comma(int64(m.FailedStores)))
	if m.FailedMigrations > 0 {
		pterm.Printf("migrations %s failed\n", humanize.Comma(int64(m.FailedMigrations)))
	}
	pterm.Printf("duration   %s\n", m.TotalDuration.Round(time.Millisecond))
	if n := len(m.Errors); n > 0 {
		pterm.Printf("errors     %d recorded (see logs or re-run failed items)\n", n)
	}
}
