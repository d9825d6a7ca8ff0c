package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/symptomradar/internal/config"
	"github.com/elonfeng/symptomradar/internal/cursor"
	"github.com/elonfeng/symptomradar/internal/logging"
	"github.com/elonfeng/symptomradar/internal/metrics"
	"github.com/elonfeng/symptomradar/internal/scheduler"
	"github.com/elonfeng/symptomradar/internal/store"
	"github.com/elonfeng/symptomradar/pkg/alert"
	"github.com/elonfeng/symptomradar/pkg/export"
	"github.com/elonfeng/symptomradar/pkg/fetch"
	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/query"
	"github.com/elonfeng/symptomradar/pkg/server"
	"github.com/elonfeng/symptomradar/pkg/source"
	"github.com/elonfeng/symptomradar/pkg/taxonomy"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds everything built from the config. close releases it all.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	tax      *taxonomy.Taxonomy
	db       *store.SQLiteStore
	closers  []func() error
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	tax, err := loadTaxonomy(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  metrics.New(reg),
		tax:      tax,
		db:       db,
	}
	a.closers = append(a.closers, db.Close)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Warn("shutdown")
		}
	}
}

func loadTaxonomy(cfg *config.Config) (*taxonomy.Taxonomy, error) {
	var (
		tax *taxonomy.Taxonomy
		err error
	)
	if cfg.Taxonomy.File != "" {
		tax, err = taxonomy.Load(cfg.Taxonomy.File)
	} else {
		tax, err = taxonomy.Preset(cfg.Taxonomy.Preset)
	}
	if err != nil {
		return nil, fmt.Errorf("load taxonomy: %w", err)
	}
	return tax, nil
}

func (a *app) searcher() (source.Searcher, error) {
	timeout := a.cfg.Search.ParseTimeout()
	switch a.cfg.Search.Provider {
	case "nitter":
		return source.NewNitter(a.cfg.Search.Nitter.URL, timeout), nil
	default:
		if a.cfg.Search.X.BearerToken == "" {
			return nil, fmt.Errorf("search provider x needs a bearer token (set X_BEARER_TOKEN)")
		}
		return source.NewX(a.cfg.Search.X.BearerToken, a.cfg.Search.X.BaseURL, timeout), nil
	}
}

func (a *app) cursorStore(ctx context.Context) (cursor.Store, error) {
	if a.cfg.Cursor.Backend != "redis" {
		fs, err := cursor.NewFileStore(a.cfg.Cursor.Dir)
		if err != nil {
			return nil, fmt.Errorf("open cursor dir: %w", err)
		}
		return fs, nil
	}

	rc := a.cfg.Cursor.Redis
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:       rc.Addrs,
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return cursor.NewRedisStore(client, rc.Prefix), nil
}

func (a *app) coordinator(ctx context.Context, symptoms []string, mode string) (*pipeline.Coordinator, error) {
	s, err := a.searcher()
	if err != nil {
		return nil, err
	}
	cursors, err := a.cursorStore(ctx)
	if err != nil {
		return nil, err
	}

	fc := a.cfg.Fetch
	if mode == "" {
		mode = fc.Mode
	}
	runMode, err := pipeline.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	queryMode, err := query.ParseMode(fc.QueryMode)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(s, fetch.Config{
		PageSize:   fc.PageSize,
		MaxRetries: fc.MaxRetries,
		BaseDelay:  fc.ParseBaseDelay(),
		MaxDelay:   fc.ParseMaxDelay(),
		Pacing:     fc.ParsePacing(),
	}, a.log, a.metrics)

	return pipeline.New(pipeline.Deps{
		Taxonomy: a.tax,
		Fetcher:  fetcher,
		Cursors:  cursors,
		Log:      a.log,
		Metrics:  a.metrics,
	}, pipeline.Options{
		Mode:       runMode,
		QueryMode:  queryMode,
		Windows:    fc.Windows,
		Lookback:   fc.ParseLookback(),
		MaxResults: fc.MaxResults,
		Thresholds: taxonomy.Thresholds{Rising: a.cfg.Trend.Rising, Flat: a.cfg.Trend.Flat},
		Symptoms:   symptoms,
	})
}

func (a *app) alertManager() (*alert.Manager, error) {
	ac := a.cfg.Alerts
	var notifiers []alert.Notifier

	if ac.Slack.Enabled && ac.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(ac.Slack.WebhookURL))
	}
	if ac.Discord.Enabled && ac.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(ac.Discord.WebhookURL))
	}
	if ac.Webhook.Enabled && ac.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(ac.Webhook.URL, ac.Webhook.Secret))
	}
	if ac.Kafka.Enabled {
		k, err := alert.NewKafka(ac.Kafka.Brokers, ac.Kafka.Topic, ac.Kafka.ClientID)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, k)
	}

	mgr := alert.NewManager(notifiers, a.metrics)
	a.closers = append(a.closers, mgr.Close)
	return mgr, nil
}

func (a *app) scheduler(ctx context.Context, symptoms []string, mode, exportDir string, notify bool) (*scheduler.Scheduler, error) {
	coord, err := a.coordinator(ctx, symptoms, mode)
	if err != nil {
		return nil, err
	}
	var mgr *alert.Manager
	if notify {
		if mgr, err = a.alertManager(); err != nil {
			return nil, err
		}
	}
	return scheduler.New(coord, a.db, mgr, scheduler.Options{
		Interval:  a.cfg.Schedule.ParseInterval(),
		ExportDir: exportDir,
		Location:  a.cfg.Export.Location(),
		TopN:      a.cfg.Alerts.TopN,
		Log:       a.log,
	}), nil
}

type collectOptions struct {
	symptoms   []string
	mode       string
	jsonOutput bool
	exportDir  string
	notify     bool
}

func runCollect(ctx context.Context, opts collectOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := a.scheduler(ctx, opts.symptoms, opts.mode, opts.exportDir, opts.notify)
	if err != nil {
		return err
	}

	res, runErr := sched.RunOnce(ctx)
	if res == nil {
		return runErr
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		fmt.Printf("run %s: %s, %d valid posts in %s\n", res.ID, res.Status, res.TotalValid(), res.Duration().Round(time.Millisecond))
		if err := printRanking(os.Stdout, res.Ranking); err != nil {
			return err
		}
		printOutcomes(os.Stderr, res.Outcomes)
	}
	return runErr
}

func printRanking(out io.Writer, rows []trend.Row) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSYMPTOM\tCOUNT\tTREND")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s %s\n", r.Rank, r.Symptom, r.Count, r.Trend.Symbol(), r.Trend)
	}
	return w.Flush()
}

func printOutcomes(out io.Writer, outcomes []pipeline.StreamOutcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STREAM\tWINDOW\tFETCHED\tVALID\tSTOP\tERROR")
	for _, o := range outcomes {
		window := o.Window
		if window == "" {
			window = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", o.Stream, window, o.Fetched, o.Valid, o.Stop, o.Error)
	}
	w.Flush()
}

func runRankings(ctx context.Context, taxonomyName string, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	run, err := a.db.LatestRun(ctx, taxonomyName)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Println("no runs found (try collecting data first: symptomradar collect)")
		return nil
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	fmt.Printf("%s run %s (%s) at %s\n", run.Taxonomy, run.ID, run.Status, run.StartedAt.In(a.cfg.Export.Location()).Format(time.RFC3339))
	return printRanking(os.Stdout, run.Ranking)
}

func runRuns(ctx context.Context, limit int, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	runs, err := a.db.ListRuns(ctx, store.RunListOpts{Limit: limit})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAXONOMY\tSTATUS\tVALID\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Taxonomy, r.Status, r.TotalValid, r.StartedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runExport(ctx context.Context, runID, dir string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	var run *store.Run
	if runID == "" {
		run, err = a.db.LatestRun(ctx, "")
	} else {
		run, err = a.db.GetRun(ctx, runID)
	}
	if err != nil {
		return err
	}
	posts, err := a.db.ListPosts(ctx, run.ID)
	if err != nil {
		return err
	}

	paths, err := export.Files(dir, &pipeline.RunResult{
		ID:         run.ID,
		Taxonomy:   run.Taxonomy,
		StartedAt:  run.StartedAt,
		Status:     pipeline.Status(run.Status),
		Ranking:    run.Ranking,
		ValidPosts: posts,
	}, a.cfg.Export.Location())
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(paths, "\n"))
	return nil
}

func runTaxonomy(queryMode string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tax, err := loadTaxonomy(cfg)
	if err != nil {
		return err
	}
	if queryMode == "" {
		queryMode = cfg.Fetch.QueryMode
	}
	mode, err := query.ParseMode(queryMode)
	if err != nil {
		return err
	}

	fmt.Printf("taxonomy %s (lang %s), thresholds rising>%d flat>%d\n",
		tax.Name, tax.Language, tax.Thresholds.Rising, tax.Thresholds.Flat)
	b := query.NewBuilder(tax)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STREAM\tQUERY")
	for i := range tax.Entries {
		e := &tax.Entries[i]
		fmt.Fprintf(w, "%s\t%s\n", tax.StreamKey(e), b.Build(e, mode))
	}
	return w.Flush()
}

func runServe(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Collection over HTTP is only offered when a searcher can be built.
	var collect server.CollectFunc
	if sched, err := a.scheduler(ctx, nil, "", a.cfg.Export.Dir, true); err == nil {
		collect = sched.RunOnce
	} else {
		a.log.WithError(err).Warn("collection endpoint disabled")
	}

	srv := server.New(a.db, a.tax, collect, a.registry, a.log, port)
	return srv.ListenAndServe(ctx)
}

func runDaemon(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := a.scheduler(ctx, nil, "", a.cfg.Export.Dir, true)
	if err != nil {
		return err
	}
	srv := server.New(a.db, a.tax, sched.RunOnce, a.registry, a.log, port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	err = g.Wait()
	a.log.Info("shutting down")
	return err
}
