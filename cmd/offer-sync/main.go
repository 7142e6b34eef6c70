package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/bonalyze/offer-sync/internal/category"
	"github.com/bonalyze/offer-sync/internal/config"
	"github.com/bonalyze/offer-sync/internal/embeddings"
	"github.com/bonalyze/offer-sync/internal/events"
	"github.com/bonalyze/offer-sync/internal/logger"
	"github.com/bonalyze/offer-sync/internal/marktguru"
	"github.com/bonalyze/offer-sync/internal/metrics"
	"github.com/bonalyze/offer-sync/internal/retry"
	"github.com/bonalyze/offer-sync/internal/run"
	"github.com/bonalyze/offer-sync/internal/search"
	"github.com/bonalyze/offer-sync/internal/storage"
	"github.com/bonalyze/offer-sync/internal/sync"
	"github.com/bonalyze/offer-sync/internal/web"
)

// exitPolicyFailure is returned when the run health check fails.
const exitPolicyFailure = 2

var cfg *config.Config

func main() {
	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	configPath := globalFlags.String("config", "./config.yaml", "Path to the YAML config file")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Find where the command starts (skip global flags)
	commandIdx := 1
	for i := 1; i < len(os.Args); i++ {
		if !strings.HasPrefix(os.Args[i], "-") {
			commandIdx = i
			break
		}
	}
	if commandIdx > 1 {
		_ = globalFlags.Parse(os.Args[1:commandIdx])
	}

	var err error
	cfg, err = config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Env: cfg.Env})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[commandIdx]
	args := os.Args[commandIdx+1:]

	switch command {
	case "sync":
		syncFlags := flag.NewFlagSet("sync", flag.ExitOnError)
		dryRun := syncFlags.Bool("dry-run", false, "Fetch at most 10 offers per retailer and write nothing")
		allowPartial := syncFlags.Bool("allow-partial-success", false, "Do not fail the run when single retailers fail")
		maxFailureRate := syncFlags.Float64("max-failure-rate", cfg.FailureRateLimit(), "Maximum tolerated failed/fetched ratio")
		metricsFile := syncFlags.String("metrics-file", "", "Write run metrics to this textfile")
		stores := syncFlags.String("stores", "", "Comma-separated retailers to sync (overrides ALLOWED_STORES)")
		_ = syncFlags.Parse(args)
		if *stores != "" {
			cfg.Upstream.AllowedStores = strings.Split(*stores, ",")
		}

		code := runSync(ctx, syncOptions{
			dryRun:         *dryRun,
			allowPartial:   *allowPartial || !cfg.Run.FailOnPartialSync,
			maxFailureRate: max(*maxFailureRate, 0),
			metricsFile:    *metricsFile,
		})
		stop()
		os.Exit(code)
	case "search":
		searchFlags := flag.NewFlagSet("search", flag.ExitOnError)
		semantic := searchFlags.Bool("semantic", false, "Use semantic search only")
		hybrid := searchFlags.Float64("hybrid", 0.0, "Use hybrid search (0.0-1.0, where value is semantic weight)")
		store := searchFlags.String("store", "", "Restrict results to one retailer")
		_ = searchFlags.Parse(args)

		if searchFlags.NArg() < 1 {
			fmt.Println("Error: search query required")
			fmt.Println("Usage: offer-sync [--config=<file>] search [flags] <query>")
			os.Exit(1)
		}
		runSearch(ctx, strings.Join(searchFlags.Args(), " "), *store, *semantic, *hybrid)
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		port := serveFlags.Int("port", cfg.Server.Port, "Port to listen on")
		host := serveFlags.String("host", "localhost", "Host to bind to")
		_ = serveFlags.Parse(args)

		runServe(ctx, *host, *port)
	case "reindex":
		runReindex(ctx)
	case "stats":
		runStats(ctx)
	case "get-offer":
		if len(args) < 1 {
			fmt.Println("Error: offer ID required")
			fmt.Println("Usage: offer-sync [--config=<file>] get-offer <offer-id>")
			os.Exit(1)
		}
		runGetOffer(ctx, args[0])
	case "classify":
		classifyFlags := flag.NewFlagSet("classify", flag.ExitOnError)
		hint := classifyFlags.String("hint", "", "Upstream category hint")
		_ = classifyFlags.Parse(args)
		runClassify(*hint, strings.Join(classifyFlags.Args(), " "))
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("offer-sync - marktguru offer ingestion and search")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  offer-sync [global-flags] <command> [flags]")
	fmt.Println()
	fmt.Println("Global Flags:")
	fmt.Println("  --config=<file>  YAML config (default: ./config.yaml, missing file = defaults)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  sync [flags]             Fetch, embed, mark and sweep offers of every configured retailer")
	fmt.Println("  search [flags] <query>   Search stored offers")
	fmt.Println("  serve [flags]            Start the JSON API (/api/search, /api/offer, /health, /metrics)")
	fmt.Println("  reindex                  Rebuild the keyword index from the store")
	fmt.Println("  stats                    Show store and index counts")
	fmt.Println("  get-offer <id>           Print one stored offer as JSON")
	fmt.Println("  classify [-hint=<h>] <name>  Print the category for a product name")
	fmt.Println()
	fmt.Println("Sync Flags:")
	fmt.Println("  -dry-run                 Fetch at most 10 offers per retailer, write nothing")
	fmt.Println("  -allow-partial-success   Tolerate failed retailers")
	fmt.Println("  -max-failure-rate=<r>    Maximum failed/fetched ratio (default from config)")
	fmt.Println("  -metrics-file=<path>     Write Prometheus textfile metrics after the run")
	fmt.Println("  -stores=<a,b>            Only sync these retailers")
	fmt.Println()
	fmt.Println("Exit status: 0 success, 1 usage or setup error, 2 run health check failed")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  offer-sync sync")
	fmt.Println("  ALLOWED_STORES=edeka,lidl offer-sync sync -dry-run")
	fmt.Println("  offer-sync search -store=lidl Frikadelle")
	fmt.Println("  offer-sync search -hybrid=0.3 \"Bier Kasten\"")
	fmt.Println("  offer-sync classify -hint=Bier \"Pils 20x0,5l\"")
}

type syncOptions struct {
	dryRun         bool
	allowPartial   bool
	maxFailureRate float64
	metricsFile    string
}

func runSync(ctx context.Context, opts syncOptions) int {
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		Log:         log.Logger,
	}

	static := marktguru.StaticHeaders{
		APIKey:    cfg.Upstream.APIKey,
		ClientKey: cfg.Upstream.ClientKey,
		UserAgent: cfg.Upstream.UserAgent,
	}
	var discoverer marktguru.HeaderProvider
	if cfg.Discovery.Enabled {
		discoverer = &marktguru.HomepageDiscoverer{
			URL:       cfg.Discovery.HomepageURL,
			UserAgent: cfg.Upstream.UserAgent,
			HTTP:      &http.Client{Timeout: 30 * time.Second},
		}
	}
	headers := marktguru.ResolveHeaders(ctx, discoverer, static,
		time.Duration(cfg.Discovery.TimeoutSeconds)*time.Second, log.Logger)
	if missing := marktguru.MissingKeys(headers); len(missing) > 0 {
		log.Error().Strs("headers", missing).Msg("no marktguru API credentials: set MARKTGURU_API_KEY and MARKTGURU_CLIENT_KEY or enable discovery")
		return 1
	}

	minDelay, maxDelay := cfg.PageDelay()
	retailerIDs := cfg.Upstream.RetailerIDs
	if len(retailerIDs) == 0 {
		retailerIDs = marktguru.DefaultRetailerIDs
	}
	client := marktguru.NewClient(marktguru.Options{
		BaseURL:     cfg.Upstream.BaseURL,
		ZipCode:     cfg.Upstream.ZipCode,
		RetailerIDs: retailerIDs,
		PageSize:    cfg.Upstream.PageSize,
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		Timeout:     time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		Headers:     headers,
		Retry:       policy,
		Log:         log.Logger,
	})

	index := category.NewIndex(client.IndexLoader(cfg.Upstream.ListingLimit), log.Logger)
	reg := metrics.NewRegistry()
	runner := &sync.Runner{
		Fetcher:       client,
		Parser:        marktguru.NewParser(index, log.Logger),
		Metrics:       reg,
		Log:           log.Logger,
		Retailers:     cfg.Stores(retailerIDs),
		DryRun:        opts.dryRun,
		RetailerDelay: cfg.RetailerDelay(),
	}

	if !opts.dryRun {
		db, err := openStore(ctx)
		if err != nil {
			log.Error().Err(err).Msg("open store")
			return 1
		}
		defer db.Close()

		embedder, err := embeddings.NewEmbedder(cfg.Embeddings.Provider, cfg.Embeddings.URL, cfg.Embeddings.Model)
		if err != nil {
			log.Error().Err(err).Msg("embedding provider")
			return 1
		}
		if err := embedder.Health(ctx); err != nil {
			log.Warn().Err(err).Str("provider", cfg.Embeddings.Provider).Msg("embedding provider not healthy, offers may lack embeddings")
		}
		cache, closeCache := embeddingCache(db)
		defer closeCache()

		idx, err := search.Open(cfg.Search.IndexPath, db)
		if err != nil {
			log.Error().Err(err).Msg("open search index")
			return 1
		}
		defer idx.Close()

		publisher := eventPublisher()
		defer publisher.Close()

		runner.Embedder = embeddings.NewService(embedder, cache, embeddings.Options{
			BatchSize: cfg.Embeddings.BatchSize,
			Log:       log.Logger,
		})
		runner.Engine = sync.NewEngine(db, policy, log.Logger)
		runner.Reindexer = idx
		runner.Events = publisher
	}

	sum := runner.Run(ctx)

	code := 0
	failure := run.Evaluate(sum.Stats, run.Policy{
		DryRun:         opts.dryRun,
		AllowPartial:   opts.allowPartial,
		MaxFailureRate: opts.maxFailureRate,
	})
	if failure != nil {
		log.Error().Str("reason", string(failure.Reason)).Msg(failure.Message)
		code = exitPolicyFailure
	} else {
		reg.MarkSuccess(time.Now())
		log.Info().Msg("sync finished")
	}

	if opts.metricsFile != "" {
		if err := reg.WriteTextfile(opts.metricsFile); err != nil {
			log.Warn().Err(err).Str("path", opts.metricsFile).Msg("write metrics textfile")
		}
	}
	return code
}

func openStore(ctx context.Context) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return storage.OpenPG(ctx, cfg.Storage.PGDSN, cfg.Storage.MaxConns, cfg.Storage.ViaBouncer)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
			return nil, err
		}
		return storage.Open(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (expected sqlite|postgres)", cfg.Storage.Driver)
	}
}

// embeddingCache picks the configured cache backend. The returned func
// releases it.
func embeddingCache(db storage.Store) (embeddings.Cache, func()) {
	switch cfg.Embeddings.Cache {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Embeddings.RedisAddr})
		ttl := time.Duration(cfg.Embeddings.RedisTTLSeconds) * time.Second
		return embeddings.NewRedisCache(rdb, "", ttl), func() { _ = rdb.Close() }
	case "none":
		return nil, func() {}
	default:
		return db.EmbeddingCache(), func() {}
	}
}

func eventPublisher() events.Publisher {
	if len(cfg.Events.Brokers) == 0 {
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
}

func openReadSide(ctx context.Context) (storage.Store, *search.Index) {
	db, err := openStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening store")
	}
	idx, err := search.Open(cfg.Search.IndexPath, db)
	if err != nil {
		db.Close()
		log.Fatal().Err(err).Msg("Error opening search index")
	}
	return db, idx
}

// queryEmbedder returns a healthy provider or nil.
func queryEmbedder(ctx context.Context) embeddings.Embedder {
	embedder, err := embeddings.NewEmbedder(cfg.Embeddings.Provider, cfg.Embeddings.URL, cfg.Embeddings.Model)
	if err != nil {
		log.Warn().Err(err).Msg("embedding provider unavailable")
		return nil
	}
	if err := embedder.Health(ctx); err != nil {
		log.Warn().Err(err).Str("provider", cfg.Embeddings.Provider).Msg("embedding provider not healthy, semantic/hybrid search disabled")
		return nil
	}
	return embedder
}

func runSearch(ctx context.Context, query, store string, semanticOnly bool, hybridWeight float64) {
	db, idx := openReadSide(ctx)
	defer db.Close()
	defer idx.Close()

	var (
		results []*search.SearchResult
		err     error
	)
	if semanticOnly || hybridWeight > 0 {
		embedder := queryEmbedder(ctx)
		if embedder == nil {
			log.Fatal().Msg("Semantic search requires a running embedding provider")
		}
		queryEmbedding, err := embedder.Embed(ctx, query)
		if err != nil {
			log.Fatal().Err(err).Msg("Error generating query embedding")
		}
		if semanticOnly {
			fmt.Println("Using semantic search...")
			results, err = idx.SemanticSearch(ctx, queryEmbedding, store, 10)
		} else {
			fmt.Printf("Using hybrid search (%.0f%% keyword, %.0f%% semantic)...\n", (1-hybridWeight)*100, hybridWeight*100)
			results, err = idx.HybridSearch(ctx, query, queryEmbedding, store, 10, 1-hybridWeight)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Error searching")
		}
	} else {
		fmt.Println("Using keyword search...")
		results, err = idx.Search(ctx, query, store, 10)
		if err != nil {
			log.Fatal().Err(err).Msg("Error searching")
		}
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}
	fmt.Printf("\nFound %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%d. %s (%s)\n", i+1, r.Name, r.Store)
		fmt.Printf("   Price: %.2f EUR\n", r.Price)
		if r.Category != "" {
			fmt.Printf("   Category: %s\n", r.Category)
		}
		fmt.Printf("   URL: %s\n", r.SourceURL)
		fmt.Printf("   Score: %.3f\n", r.Score)
		if snippets, ok := r.Fragments["Name"]; ok && len(snippets) > 0 {
			fmt.Printf("   Match: %s\n", snippets[0])
		}
		fmt.Println()
	}
}

func runStats(ctx context.Context) {
	db, idx := openReadSide(ctx)
	defer db.Close()
	defer idx.Close()

	dbCount, err := db.Count(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error getting store count")
	}
	perStore, err := db.CountByStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error getting per-store counts")
	}
	indexCount, err := idx.Count()
	if err != nil {
		log.Fatal().Err(err).Msg("Error getting index count")
	}

	fmt.Println("=== Offer Statistics ===")
	fmt.Printf("Offers in store: %d\n", dbCount)
	stores := make([]string, 0, len(perStore))
	for s := range perStore {
		stores = append(stores, s)
	}
	slices.Sort(stores)
	for _, s := range stores {
		fmt.Printf("  %-12s %d\n", s, perStore[s])
	}
	fmt.Printf("Offers in index: %d\n", indexCount)
}

func runGetOffer(ctx context.Context, id string) {
	db, err := openStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening store")
	}
	defer db.Close()

	row, err := db.Get(ctx, id)
	if err != nil {
		log.Fatal().Err(err).Msg("Error retrieving offer")
	}
	if row == nil {
		fmt.Printf("Offer not found: %s\n", id)
		db.Close()
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(row)
}

func runReindex(ctx context.Context) {
	db, idx := openReadSide(ctx)
	defer db.Close()
	defer idx.Close()

	fmt.Println("Rebuilding keyword search index...")
	start := time.Now()
	indexed, removed, err := idx.Rebuild(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error rebuilding index")
	}

	fmt.Println()
	fmt.Println("=== Reindex Complete ===")
	fmt.Printf("Offers indexed: %d\n", indexed)
	fmt.Printf("Removed:        %d\n", removed)
	fmt.Printf("Duration:       %v\n", time.Since(start).Round(time.Millisecond))
}

func runClassify(hint, name string) {
	label := category.Classify(hint, name)
	if label == "" {
		fmt.Println("Error: hint or name required")
		os.Exit(1)
	}
	fmt.Println(label)
}

func runServe(ctx context.Context, host string, port int) {
	db, idx := openReadSide(ctx)
	defer db.Close()
	defer idx.Close()

	server := web.NewServer(db, idx, queryEmbedder(ctx), metrics.NewRegistry(), log.Logger)
	addr := fmt.Sprintf("%s:%d", host, port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", "http://"+addr).Msg("offer-sync API listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Error starting server")
	}
}
