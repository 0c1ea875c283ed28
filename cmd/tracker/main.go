package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cian-tracker/internal/browser"
	"cian-tracker/internal/collector"
	"cian-tracker/internal/config"
	"cian-tracker/internal/fetcher"
	"cian-tracker/internal/geo"
	"cian-tracker/internal/handlers"
	"cian-tracker/internal/models"
	"cian-tracker/internal/ratelimit"
	"cian-tracker/internal/scheduler"
	"cian-tracker/internal/search"
	"cian-tracker/internal/store"
	"cian-tracker/internal/syncer"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run a single tracking pass and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v. Using defaults.", *configPath, err)
		cfg = config.DefaultConfig()
	} else {
		log.Printf("Loaded configuration from %s", *configPath)
	}

	dataset := store.NewCSVStore(cfg.Storage.CSVPath, cfg.Storage.JSONMirror)

	var archive *store.PostgresArchive
	if cfg.Archive.Enabled {
		archive, err = store.OpenPostgresArchive(cfg.Archive.DSN())
		if err != nil {
			log.Fatalf("Failed to connect to archive database: %v", err)
		}
		defer archive.Close()
		log.Println("Run archive enabled")
	}

	var index *search.Client
	if cfg.Index.Enabled {
		index = search.NewClient(cfg.Index.Host, cfg.Index.APIKey, cfg.Index.Index)
		if err := index.InitIndex(); err != nil {
			log.Printf("Warning: search index unavailable: %v", err)
			index = nil
		} else {
			log.Printf("Search index %q ready", cfg.Index.Index)
		}
	}

	runner := buildSynchronizer(cfg, dataset)

	job := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()

		stats, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		listings, loadErr := dataset.Load()
		if loadErr != nil {
			log.Printf("Warning: failed to reload dataset after run: %v", loadErr)
			return nil
		}
		if archive != nil {
			if err := archive.ArchiveRun(ctx, time.Now(), listings, stats); err != nil {
				log.Printf("Warning: failed to archive run: %v", err)
			}
		}
		if index != nil {
			if err := index.IndexListings(activeOnly(listings)); err != nil {
				log.Printf("Warning: failed to push listings to search index: %v", err)
			}
		}
		return nil
	}

	if *once {
		if err := job(); err != nil {
			log.Fatalf("Tracking run failed: %v", err)
		}
		return
	}

	sched := scheduler.NewScheduler(cfg.Scheduler, job)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	if cfg.API.Enabled {
		go serveAPI(cfg, dataset, sched, index)
	}

	if !cfg.Scheduler.Enabled && !cfg.API.Enabled {
		// Nothing to wait for; behave like -once.
		if err := job(); err != nil {
			log.Fatalf("Tracking run failed: %v", err)
		}
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")
}

func buildSynchronizer(cfg *config.Config, dataset *store.CSVStore) *syncer.Synchronizer {
	browserOpts := browser.DefaultOptions()
	browserOpts.Headless = cfg.Browser.Headless
	browserOpts.PageTimeout = cfg.Browser.GetTimeout()
	browserOpts.ExecPath = cfg.Browser.ExecPath
	if cfg.UserAgent != "" {
		browserOpts.UserAgent = cfg.UserAgent
	}
	factory := browser.NewChromeFactory(browserOpts)

	limiter := ratelimit.NewLimiter(1, cfg.Search.GetPageDelay(), cfg.Search.GetPageJitter())
	col := collector.New(factory, limiter)

	det := fetcher.New(factory, cfg.Fetcher.MaxWorkers, cfg.Fetcher.MaxRetries, cfg.Fetcher.GetRetryDelay())

	geoOpts := geo.DefaultOptions()
	if cfg.Geo.NominatimURL != "" {
		geoOpts.NominatimURL = cfg.Geo.NominatimURL
	}
	if cfg.Geo.OSRMURL != "" {
		geoOpts.OSRMURL = cfg.Geo.OSRMURL
	}
	geoOpts.MaxRetries = cfg.Geo.MaxRetries
	geoOpts.BaseDelay = cfg.Geo.GetRetryDelay()
	geoOpts.Timeout = cfg.Geo.GetTimeout()
	calc := geo.NewCalculator(geoOpts, &http.Client{Timeout: geoOpts.Timeout})

	return syncer.New(col, det, calc, dataset, syncer.Options{
		SearchURL:          cfg.Search.URL,
		MaxPages:           cfg.Search.MaxPages,
		MaxDistanceKm:      cfg.Search.MaxDistanceKm,
		TimeFilterMinutes:  cfg.Search.TimeFilterMinutes,
		ReferenceAddress:   cfg.Search.ReferenceAddress,
		EstimationBackfill: cfg.Fetcher.EstimationBackfill,
	})
}

func serveAPI(cfg *config.Config, dataset *store.CSVStore, sched *scheduler.Scheduler, index *search.Client) {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.NewHandler(dataset, dataset, sched).Register(r)

	if index != nil {
		r.GET("/api/search", func(c *gin.Context) {
			params := search.FilterParams{
				Query:      c.Query("q"),
				ActiveOnly: c.Query("active") == "true",
				SortBy:     c.Query("sort"),
			}
			if v, err := strconv.ParseFloat(c.Query("max_price"), 64); err == nil {
				params.MaxPrice = &v
			}
			if v, err := strconv.ParseFloat(c.Query("min_price"), 64); err == nil {
				params.MinPrice = &v
			}
			if v, err := strconv.ParseFloat(c.Query("max_distance"), 64); err == nil {
				params.MaxDistance = &v
			}
			if v, err := strconv.ParseInt(c.Query("limit"), 10, 64); err == nil {
				params.Limit = v
			}
			hits, err := index.FilterSearch(params)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"listings": hits, "count": len(hits)})
		})
	}

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("API server listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("API server failed: %v", err)
	}
}

func activeOnly(listings []models.Listing) []models.Listing {
	active := make([]models.Listing, 0, len(listings))
	for i := range listings {
		if listings[i].IsActive() {
			active = append(active, listings[i])
		}
	}
	return active
}
