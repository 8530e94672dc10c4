package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/toncenter/ton-indexer/ton-event-classifier/blocks"
	"github.com/toncenter/ton-indexer/ton-event-classifier/emulated"
	"github.com/toncenter/ton-indexer/ton-event-classifier/interfaces"
	"github.com/toncenter/ton-indexer/ton-event-classifier/models"
	"github.com/toncenter/ton-indexer/ton-event-classifier/pipeline"
)

type Config struct {
	PostgresDSN        string
	RedisURL           string
	ListenAddr         string
	BatchSize          int
	PoolSize           int
	PrefetchSize       int
	BigTracesThreshold int
	PoolsFile          string
	UseFinisher        bool
	EmulatedTraceTasks bool
	EmulatedChannel    string
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.PostgresDSN, "pg", "", "PostgreSQL connection DSN")
	flag.StringVar(&cfg.RedisURL, "redis", "", "Redis connection URL")
	flag.StringVar(&cfg.ListenAddr, "listen", ":8000", "HTTP server listen address")
	flag.IntVar(&cfg.BatchSize, "batch-size", 1000, "Number of tasks claimed per pass")
	flag.IntVar(&cfg.PoolSize, "pool-size", 4, "Number of classification workers")
	flag.IntVar(&cfg.PrefetchSize, "prefetch-size", 10, "Bound of the claimer-to-worker queue")
	flag.IntVar(&cfg.BigTracesThreshold, "big-traces-threshold", 4000, "Skip seqno-batch traces with more nodes than this")
	flag.StringVar(&cfg.PoolsFile, "pools-file", "", "Path to the known liquidity pools JSON file")
	flag.BoolVar(&cfg.UseFinisher, "finisher", false, "Close finished tasks in a windowed flush instead of inline")
	flag.BoolVar(&cfg.EmulatedTraceTasks, "emulated-trace-tasks", false, "Classify emulated traces from pub/sub instead of the backlog")
	flag.StringVar(&cfg.EmulatedChannel, "emulated-channel", "classifier_tasks_channel", "Redis channel with emulated trace task ids")

	flag.Parse()

	return cfg
}

func main() {
	cfg := parseFlags()

	if cfg.RedisURL == "" {
		log.Fatal("Redis connection string is required. Use -redis flag")
	}
	if !cfg.EmulatedTraceTasks && cfg.PostgresDSN == "" {
		log.Fatal("PostgreSQL DSN is required. Use -pg flag")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	// Known pool registry: read once, immutable, shared with every worker.
	pools := interfaces.NewPoolRegistry(nil)
	if cfg.PoolsFile != "" {
		pools, err = interfaces.LoadPoolRegistry(cfg.PoolsFile)
		if err != nil {
			log.Fatalf("Failed to load pool registry: %v", err)
		}
		log.Printf("Loaded %d known pools", pools.Len())
	}

	rules := blocks.DefaultRules()

	var pool *pgxpool.Pool
	var wg sync.WaitGroup
	if cfg.EmulatedTraceTasks {
		service := emulated.NewService(redisClient, pools, rules, cfg.EmulatedChannel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := service.Run(ctx); err != nil && ctx.Err() == nil {
				log.Fatalf("Emulated trace service stopped: %v", err)
			}
		}()
		log.Printf("Processing emulated trace tasks from channel %s", cfg.EmulatedChannel)
	} else {
		pool, err = pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to create PostgreSQL pool: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		log.Println("Connected to PostgreSQL")

		store := pipeline.NewStore(pool)
		repo := interfaces.NewRedisRepository(redisClient, 0)

		if total, err := store.CountUnclassified(ctx); err == nil {
			log.Printf("Total unclassified traces: %d", total)
		}

		taskQueue := make(chan []models.ClassifierTask, cfg.PrefetchSize)
		results := make(chan models.BatchResult, cfg.PoolSize)
		var finished chan int64
		if cfg.UseFinisher {
			finished = make(chan int64, cfg.BatchSize)
			finisher := pipeline.NewFinisher(store, finished)
			wg.Add(1)
			go func() {
				defer wg.Done()
				finisher.Run(ctx)
			}()
		}

		claimer := pipeline.NewClaimer(store, cfg.BatchSize, taskQueue)
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimer.Run(ctx)
		}()

		log.Printf("Starting pool of %d workers", cfg.PoolSize)
		for i := 0; i < cfg.PoolSize; i++ {
			worker := pipeline.NewWorker(i, pipeline.WorkerConfig{
				Store:              store,
				Repo:               repo,
				Pools:              pools,
				Rules:              rules,
				BigTracesThreshold: int32(cfg.BigTracesThreshold),
				In:                 taskQueue,
				Results:            results,
				Finished:           finished,
			})
			wg.Add(1)
			go func() {
				defer wg.Done()
				worker.Run(ctx)
			}()
		}

		stats := pipeline.NewStats(results)
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.Run(ctx)
		}()
	}

	app := fiber.New()
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := redisClient.Ping(c.Context()).Err(); err != nil {
			c.Status(500)
			return err
		}
		if pool != nil {
			if err := pool.Ping(c.Context()); err != nil {
				c.Status(500)
				return err
			}
		}
		c.Status(200)
		return nil
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		wg.Wait()
		app.Shutdown()
	}()

	log.Printf("Starting server on %s", cfg.ListenAddr)
	log.Fatal(app.Listen(cfg.ListenAddr))
}
