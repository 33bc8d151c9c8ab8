// Package main enqueues discovery jobs onto the shared Postgres queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leadharvest/leadharvest/internal/config"
	"github.com/leadharvest/leadharvest/internal/discovery"
	"github.com/leadharvest/leadharvest/internal/id/uuid"
	"github.com/leadharvest/leadharvest/internal/logging"
	queuepg "github.com/leadharvest/leadharvest/internal/queue/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	city := flag.String("city", "", "Target city")
	industry := flag.String("industry", "", "Target industry")
	dataset := flag.String("dataset", "", "Dataset (scope) id")
	keywords := flag.String("keywords", "", "Comma-separated search keywords")
	priority := flag.Int("priority", 0, "Job priority, higher runs first")
	maxRetries := flag.Int("max-retries", 3, "Retry budget for retryable failures")
	delay := flag.Duration("delay", 0, "Schedule the job this far in the future")
	cancel := flag.String("cancel", "", "Cancel the job with this id instead of enqueuing")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.DB.DSN == "" {
		logger.Fatal("db.dsn is required to reach the shared queue")
	}

	ctx := context.Background()
	queue, err := queuepg.New(ctx, queuepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		logger.Fatal("connect queue failed", zap.Error(err))
	}
	defer queue.Close()

	if *cancel != "" {
		if err := queue.CancelJob(ctx, *cancel); err != nil {
			logger.Fatal("cancel failed", zap.String("job_id", *cancel), zap.Error(err))
		}
		fmt.Println(*cancel)
		return
	}

	job, err := buildJob(*city, *industry, *dataset, *keywords, *priority, *maxRetries, *delay)
	if err != nil {
		logger.Fatal("invalid job", zap.Error(err))
	}
	if err := queue.CreateJob(ctx, job); err != nil {
		logger.Fatal("enqueue failed", zap.Error(err))
	}
	fmt.Println(job.ID)
}

func buildJob(city, industry, dataset, keywordList string, priority, maxRetries int, delay time.Duration) (discovery.DiscoveryJob, error) {
	if city == "" || industry == "" || dataset == "" {
		return discovery.DiscoveryJob{}, fmt.Errorf("city, industry and dataset are required")
	}
	var kws []string
	for _, kw := range strings.Split(keywordList, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			kws = append(kws, kw)
		}
	}
	if len(kws) == 0 {
		kws = []string{industry}
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return discovery.DiscoveryJob{}, err
	}
	now := time.Now().UTC()
	return discovery.DiscoveryJob{
		ID:          id,
		City:        city,
		Industry:    industry,
		DatasetID:   dataset,
		Keywords:    kws,
		Priority:    priority,
		MaxRetries:  maxRetries,
		CreatedAt:   now,
		ScheduledAt: now.Add(delay),
	}, nil
}
