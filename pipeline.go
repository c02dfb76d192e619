package main

import (
	"context"
	"log"
	"sync"
	"time"
)

// scrapeMutex serializes pipeline runs: a browser session is a heavyweight
// external process, so at most one is alive per process. An operator
// refresh that races the scheduler simply waits its turn.
var scrapeMutex sync.Mutex

// lastRunInfo feeds the status endpoint.
var (
	lastRunMutex   sync.Mutex
	lastRunAt      time.Time
	lastRunSource  string
	lastRunOutcome string
)

// runScrape executes the full pipeline for one source: open session,
// authenticate (best-effort), navigate, scroll-extract, reconcile, persist.
// It never returns an error to its caller; every failure mode degrades to
// an empty or partial result with a termination reason, so the scheduler
// loop cannot be taken down by one bad source.
func runScrape(cfg Config, src SourceRegistration) (ScrapeResult, DeltaStats, PersistOutcome) {
	scrapeMutex.Lock()
	defer scrapeMutex.Unlock()

	log.Printf("[I] [Pipeline] Starting scrape for '%s'...", src.Name)
	started := time.Now()

	result := scrapeSource(cfg, src)
	log.Printf("[I] [Pipeline] '%s': %d records in %d attempts (%s, %s).",
		src.Name, len(result.Records), result.Attempts, result.Termination,
		time.Since(started).Round(time.Second))

	var stats DeltaStats
	var outcome PersistOutcome
	if len(result.Records) > 0 {
		if err := ensureSourceTable(src); err != nil {
			log.Printf("[E] [Pipeline] '%s': %v", src.Name, err)
		} else {
			var err error
			stats, outcome, err = reconcile(src, result)
			if err != nil {
				log.Printf("[E] [Pipeline] '%s': reconciliation failed: %v", src.Name, err)
			}
		}
	}

	recordRunInfo(src.Name, result.Termination)
	return result, stats, outcome
}

// scrapeSource owns the browser-session part of a run. The session is torn
// down on every exit path.
func scrapeSource(cfg Config, src SourceRegistration) ScrapeResult {
	session, err := openSession(context.Background(), cfg)
	if err != nil {
		log.Printf("[E] [Pipeline] '%s': could not open browser session: %v", src.Name, err)
		return ScrapeResult{Termination: reasonConnectionFailed}
	}
	defer session.close()

	// Authentication failure is non-fatal: an unauthenticated pass returns
	// whatever the page shows, and the caller reads the termination reason
	// rather than treating emptiness as a fault.
	if !session.authenticate(src.URL) {
		log.Printf("[W] [Pipeline] '%s': proceeding unauthenticated.", src.Name)
	}

	if !session.navigateAndWaitReady(src.URL) {
		log.Printf("[W] [Pipeline] '%s': page not ready, attempting best-effort extraction.", src.Name)
	}

	return extractDonations(context.Background(), session, extractorOptions{
		MaxAttempts:    cfg.MaxScrollAttempts,
		StallThreshold: cfg.StallThreshold,
		SettleDelay:    cfg.SettleDelay,
	})
}

func recordRunInfo(source, outcome string) {
	lastRunMutex.Lock()
	defer lastRunMutex.Unlock()
	lastRunAt = time.Now()
	lastRunSource = source
	lastRunOutcome = outcome
}

func lastRunInfo() (time.Time, string, string) {
	lastRunMutex.Lock()
	defer lastRunMutex.Unlock()
	return lastRunAt, lastRunSource, lastRunOutcome
}

// Job defines a background task with its function and schedule.
type Job struct {
	Name     string
	Func     func()
	Interval time.Duration
}

// runJobOnTicker executes a job immediately and then on its scheduled
// interval until the context is canceled.
func runJobOnTicker(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	log.Printf("[I] [Job] Starting initial run for %s job...", job.Name)
	job.Func()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[I] [Job] Stopping %s job due to shutdown.", job.Name)
			return
		case <-ticker.C:
			log.Printf("[I] [Job] Starting scheduled %s run...", job.Name)
			job.Func()
		}
	}
}

// startBackgroundJobs wires the scheduler: one job that walks the registry
// sequentially each interval. Sources are re-read per cycle so additions
// and deletions take effect without a restart.
func startBackgroundJobs(ctx context.Context, cfg Config, registry *Registry) {
	jobs := []Job{
		{
			Name:     "Donations",
			Interval: cfg.ScrapeInterval,
			Func: func() {
				for _, src := range registry.All() {
					select {
					case <-ctx.Done():
						return
					default:
					}
					runScrape(cfg, src)
				}
			},
		},
	}

	for _, job := range jobs {
		go runJobOnTicker(ctx, job)
	}
}
