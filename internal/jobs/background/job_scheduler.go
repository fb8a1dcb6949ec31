package background

import (
	"context"
	"log"
	"sync"
	"time"

	"talecraft/internal/jobs"

	"github.com/go-co-op/gocron/v2"
)

// JobScheduler runs the recurring subscription maintenance jobs. The sweep
// itself lives in the jobs package; this only owns the schedule.
type JobScheduler struct {
	scheduler gocron.Scheduler
	expirySvc *jobs.SubscriptionExpiryService
	jobJobs   map[string]gocron.Job
	mu        sync.RWMutex
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(expirySvc *jobs.SubscriptionExpiryService) *JobScheduler {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	js := &JobScheduler{
		scheduler: scheduler,
		expirySvc: expirySvc,
		jobJobs:   make(map[string]gocron.Job),
	}

	js.registerJobs()

	return js
}

// Start starts the job scheduler
func (js *JobScheduler) Start() error {
	log.Printf("Starting background job scheduler")
	js.scheduler.Start()
	return nil
}

// Stop stops the job scheduler
func (js *JobScheduler) Stop() error {
	log.Printf("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

// registerJobs registers all background jobs
func (js *JobScheduler) registerJobs() {
	// Expiry sweep - daily
	sweepJob, err := js.scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(js.runExpirySweep, context.Background()),
		gocron.WithName("subscription-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create expiry sweep job: %v", err)
	} else {
		js.jobJobs["expiry-sweep"] = sweepJob
	}

	// Stale pending cleanup - every hour
	cleanupJob, err := js.scheduler.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(js.runStalePendingCleanup, context.Background()),
		gocron.WithName("stale-pending-cleanup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Printf("Failed to create stale pending cleanup job: %v", err)
	} else {
		js.jobJobs["stale-pending-cleanup"] = cleanupJob
	}

	log.Printf("Registered %d background jobs", len(js.jobJobs))
}

func (js *JobScheduler) runExpirySweep(ctx context.Context) {
	if _, err := js.expirySvc.CheckForExpiredSubscriptions(ctx); err != nil {
		log.Printf("Expiry sweep run failed: %v", err)
	}
}

func (js *JobScheduler) runStalePendingCleanup(ctx context.Context) {
	if _, err := js.expirySvc.CleanupStalePending(ctx); err != nil {
		log.Printf("Stale pending cleanup run failed: %v", err)
	}
}
