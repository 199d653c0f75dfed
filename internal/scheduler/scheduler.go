// Package scheduler periodically downloads provider fields while the API
// is serving.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"go.ngs.io/wxgrid/internal/config"
	"go.ngs.io/wxgrid/internal/usecase"
)

const (
	defaultInterval = 6 * time.Hour
	jobTimeout      = 10 * time.Minute
)

// Downloader fetches and persists one field.
type Downloader interface {
	Download(ctx context.Context, req usecase.DownloadRequest) (*usecase.DownloadResponse, error)
}

// Scheduler periodically prefetches the configured provider fields.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	downloader Downloader
	requests   []usecase.DownloadRequest
	interval   time.Duration
}

// New creates a scheduler for the prefetch section of cfg.
func New(cfg config.PrefetchConfig, downloader Downloader) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		scheduler:  s,
		downloader: downloader,
		requests:   expand(cfg),
		interval:   interval,
	}
}

// expand lists one request per provider, variable and forecast hour.
func expand(cfg config.PrefetchConfig) []usecase.DownloadRequest {
	hours := cfg.ForecastHours
	if len(hours) == 0 {
		hours = []int{0}
	}
	var reqs []usecase.DownloadRequest
	for _, p := range cfg.Providers {
		for _, v := range cfg.Variables {
			for _, fh := range hours {
				reqs = append(reqs, usecase.DownloadRequest{
					Provider:     p,
					Variable:     v,
					ForecastHour: fh,
					Region:       cfg.Region,
				})
			}
		}
	}
	return reqs
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run starts immediately.
func (s *Scheduler) Start() error {
	if len(s.requests) == 0 {
		log.Warn().Msg("scheduler: nothing to prefetch")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 1
	}
	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	log.Info().Int("jobs", len(s.requests)).Dur("interval", s.interval).Msg("scheduler started")
	return nil
}

// RunOnce downloads every configured field and returns the number of
// failures. Providers run concurrently; fields of one provider run in
// sequence.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	log.Info().Msg("scheduler: running prefetch job")

	byProvider := make(map[string][]usecase.DownloadRequest)
	var order []string
	for _, r := range s.requests {
		if _, ok := byProvider[r.Provider]; !ok {
			order = append(order, r.Provider)
		}
		byProvider[r.Provider] = append(byProvider[r.Provider], r)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
	)
	for _, name := range order {
		reqs := byProvider[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, r := range reqs {
				jctx, cancel := context.WithTimeout(ctx, jobTimeout)
				resp, err := s.downloader.Download(jctx, r)
				cancel()
				if err != nil {
					log.Error().Err(err).
						Str("provider", r.Provider).
						Str("variable", r.Variable).
						Int("forecast_hour", r.ForecastHour).
						Msg("scheduler: prefetch failed")
					mu.Lock()
					failures++
					mu.Unlock()
					continue
				}
				log.Debug().Str("path", resp.Path).Msg("scheduler: prefetched")
			}
		}()
	}
	wg.Wait()

	log.Info().Int("failures", failures).Msg("scheduler: completed prefetch job")
	return failures
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
