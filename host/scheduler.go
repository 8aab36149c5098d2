package host

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Schedule describes when a Scheduler fires: daily at "HH:MM", or every interval
type Schedule struct {
	At    string `yaml:"at,omitempty" json:"at,omitempty"`
	Every string `yaml:"every,omitempty" json:"every,omitempty"`
}

// Validate checks that exactly one of At or Every is set and parses
func (s Schedule) Validate() error {
	switch {
	case s.At != "" && s.Every != "":
		return fmt.Errorf("schedule sets both at and every")
	case s.At != "":
		_, _, err := parseAtTime(s.At)
		return err
	case s.Every != "":
		_, err := parseInterval(s.Every)
		return err
	}
	return fmt.Errorf("schedule sets neither at nor every")
}

// Scheduler fires its handlers on a schedule. Firings are not serialized
// against runs still in flight.
type Scheduler struct {
	handlers

	schedule Schedule
	tick     time.Duration
	now      func() time.Time
	log      *zap.Logger

	mu       sync.Mutex
	lastRun  time.Time
	stopped  bool // guarded by mu; no handler is started once set
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler instance
func NewScheduler(schedule Schedule, logger *zap.Logger) (*Scheduler, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// sub-minute intervals need a finer tick to fire on time
	tick := time.Minute
	if schedule.Every != "" {
		if interval, _ := parseInterval(schedule.Every); interval < tick {
			tick = interval
		}
	}
	return &Scheduler{
		schedule: schedule,
		tick:     tick,
		now:      time.Now,
		log:      logger,
		stopChan: make(chan struct{}),
	}, nil
}

// OnTrigger registers a handler
func (s *Scheduler) OnTrigger(h Handler) {
	s.add(h)
}

// Start begins the scheduler loop and blocks until Stop or ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler started", zap.String("at", s.schedule.At), zap.String("every", s.schedule.Every))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Run tick immediately on start
	s.checkAndFire(ctx)

	for {
		select {
		case <-ticker.C:
			s.checkAndFire(ctx)
		case <-s.stopChan:
			s.log.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.log.Info("scheduler stopped", zap.Error(ctx.Err()))
			return
		}
	}
}

// Stop gracefully stops the scheduler and waits for fired handlers to return
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopChan)
	})
	s.wg.Wait()
}

// checkAndFire triggers the handlers if the schedule is due
func (s *Scheduler) checkAndFire(ctx context.Context) {
	s.mu.Lock()
	if s.stopped || !s.shouldRun(s.lastRun) {
		s.mu.Unlock()
		return
	}
	s.lastRun = s.now()
	// Add under mu so it cannot race the Wait in Stop
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.fire(ctx); err != nil {
			s.log.Error("scheduled run failed", zap.Error(err))
			return
		}
		s.log.Info("scheduled run completed")
	}()
}

// shouldRun determines if the schedule should be triggered now
func (s *Scheduler) shouldRun(lastRun time.Time) bool {
	now := s.now()

	// Time-based schedule (at: "HH:MM")
	if s.schedule.At != "" {
		hour, minute, err := parseAtTime(s.schedule.At)
		if err != nil {
			return false
		}
		if now.Hour() == hour && now.Minute() == minute {
			// Ensure we only run once per day at this time
			return lastRun.IsZero() || now.Sub(lastRun) >= 23*time.Hour
		}
		return false
	}

	// Interval-based schedule (every: "1h", "30m", etc.)
	interval, err := parseInterval(s.schedule.Every)
	if err != nil {
		return false
	}
	// half a tick of slack absorbs ticker jitter, so a due run is never
	// pushed back by a whole tick
	return lastRun.IsZero() || now.Sub(lastRun) >= interval-s.tick/2
}

// parseAtTime parses "HH:MM" format
func parseAtTime(at string) (hour, minute int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time format %q, expected HH:MM", at)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", at)
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", at)
	}

	return hour, minute, nil
}

var hourMinute = regexp.MustCompile(`^(\d+)h(\d+)m$`)

// parseInterval parses duration strings like "1h", "30m", "1h30m"
func parseInterval(every string) (time.Duration, error) {
	var duration time.Duration
	if matches := hourMinute.FindStringSubmatch(every); len(matches) == 3 {
		hours, _ := strconv.Atoi(matches[1])
		minutes, _ := strconv.Atoi(matches[2])
		duration = time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	} else {
		var err error
		duration, err = time.ParseDuration(every)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q", every)
		}
	}
	if duration <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", every)
	}
	return duration, nil
}
