package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/companion/pkg/capi"
	"github.com/dmitrymomot/companion/pkg/correlation"
	"github.com/dmitrymomot/companion/pkg/logger"
)

// Fetcher returns the raw journal text of one day. *capi.Session satisfies it.
type Fetcher interface {
	Journal(ctx context.Context, day time.Time) capi.Response
}

// Config controls the synchronizer window and pacing.
type Config struct {
	Days            int           `env:"JOURNAL_DAYS" envDefault:"20"`
	RecheckInterval time.Duration `env:"JOURNAL_RECHECK_INTERVAL" envDefault:"5m"`
	Store           string        `env:"JOURNAL_STORE" envDefault:"local"`
	Dir             string        `env:"JOURNAL_DIR" envDefault:"journals"`
	ProgressStore   string        `env:"JOURNAL_PROGRESS_STORE" envDefault:"file"`
	ProgressDir     string        `env:"JOURNAL_PROGRESS_DIR" envDefault:"journals"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		Days:            20,
		RecheckInterval: 5 * time.Minute,
		Store:           "local",
		Dir:             "journals",
		ProgressStore:   "file",
		ProgressDir:     "journals",
	}
}

// Synchronizer mirrors the server journal of one identity into a Store, one
// day per pass. A Synchronizer must not run two passes at once over the
// same progress map.
type Synchronizer struct {
	fetcher   Fetcher
	store     Store
	identity  string
	commander string
	days      int
	recheck   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Synchronizer)

// WithLogger sets the synchronizer logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithCommander sets the canonical commander name written into Commander
// and LoadGame records. It defaults to the identity.
func WithCommander(name string) Option {
	return func(s *Synchronizer) {
		s.commander = name
	}
}

// NewSynchronizer creates a synchronizer for identity.
func NewSynchronizer(fetcher Fetcher, store Store, identity string, cfg Config, opts ...Option) (*Synchronizer, error) {
	if fetcher == nil || store == nil {
		return nil, fmt.Errorf("%w: fetcher and store are required", ErrInvalidConfig)
	}
	if identity == "" {
		return nil, ErrNoIdentity
	}
	if cfg.Days < 0 {
		return nil, fmt.Errorf("%w: negative day window", ErrInvalidConfig)
	}

	s := &Synchronizer{
		fetcher:   fetcher,
		store:     store,
		identity:  identity,
		commander: identity,
		days:      cfg.Days,
		recheck:   cfg.RecheckInterval,
		now:       time.Now,
		logger:    logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("journal"), logger.Identity(identity))
	return s, nil
}

// Run performs one pass: it picks the first day in the window that is due,
// fetches it and merges new segments into the store. The returned map holds
// every day of the window; days outside it are dropped. A failed fetch or
// store operation leaves that day's progress unchanged and is returned as an
// error alongside the map.
func (s *Synchronizer) Run(ctx context.Context, progress Progress) (Progress, error) {
	now := s.now().UTC()
	today := StartOfDay(now)

	next := make(Progress, s.days+1)
	var (
		target time.Time
		found  bool
	)
	for i := s.days; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		key := DayKey(day)
		dp, ok := progress[key]
		if !ok || !dp.Status.Known() {
			dp = DayProgress{Status: NotTried}
		}
		next[key] = dp
		if !found && s.due(dp, now) {
			target, found = day, true
		}
	}
	if !found {
		return next, nil
	}

	key := DayKey(target)
	ctx, passID := correlation.Ensure(ctx)
	log := s.logger.With(logger.PassID(passID), logger.Day(target))
	isToday := target.Equal(today)
	dp := next[key]

	resp := s.fetcher.Journal(ctx, target)
	switch {
	case resp.OK():
		status, err := s.merge(ctx, log, target, resp.Body, dp.Status, isToday)
		if err != nil {
			return next, err
		}
		next[key] = DayProgress{Status: status, LastCheckedAt: now}
	case !resp.HasBody && resp.StatusCode >= 200 && resp.StatusCode < 300:
		status := dp.Status.afterNoContent(isToday)
		log.InfoContext(ctx, "no journal content", logger.State(string(status)))
		next[key] = DayProgress{Status: status, LastCheckedAt: now}
	default:
		log.WarnContext(ctx, "journal fetch failed", logger.StatusCode(resp.StatusCode))
		return next, fmt.Errorf("%w: %s: status %d", ErrFetchFailed, key, resp.StatusCode)
	}
	return next, nil
}

func (s *Synchronizer) merge(ctx context.Context, log *slog.Logger, day time.Time, body string, prev Status, today bool) (Status, error) {
	stored, err := s.store.Load(ctx, s.identity, day)
	if err != nil {
		log.ErrorContext(ctx, "failed to load stored journal", logger.Error(err))
		return prev, err
	}

	merged, appended := Merge(stored, body, s.commander)
	if appended > 0 {
		if err := s.store.Save(ctx, s.identity, day, merged); err != nil {
			log.ErrorContext(ctx, "failed to save journal", logger.Error(err))
			return prev, err
		}
	}

	status := prev.afterMerge(appended, today)
	log.InfoContext(ctx, "journal merged",
		slog.Int("segments_appended", appended),
		logger.State(string(status)),
	)
	return status, nil
}

func (s *Synchronizer) due(dp DayProgress, now time.Time) bool {
	switch {
	case dp.Status == NotTried:
		return true
	case dp.Status.Checking():
		return now.Sub(dp.LastCheckedAt) >= s.recheck
	default:
		return false
	}
}

// Sync loads the identity's progress from ps, runs one pass and stores the
// result, also when the pass itself failed. An unreadable stored record is
// logged and replaced.
func (s *Synchronizer) Sync(ctx context.Context, ps ProgressStore) (Progress, error) {
	progress, err := ps.Load(ctx, s.identity)
	switch {
	case errors.Is(err, ErrProgressCorrupt):
		// Start over; the save below replaces the unreadable record.
		s.logger.WarnContext(ctx, "stored progress is unreadable, starting from scratch", logger.Error(err))
		progress = Progress{}
	case err != nil:
		return nil, err
	}
	next, runErr := s.Run(ctx, progress)
	if err := ps.Save(ctx, s.identity, next); err != nil {
		return next, err
	}
	return next, runErr
}
