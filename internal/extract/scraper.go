// Package extract drives a browser through Google local results for one
// query at a time, writing every business it can read to the job's output.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/places-scraper/internal/cancel"
	"github.com/JakeFAU/places-scraper/internal/job"
	"github.com/JakeFAU/places-scraper/internal/policy/ratelimit"
)

// Config bounds every browser interaction.
type Config struct {
	MaxPages          int
	LaunchTimeout     time.Duration
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	NextTimeout       time.Duration
	PanelWait         time.Duration
	PageSettle        time.Duration
	ListingPauseMin   time.Duration
	ListingPauseMax   time.Duration
	PageQPS           float64
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:          100,
		LaunchTimeout:     30 * time.Second,
		NavigationTimeout: 10 * time.Second,
		ElementTimeout:    15 * time.Second,
		NextTimeout:       5 * time.Second,
		PanelWait:         3 * time.Second,
		PageSettle:        4 * time.Second,
		ListingPauseMin:   2 * time.Second,
		ListingPauseMax:   4 * time.Second,
	}
}

// PauseFunc waits d unless cancelled first. It reports whether the full
// duration elapsed.
type PauseFunc func(ctx context.Context, d time.Duration, cancelled func() bool) bool

// Scraper implements job.Extractor on top of a Launcher.
type Scraper struct {
	cfg      Config
	launcher Launcher
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
	pause    PauseFunc
}

var _ job.Extractor = (*Scraper)(nil)

// Option customises a Scraper.
type Option func(*Scraper)

// WithPause replaces the cancellable sleep.
func WithPause(p PauseFunc) Option {
	return func(s *Scraper) { s.pause = p }
}

// New returns a Scraper. Zero config fields take DefaultConfig values.
func New(launcher Launcher, cfg Config, logger *zap.Logger, opts ...Option) *Scraper {
	def := DefaultConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	for _, d := range []struct{ v *time.Duration; def time.Duration }{
		{&cfg.LaunchTimeout, def.LaunchTimeout},
		{&cfg.NavigationTimeout, def.NavigationTimeout},
		{&cfg.ElementTimeout, def.ElementTimeout},
		{&cfg.NextTimeout, def.NextTimeout},
		{&cfg.PanelWait, def.PanelWait},
		{&cfg.PageSettle, def.PageSettle},
	} {
		if *d.v <= 0 {
			*d.v = d.def
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scraper{
		cfg:      cfg,
		launcher: launcher,
		limiter:  ratelimit.New(ratelimit.Config{QPS: cfg.PageQPS}),
		logger:   logger,
		pause:    cancel.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// session is the state of one Extract call.
type session struct {
	req   job.ExtractRequest
	page  Page
	count int
	log   *zap.Logger
}

func (ss *session) cancelled() bool {
	return isCancelled(ss.req.Cancelled)
}

// Extract runs one query. A cancelled request returns the records written
// so far with a nil error; the caller decides the job's fate.
func (s *Scraper) Extract(ctx context.Context, req job.ExtractRequest) (int, error) {
	if isCancelled(req.Cancelled) {
		return 0, nil
	}
	if req.Output == nil {
		return 0, fmt.Errorf("extract %q: output writer is required", req.Query)
	}
	searchURL := SearchURL(req.Query, req.Location)
	log := s.logger.With(zap.String("job_id", req.JobID), zap.String("query", req.Query))

	page, err := s.launch(ctx, req.Cancelled)
	if isCancelled(req.Cancelled) {
		if page != nil {
			if rerr := page.Release(); rerr != nil {
				log.Debug("browser release failed", zap.Error(rerr))
			}
		}
		log.Info("cancelled during browser launch")
		return 0, nil
	}
	if err != nil {
		return 0, &job.ResourceAcquisitionError{Err: err}
	}
	release := page.Release
	if req.Resources != nil {
		release = req.Resources.Register(req.JobID, page)
	}
	defer func() {
		if err := release(); err != nil {
			log.Debug("browser release failed", zap.Error(err))
		}
	}()

	ss := &session{req: req, page: page, log: log}
	if err := s.run(ctx, ss, searchURL); err != nil {
		return ss.count, &job.ExtractionError{Query: req.Query, Err: err}
	}
	return ss.count, nil
}

// launch starts a browser, giving up after LaunchTimeout or as soon as the
// request is cancelled.
func (s *Scraper) launch(ctx context.Context, cancelled job.CancelCheck) (Page, error) {
	watchCtx, stopWatch := cancel.WithCheck(ctx, cancelled)
	defer stopWatch()
	launchCtx, cancelLaunch := context.WithTimeout(watchCtx, s.cfg.LaunchTimeout)
	defer cancelLaunch()
	return s.launcher.Launch(launchCtx)
}

func (s *Scraper) run(ctx context.Context, ss *session, searchURL string) error {
	if ss.cancelled() {
		return nil
	}
	if err := s.limiter.Wait(ctx, searchURL); err != nil {
		return err
	}
	ss.log.Info("searching", zap.String("url", searchURL))
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	err := ss.page.Navigate(navCtx, searchURL)
	cancel()
	if err != nil {
		return err
	}
	if ss.cancelled() || !s.pause(ctx, s.cfg.PageSettle, ss.req.Cancelled) {
		return nil
	}
	s.acceptConsent(ctx, ss)

	for pageNum := 1; pageNum <= s.cfg.MaxPages; pageNum++ {
		if ss.cancelled() {
			return nil
		}
		before := ss.count
		if err := s.scrapePage(ctx, ss); err != nil {
			return err
		}
		ss.log.Info("results page done",
			zap.Int("page", pageNum),
			zap.Int("new_records", ss.count-before),
			zap.Int("total_records", ss.count),
		)
		if ss.cancelled() {
			return nil
		}
		if pageNum == s.cfg.MaxPages || !s.nextPage(ctx, ss) {
			break
		}
	}
	return nil
}

func (s *Scraper) acceptConsent(ctx context.Context, ss *session) {
	if ss.cancelled() {
		return
	}
	clickCtx, cancel := context.WithTimeout(ctx, s.cfg.NextTimeout)
	defer cancel()
	clicked, err := ss.page.ClickButton(clickCtx, consentTexts, consentID)
	if err != nil {
		ss.log.Debug("consent check failed", zap.Error(err))
		return
	}
	if clicked {
		ss.log.Debug("consent dismissed")
		s.pause(ctx, 2*time.Second, ss.req.Cancelled)
	}
}

// scrapePage clicks through every listing on the current results page.
// Listing failures are logged and skipped; only output failures abort.
func (s *Scraper) scrapePage(ctx context.Context, ss *session) error {
	selector, total, ok := s.waitFor(ctx, ss, listingSelectors, s.cfg.ElementTimeout)
	if !ok {
		ss.log.Warn("no listings found on page")
		return nil
	}
	ss.log.Debug("listings found", zap.String("selector", selector), zap.Int("count", total))

	for i := range total {
		if ss.cancelled() {
			return nil
		}
		place, err := s.scrapeListing(ctx, ss, selector, i)
		if errors.Is(err, errListingsExhausted) {
			return nil
		}
		if err != nil {
			ss.log.Debug("listing skipped", zap.Int("index", i), zap.Error(err))
		}
		if err == nil && place.Name != Missing {
			if werr := ss.req.Output.Write(place); werr != nil {
				return fmt.Errorf("write record: %w", werr)
			}
			ss.count++
		}
		if ss.cancelled() {
			return nil
		}
		if berr := s.back(ctx, ss); berr != nil {
			ss.log.Debug("back navigation failed", zap.Error(berr))
		}
		if !s.pause(ctx, Jitter(s.cfg.ListingPauseMin, s.cfg.ListingPauseMax), ss.req.Cancelled) {
			return nil
		}
	}
	return nil
}

var errListingsExhausted = errors.New("fewer listings than first counted")

func (s *Scraper) scrapeListing(ctx context.Context, ss *session, selector string, i int) (job.Place, error) {
	elemCtx, cancel := context.WithTimeout(ctx, s.cfg.ElementTimeout)
	defer cancel()

	// Re-count on every pass: going back re-renders the list.
	current, err := ss.page.Count(elemCtx, selector)
	if err != nil {
		return job.Place{}, err
	}
	if i >= current {
		return job.Place{}, errListingsExhausted
	}
	card, err := ss.page.Text(elemCtx, selector, i)
	if err != nil {
		card = ""
	}
	if ss.cancelled() {
		return job.Place{}, context.Canceled
	}
	if err := ss.page.Click(elemCtx, selector, i); err != nil {
		return job.Place{}, err
	}
	if !s.pause(ctx, s.cfg.PanelWait, ss.req.Cancelled) {
		return job.Place{}, context.Canceled
	}
	html, err := ss.page.HTML(elemCtx)
	if err != nil {
		return job.Place{}, err
	}
	pageURL, err := ss.page.URL(elemCtx)
	if err != nil {
		pageURL = ""
	}
	return ParseDetail(html, CardName(card), pageURL, ss.req.Location)
}

func (s *Scraper) back(ctx context.Context, ss *session) error {
	backCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	return ss.page.Back(backCtx)
}

// nextPage reports whether another results page was opened.
func (s *Scraper) nextPage(ctx context.Context, ss *session) bool {
	scrollCtx, cancel := context.WithTimeout(ctx, s.cfg.NextTimeout)
	err := ss.page.ScrollToBottom(scrollCtx)
	cancel()
	if err != nil {
		ss.log.Debug("scroll failed", zap.Error(err))
	}
	if !s.pause(ctx, time.Second, ss.req.Cancelled) {
		return false
	}
	selector, _, ok := s.waitFor(ctx, ss, nextSelectors, s.cfg.NextTimeout)
	if !ok {
		ss.log.Info("no more result pages")
		return false
	}
	if err := s.limiter.Wait(ctx, SearchURL(ss.req.Query, ss.req.Location)); err != nil {
		return false
	}
	clickCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	err = ss.page.Click(clickCtx, selector, 0)
	cancel()
	if err != nil {
		ss.log.Debug("next page click failed", zap.Error(err))
		return false
	}
	return s.pause(ctx, s.cfg.PageSettle, ss.req.Cancelled)
}

// waitFor polls selectors in cancel.Step intervals until one matches, the
// timeout passes, or the request is cancelled.
func (s *Scraper) waitFor(
	ctx context.Context,
	ss *session,
	selectors []string,
	timeout time.Duration,
) (string, int, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			if ss.cancelled() {
				return "", 0, false
			}
			countCtx, stop := context.WithTimeout(ctx, cancel.Step*4)
			n, err := ss.page.Count(countCtx, sel)
			stop()
			if err == nil && n > 0 {
				return sel, n, true
			}
		}
		if time.Now().After(deadline) {
			return "", 0, false
		}
		if !s.pause(ctx, cancel.Step, ss.req.Cancelled) {
			return "", 0, false
		}
	}
}
