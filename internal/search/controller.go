// Package search coordinates the user lookup flow: committed searches,
// debounced suggestions, selections and the recent-search history.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vilaca/gh-finder/internal/debounce"
	"github.com/vilaca/gh-finder/internal/domain"
	"github.com/vilaca/gh-finder/internal/history"
	"github.com/vilaca/gh-finder/internal/metrics"
)

// Search triggers, used for metrics and logs.
const (
	TriggerSubmit     = "submit"
	TriggerSuggestion = "suggestion"
	TriggerHistory    = "history"
)

// Directory is what the controller needs from the user directory.
// api.DedupClient satisfies it.
type Directory interface {
	FetchProfile(ctx context.Context, login string) (*domain.UserProfile, error)
	// RefetchProfile must bypass any cached result for login.
	RefetchProfile(ctx context.Context, login string) (*domain.UserProfile, error)
	SearchUsers(ctx context.Context, query string) ([]domain.Suggestion, error)
}

// State is a point-in-time copy of the controller state.
type State struct {
	Version         uint64              `json:"version"`
	Input           string              `json:"input"`
	Committed       string              `json:"committed"`
	Debounced       string              `json:"debounced"`
	ShowSuggestions bool                `json:"show_suggestions"`
	Suggestions     []domain.Suggestion `json:"suggestions"`
	Profile         *domain.UserProfile `json:"profile,omitempty"`
	Loading         bool                `json:"loading"`
	Error           string              `json:"error,omitempty"`
	Recent          []string            `json:"recent"`
}

// VisibleSuggestions returns the suggestions the dropdown should show.
func (s State) VisibleSuggestions() []domain.Suggestion {
	if !s.ShowSuggestions {
		return nil
	}
	return s.Suggestions
}

// Controller owns the state of one search session.
// All methods are safe for concurrent use.
type Controller struct {
	directory Directory
	recent    *history.Recent
	debouncer *debounce.Debouncer
	logger    *zap.Logger
	metrics   *metrics.Metrics

	minQueryLength  int
	suggestionLimit int
	onSearch        func(term string)
	onError         func(message string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	version     uint64
	input       string
	committed   string
	debounced   string
	show        bool
	suggestions []domain.Suggestion
	profile     *domain.UserProfile
	inflight    int
	errMessage  string

	observersMu sync.Mutex
	observers   map[int]func(State)
	nextID      int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithDebounce sets the suggestion debounce delay and scheduler.
// A nil scheduler uses real timers.
func WithDebounce(delay time.Duration, scheduler debounce.Scheduler) Option {
	return func(c *Controller) {
		c.debouncer = debounce.New(delay, scheduler)
	}
}

// WithSuggestionLimit caps how many suggestions are kept for display.
func WithSuggestionLimit(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.suggestionLimit = n
		}
	}
}

// WithMinQueryLength sets the shortest trimmed input that shows suggestions.
func WithMinQueryLength(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.minQueryLength = n
		}
	}
}

// WithSearchHook registers a callback notified with each submitted term.
func WithSearchHook(fn func(term string)) Option {
	return func(c *Controller) {
		c.onSearch = fn
	}
}

// WithErrorReporter registers a callback for user-visible error messages.
func WithErrorReporter(fn func(message string)) Option {
	return func(c *Controller) {
		c.onError = fn
	}
}

// WithContext sets the parent context for background fetches.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) {
		c.ctx = ctx
	}
}

// New creates a Controller. recent must already be loaded.
func New(directory Directory, recent *history.Recent, opts ...Option) *Controller {
	c := &Controller{
		directory:       directory,
		recent:          recent,
		logger:          zap.NewNop(),
		minQueryLength:  domain.MinQueryLength,
		suggestionLimit: domain.SuggestionLimit,
		ctx:             context.Background(),
		observers:       make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.debouncer == nil {
		c.debouncer = debounce.New(domain.DebounceDelay, nil)
	}
	c.ctx, c.cancel = context.WithCancel(c.ctx)
	return c
}

// SetInput records typed text. Suggestions are shown once the trimmed text
// is long enough, and fetched only after typing settles.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.input = text
	c.show = c.longEnough(text)
	c.version++
	c.mu.Unlock()

	c.debouncer.Trigger(func() { c.settle(text) })
	c.notify()
}

// Submit commits the trimmed input as the search term.
// Blank input is ignored and reported as false.
func (c *Controller) Submit() bool {
	c.mu.Lock()
	term := strings.TrimSpace(c.input)
	if term == "" || c.closed {
		c.mu.Unlock()
		return false
	}
	c.committed = term
	c.version++
	c.mu.Unlock()

	if c.onSearch != nil {
		c.onSearch(term)
	}
	c.remember(term)
	c.fetchProfile(term, false, TriggerSubmit)
	return true
}

// SelectSuggestion commits a login picked from the suggestion list.
func (c *Controller) SelectSuggestion(login string) bool {
	return c.selectLogin(login, TriggerSuggestion)
}

// SelectHistory commits a login picked from the recent list.
func (c *Controller) SelectHistory(login string) bool {
	return c.selectLogin(login, TriggerHistory)
}

// selectLogin commits login. Re-selecting the committed term forces a
// refetch, since a cached lookup for an unchanged key would not refire.
func (c *Controller) selectLogin(login, trigger string) bool {
	login = strings.TrimSpace(login)
	if login == "" {
		return false
	}
	c.debouncer.Cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	unchanged := c.committed == login
	c.input = login
	c.show = false
	c.committed = login
	c.version++
	c.mu.Unlock()

	c.remember(login)
	c.fetchProfile(login, unchanged, trigger)
	return true
}

// Prefetch warms the profile cache for login without touching the state.
func (c *Controller) Prefetch(login string) {
	login = strings.TrimSpace(login)
	if login == "" {
		return
	}
	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		if _, err := c.directory.FetchProfile(c.ctx, login); err != nil {
			c.logger.Debug("prefetch failed", zap.String("login", login), zap.Error(err))
		}
	}()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
// The returned func removes the subscription.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()

	id := c.nextID
	c.nextID++
	c.observers[id] = fn

	return func() {
		c.observersMu.Lock()
		defer c.observersMu.Unlock()
		delete(c.observers, id)
	}
}

// Wait blocks until all started fetches have finished.
// A pending debounce that has not fired yet is not waited for.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels pending work and waits for in-flight fetches to return.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.debouncer.Cancel()
	c.cancel()
	c.wg.Wait()
}

// settle runs when the debounce fires for text.
func (c *Controller) settle(text string) {
	c.metrics.Debounced()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.debounced = text
	c.version++
	query := strings.TrimSpace(text)
	fetch := c.longEnough(query)
	c.mu.Unlock()

	if fetch {
		c.fetchSuggestions(query)
	}
	c.notify()
}

func (c *Controller) fetchSuggestions(query string) {
	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()

		suggestions, err := c.directory.SearchUsers(c.ctx, query)

		var message string
		c.mu.Lock()
		switch {
		case err != nil && c.ctx.Err() != nil:
			// closed while in flight
		case err != nil:
			message = domain.UserMessage(err)
			c.errMessage = message
			c.logger.Warn("suggestion lookup failed", zap.String("query", query), zap.Error(err))
		default:
			if len(suggestions) > c.suggestionLimit {
				suggestions = suggestions[:c.suggestionLimit]
			}
			c.suggestions = suggestions
		}
		c.version++
		c.mu.Unlock()

		c.report(message)
		c.notify()
	}()
}

func (c *Controller) fetchProfile(login string, force bool, trigger string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inflight++
	c.errMessage = ""
	c.version++
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.Search(trigger)
	c.logger.Info("profile search",
		zap.String("login", login), zap.String("trigger", trigger), zap.Bool("forced", force))
	c.notify()

	go func() {
		defer c.wg.Done()

		var (
			profile *domain.UserProfile
			err     error
		)
		if force {
			profile, err = c.directory.RefetchProfile(c.ctx, login)
		} else {
			profile, err = c.directory.FetchProfile(c.ctx, login)
		}

		var message string
		c.mu.Lock()
		c.inflight--
		switch {
		case err != nil && c.ctx.Err() != nil:
			// closed while in flight
		case err != nil:
			// previous profile stays on screen
			message = domain.UserMessage(err)
			c.errMessage = message
			c.logger.Warn("profile lookup failed", zap.String("login", login), zap.Error(err))
		default:
			c.profile = profile
		}
		c.version++
		c.mu.Unlock()

		c.report(message)
		c.notify()
	}()
}

// remember pushes login onto the recent list. Persist failures are logged;
// the in-memory list is still updated.
func (c *Controller) remember(login string) {
	if c.recent == nil {
		return
	}
	if err := c.recent.Add(c.ctx, login); err != nil {
		c.logger.Error("failed to save recent search", zap.String("login", login), zap.Error(err))
	}
	c.mu.Lock()
	c.version++
	c.mu.Unlock()
	c.notify()
}

// track registers a background fetch unless the controller is closed.
func (c *Controller) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Controller) longEnough(text string) bool {
	return domain.QueryLength(text) >= c.minQueryLength
}

func (c *Controller) report(message string) {
	if message != "" && c.onError != nil {
		c.onError(message)
	}
}

func (c *Controller) notify() {
	c.observersMu.Lock()
	if len(c.observers) == 0 {
		c.observersMu.Unlock()
		return
	}
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.observersMu.Unlock()

	state := c.Snapshot()
	for _, fn := range observers {
		fn(state)
	}
}

func (c *Controller) snapshotLocked() State {
	state := State{
		Version:         c.version,
		Input:           c.input,
		Committed:       c.committed,
		Debounced:       c.debounced,
		ShowSuggestions: c.show,
		Suggestions:     append([]domain.Suggestion{}, c.suggestions...),
		Profile:         c.profile,
		Loading:         c.inflight > 0,
		Error:           c.errMessage,
		Recent:          []string{},
	}
	if c.recent != nil {
		state.Recent = c.recent.Items()
	}
	return state
}
