// Package engine routes inbound messages to their sessions and drives
// the adventure state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bowerhall/meshtale/internal/command"
	"github.com/bowerhall/meshtale/internal/guard"
	"github.com/bowerhall/meshtale/internal/logger"
	"github.com/bowerhall/meshtale/internal/metrics"
	"github.com/bowerhall/meshtale/internal/narrator"
	"github.com/bowerhall/meshtale/internal/session"
	"github.com/bowerhall/meshtale/internal/story"
)

const (
	defaultLockWait   = 2 * time.Second
	defaultMaxContext = 20
)

var (
	ErrInvalid     = errors.New("invalid request")
	ErrBusy        = errors.New("session busy")
	ErrRateLimited = errors.New("rate limited")
)

// Generator produces the next narrative beat for a session.
type Generator interface {
	NextBeat(ctx context.Context, theme string, events []story.Event) (narrator.Result, error)
}

// Reply is the single response produced for one accepted message.
type Reply struct {
	Text  string
	Key   string
	State string
}

// Options tunes the routing engine. Zero values fall back to defaults.
type Options struct {
	LockWait       time.Duration
	MaxContext     int
	SharedChannels []int
	RateLimit      int
	RateWindow     time.Duration
}

type Engine struct {
	store      *session.Store
	generator  Generator
	locks      *session.Registry
	limiter    *guard.Limiter
	shared     map[int]bool
	lockWait   time.Duration
	maxContext int
}

func New(store *session.Store, gen Generator, opts Options) *Engine {
	if opts.LockWait <= 0 {
		opts.LockWait = defaultLockWait
	}
	if opts.MaxContext <= 0 {
		opts.MaxContext = defaultMaxContext
	}

	shared := make(map[int]bool, len(opts.SharedChannels))
	for _, ch := range opts.SharedChannels {
		shared[ch] = true
	}

	return &Engine{
		store:      store,
		generator:  gen,
		locks:      session.NewRegistry(),
		limiter:    guard.NewLimiter(opts.RateLimit, opts.RateWindow),
		shared:     shared,
		lockWait:   opts.LockWait,
		maxContext: opts.MaxContext,
	}
}

// Store exposes the session store for read-only surfaces (status
// snapshots, maintenance). Mutation stays behind Handle/HandleDirect.
func (e *Engine) Store() *session.Store {
	return e.store
}

// Handle processes one mesh message: validate, rate limit, resolve the
// session key and run the state machine. Exactly one reply per
// accepted message.
func (e *Engine) Handle(ctx context.Context, sender string, channelIdx int, content string) (Reply, error) {
	content = guard.SanitizeMessage(content)
	if err := guard.ValidateInbound(sender, channelIdx, content); err != nil {
		return Reply{}, fmt.Errorf("%w: %s", ErrInvalid, err)
	}

	if !e.limiter.Allow(sender) {
		metrics.RateLimited.Inc()
		logger.Debug("rate limited", "sender", sender)
		return Reply{Text: replyRateLimited}, ErrRateLimited
	}

	key := e.resolveKey(sender, channelIdx)
	return e.process(ctx, key, sender, channelIdx, content)
}

// HandleDirect processes a message from a keyed surface (web session,
// chat bot). The caller owns key construction; mesh-specific checks
// (envelope, rate limit) do not apply.
func (e *Engine) HandleDirect(ctx context.Context, key, sender, content string) (Reply, error) {
	content = guard.SanitizeMessage(content)
	if content == "" {
		return Reply{}, fmt.Errorf("%w: empty message", ErrInvalid)
	}

	return e.process(ctx, key, sender, 0, content)
}

func (e *Engine) resolveKey(sender string, channelIdx int) string {
	if e.shared[channelIdx] {
		return session.ChannelKey(channelIdx)
	}
	return session.PersonalKey(sender, channelIdx)
}

// process runs the per-key critical section: load, interpret, transit,
// persist.
func (e *Engine) process(ctx context.Context, key, sender string, channelIdx int, content string) (Reply, error) {
	release, ok := e.locks.Acquire(key, e.lockWait)
	if !ok {
		metrics.BusyRejections.Inc()
		logger.Debug("session busy", "key", key)
		return Reply{Text: replyBusy}, ErrBusy
	}
	defer release()

	sess, err := e.store.LoadOrCreate(key, channelIdx)
	if err != nil {
		return Reply{}, fmt.Errorf("load session %s: %w", key, err)
	}

	intent := command.Interpret(content)
	metrics.MessagesTotal.WithLabelValues(intent.Kind.String()).Inc()
	logger.Debug("message received", "key", key, "intent", intent.Kind.String(), "state", sess.State)

	return e.transit(ctx, sess, intent, sender)
}

// transit advances the state machine for one intent. Generation-bearing
// transitions persist twice: once on acceptance, once when the beat
// lands. A generation failure leaves the accepted state untouched, so
// retrying the same intent is safe.
func (e *Engine) transit(ctx context.Context, sess *session.Session, intent command.Intent, sender string) (Reply, error) {
	switch intent.Kind {
	case command.Reset:
		sess.Reset()
		if err := e.persist(sess); err != nil {
			return Reply{}, err
		}
		return e.reply(sess, replyReset), nil

	case command.Quit:
		sess.Reset()
		if err := e.persist(sess); err != nil {
			return Reply{}, err
		}
		logger.Info("adventure ended by user", "key", sess.Key)
		return e.reply(sess, replyQuit), nil

	case command.Help:
		return e.reply(sess, helpText()), nil

	case command.Status:
		return e.reply(sess, statusText(sess)), nil
	}

	switch sess.State {
	case session.StateIdle:
		if intent.Kind == command.StartAdventure {
			return e.begin(ctx, sess, intent.Theme, sender)
		}
		return e.reply(sess, replyNoStory), nil

	case session.StateStoryActive:
		// A beat is owed; any of these intents re-triggers it.
		return e.generate(ctx, sess, sender)

	case session.StateAwaitingChoice:
		switch intent.Kind {
		case command.NumericChoice:
			k := len(sess.Choices)
			if intent.Choice < 1 || intent.Choice > k {
				return e.reply(sess, fmt.Sprintf(replyInvalidChoice, k)), nil
			}

			attribution := ""
			if sess.SharedChannel() {
				attribution = sender
			}
			sess.AcceptChoice(intent.Choice, attribution, e.maxContext)
			if err := e.persist(sess); err != nil {
				return Reply{}, err
			}
			return e.generate(ctx, sess, sender)

		case command.StartAdventure:
			return e.reply(sess, fmt.Sprintf(replyInProgress, len(sess.Choices))), nil

		default:
			return e.reply(sess, fmt.Sprintf(replyPickNumber, len(sess.Choices))), nil
		}

	case session.StateEnded:
		if intent.Kind == command.StartAdventure {
			return e.begin(ctx, sess, intent.Theme, sender)
		}
		return e.reply(sess, replyEnded), nil
	}

	return Reply{}, fmt.Errorf("session %s in unknown state %q", sess.Key, sess.State)
}

// begin accepts a StartAdventure intent: record the theme, persist, and
// generate the opening beat.
func (e *Engine) begin(ctx context.Context, sess *session.Session, theme, sender string) (Reply, error) {
	theme = story.Normalize(guard.SanitizeTheme(theme))

	sess.BeginStory(theme)
	if err := e.persist(sess); err != nil {
		return Reply{}, err
	}

	logger.Info("adventure started", "key", sess.Key, "theme", theme)
	return e.generate(ctx, sess, sender)
}

// generate runs the dispatcher for the owed beat and applies the
// result. Failure keeps the session as persisted and reports the
// outage to the user.
func (e *Engine) generate(ctx context.Context, sess *session.Session, sender string) (Reply, error) {
	start := time.Now()

	result, err := e.generator.NextBeat(ctx, sess.Theme, sess.Context)
	if err != nil {
		reason := narrator.FailureReason(err)
		metrics.GenerationFailures.WithLabelValues(reason).Inc()
		logger.Warn("generation failed", "key", sess.Key, "reason", reason, "error", err)
		return e.reply(sess, replyUnavailable), nil
	}

	metrics.GenerationDuration.WithLabelValues(result.Source).Observe(time.Since(start).Seconds())

	sess.ApplyBeat(result.Beat, e.maxContext)
	if err := e.persist(sess); err != nil {
		return Reply{}, err
	}

	if sess.State == session.StateEnded {
		logger.Info("adventure reached its end", "key", sess.Key, "theme", sess.Theme)
	}

	return e.reply(sess, story.Format(result.Beat)), nil
}

// persist saves the session, retrying once before surfacing failure.
func (e *Engine) persist(sess *session.Session) error {
	sess.LastActiveAt = time.Now()

	if err := e.store.Save(sess); err != nil {
		logger.Warn("session save failed, retrying", "key", sess.Key, "error", err)
		if err := e.store.Save(sess); err != nil {
			return fmt.Errorf("persist session %s: %w", sess.Key, err)
		}
	}
	return nil
}

func (e *Engine) reply(sess *session.Session, text string) Reply {
	return Reply{Text: text, Key: sess.Key, State: sess.State}
}
