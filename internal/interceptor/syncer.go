package interceptor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reviews_app/internal/domain"
)

// SyncHandler does the work behind one wake-up tag. Returning an error
// keeps the tag registered for the next attempt.
type SyncHandler func(ctx context.Context) error

// Syncer delivers wake-up tags at least once. Tags are stored durably, run
// as soon as they are requested, and retried on every tick until their
// handler succeeds.
type Syncer struct {
	reg      domain.SyncRegistry
	interval time.Duration

	mu       sync.Mutex
	handlers map[string]SyncHandler
	// dirty marks tags requested again while their handler was running.
	dirty map[string]bool
	kick  chan struct{}
	runMu sync.Mutex
}

func NewSyncer(reg domain.SyncRegistry, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Syncer{
		reg:      reg,
		interval: interval,
		handlers: map[string]SyncHandler{},
		dirty:    map[string]bool{},
		kick:     make(chan struct{}, 1),
	}
}

func (s *Syncer) Handle(tag string, h SyncHandler) {
	s.mu.Lock()
	s.handlers[tag] = h
	s.mu.Unlock()
}

// Request registers tag and wakes the loop.
func (s *Syncer) Request(ctx context.Context, tag string) error {
	if tag == "" {
		return errors.New("sync tag is required")
	}
	// dirty goes first: a run that removes the tag after this point sees it
	// and puts the tag back.
	s.mu.Lock()
	s.dirty[tag] = true
	s.mu.Unlock()
	if err := s.reg.AddTag(ctx, tag); err != nil {
		return err
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	log.Debug().Str("tag", tag).Msg("sync requested")
	return nil
}

// Run handles registered tags until ctx is done. Tags left over from a
// previous run are handled immediately.
func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-s.kick:
		}
		s.RunOnce(ctx)
	}
}

// RunOnce runs the handler of every registered tag once.
func (s *Syncer) RunOnce(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	tags, err := s.reg.Tags(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("read sync tags failed")
		return
	}
	for _, tag := range tags {
		s.mu.Lock()
		h := s.handlers[tag]
		delete(s.dirty, tag)
		s.mu.Unlock()
		if h == nil {
			log.Warn().Str("tag", tag).Msg("no handler for sync tag")
			continue
		}

		if err := h(ctx); err != nil {
			log.Info().Err(err).Str("tag", tag).Msg("sync failed; will retry")
			continue
		}

		if s.isDirty(tag) {
			continue
		}
		if err := s.reg.RemoveTag(ctx, tag); err != nil {
			log.Warn().Err(err).Str("tag", tag).Msg("remove sync tag failed")
			continue
		}
		// requested while the tag was being removed
		if s.isDirty(tag) {
			if err := s.reg.AddTag(ctx, tag); err != nil {
				log.Warn().Err(err).Str("tag", tag).Msg("restore sync tag failed")
			}
		}
	}
}

func (s *Syncer) isDirty(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty[tag]
}
