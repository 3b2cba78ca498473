package playback

import (
	"go.uber.org/zap"

	"github.com/satriahrh/voicelink/domain/repositories"
	"github.com/satriahrh/voicelink/internal/eventloop"
	"github.com/satriahrh/voicelink/internal/metrics"
)

// Stats counts what happened to enqueued fragments
type Stats struct {
	Enqueued int `json:"enqueued"`
	Attempts int `json:"attempts"`
	Releases int `json:"releases"`
	Failures int `json:"failures"`
}

type item struct {
	sentence string
	track    repositories.Track
}

// Queue plays speech fragments one at a time in enqueue order. All methods
// must be called on the event loop.
type Queue struct {
	loop    *eventloop.Loop
	player  repositories.Player
	metrics *metrics.Metrics
	logger  *zap.Logger

	items      []*item
	current    *item
	generation uint64
	closed     bool
	stats      Stats
}

// NewQueue creates a new playback queue
func NewQueue(loop *eventloop.Loop, player repositories.Player, m *metrics.Metrics, logger *zap.Logger) *Queue {
	return &Queue{
		loop:    loop,
		player:  player,
		metrics: m,
		logger:  logger,
	}
}

// Enqueue appends a fragment and starts playback if nothing is playing
func (q *Queue) Enqueue(sentence string, audio []byte) {
	if q.closed {
		q.logger.Debug("Ignoring fragment after close", zap.String("sentence", sentence))
		return
	}
	q.items = append(q.items, &item{
		sentence: sentence,
		track:    q.player.Prepare(audio),
	})
	q.stats.Enqueued++
	q.playNext()
}

// EnqueueFailed appends a fragment whose audio could not be decoded. It
// takes its turn like any other fragment and fails when played, so attempts
// and releases stay in step with what was enqueued.
func (q *Queue) EnqueueFailed(sentence string, err error) {
	if q.closed {
		q.logger.Debug("Ignoring fragment after close", zap.String("sentence", sentence))
		return
	}
	q.items = append(q.items, &item{
		sentence: sentence,
		track:    failedTrack{err: err},
	})
	q.stats.Enqueued++
	q.playNext()
}

// Playing reports whether a fragment is currently playing
func (q *Queue) Playing() bool {
	return q.current != nil
}

// Len returns the number of fragments waiting to play
func (q *Queue) Len() int {
	return len(q.items)
}

// Stats returns the queue counters
func (q *Queue) Stats() Stats {
	return q.stats
}

// Close stops the playing fragment and releases everything queued
func (q *Queue) Close() {
	if q.closed {
		return
	}
	q.closed = true
	q.generation++

	if q.current != nil {
		q.release(q.current)
		q.current = nil
	}
	for _, it := range q.items {
		q.release(it)
	}
	q.items = nil
	q.metrics.SetPlaybackQueued(0)
	q.logger.Info("Playback queue closed",
		zap.Int("attempts", q.stats.Attempts),
		zap.Int("failures", q.stats.Failures))
}

func (q *Queue) playNext() {
	if q.current != nil || q.closed || len(q.items) == 0 {
		q.metrics.SetPlaybackQueued(len(q.items))
		return
	}

	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.metrics.SetPlaybackQueued(len(q.items))

	q.current = it
	q.generation++
	generation := q.generation
	q.stats.Attempts++
	q.logger.Debug("Playing fragment", zap.String("sentence", it.sentence))

	it.track.Play(func(err error) {
		q.loop.Post(func() {
			q.finish(generation, it, err)
		})
	})
}

func (q *Queue) finish(generation uint64, it *item, err error) {
	if generation != q.generation || q.current != it {
		return
	}
	q.current = nil
	q.release(it)
	q.metrics.RecordPlayback(err)

	if err != nil {
		q.stats.Failures++
		q.logger.Warn("Failed to play fragment, skipping",
			zap.String("sentence", it.sentence),
			zap.Error(err))
	}
	q.playNext()
}

// failedTrack stands in for audio that never decoded
type failedTrack struct {
	err error
}

func (t failedTrack) Play(done func(error)) {
	done(t.err)
}

func (t failedTrack) Release() {}

func (q *Queue) release(it *item) {
	it.track.Release()
	q.stats.Releases++
}
