package quiz

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionSink is the slice of the history store a run needs: create the
// backing session, record each answer, write the final score.
type SessionSink interface {
	CreateSession(ctx context.Context, userID, testID string, score, total int) (string, error)
	UpdateSessionScore(ctx context.Context, sessionID string, score, total int) error
	RecordAnswer(ctx context.Context, userID, testID string, questionID int, correct bool, sessionID string) error
}

// runTTL is how long an untouched run survives before eviction. Abandoned
// runs keep their 0-score session row; eviction only frees memory.
const runTTL = 24 * time.Hour

// RunManager owns every live run. All transitions go through its lock, so a
// run only ever sees one mutation at a time; concurrent submissions for the
// same run serialize and the loser gets ErrAlreadyAnswered.
type RunManager struct {
	mu   sync.Mutex
	runs map[string]*Run
	sink SessionSink
	rng  *rand.Rand
	now  func() time.Time
}

// NewRunManager wires the manager to its session sink. rng and now exist for
// tests; pass nil for production defaults.
func NewRunManager(sink SessionSink, rng *rand.Rand, now func() time.Time) *RunManager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &RunManager{
		runs: make(map[string]*Run),
		sink: sink,
		rng:  rng,
		now:  now,
	}
}

// StartConfig describes the run to build. Count <= 0 means the whole pool;
// a nil ActiveTags means every tag present in the pool, while an explicit
// empty slice selects nothing.
type StartConfig struct {
	TestID     string
	ProgramID  string
	Count      int
	ActiveTags []string
	Level      Level
}

// Start selects questions from pool, creates the backing session for signed
// in users and returns the new run's first view. userID may be empty for
// anonymous play; such runs never touch the history store.
func (m *RunManager) Start(ctx context.Context, userID string, cfg StartConfig, pool []Question, stats map[int]Stat) (RunView, error) {
	switch cfg.Level {
	case "":
		cfg.Level = LevelEasy
	case LevelEasy, LevelDifficult:
	default:
		return RunView{}, fmt.Errorf("%w: %q", ErrUnknownLevel, cfg.Level)
	}
	if cfg.Count <= 0 {
		cfg.Count = len(pool)
	}
	if cfg.ActiveTags == nil {
		seen := make(map[string]bool)
		for _, q := range pool {
			if !seen[q.Tag] {
				seen[q.Tag] = true
				cfg.ActiveTags = append(cfg.ActiveTags, q.Tag)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictStale()

	selected := SelectBalanced(pool, cfg.ActiveTags, cfg.Count, stats, m.rng)
	if len(selected) == 0 {
		return RunView{}, ErrEmptySelection
	}
	selected = cloneQuestions(selected)
	ShuffleOptions(selected, m.rng)

	run := &Run{
		id:        uuid.NewString(),
		userID:    userID,
		testID:    cfg.TestID,
		programID: cfg.ProgramID,
		level:     cfg.Level,
		state:     StateInRound,
		round:     1,
		questions: selected,
		startedAt: m.now(),
		touchedAt: m.now(),
	}
	if userID != "" {
		sid, err := m.sink.CreateSession(ctx, userID, cfg.TestID, 0, len(selected))
		if err != nil {
			return RunView{}, err
		}
		run.sessionID = sid
	}
	m.runs[run.id] = run
	return run.view(), nil
}

// View returns the current snapshot without mutating the run.
func (m *RunManager) View(runID, userID string) (RunView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID, userID)
	if err != nil {
		return RunView{}, err
	}
	return run.view(), nil
}

// Answer grades the current question and returns the view with the reveal
// filled in.
func (m *RunManager) Answer(ctx context.Context, runID, userID string, ans Answer) (RunView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID, userID)
	if err != nil {
		return RunView{}, err
	}
	if _, err := run.submit(ctx, m.sink, ans); err != nil {
		return RunView{}, err
	}
	return run.view(), nil
}

// Next advances past an answered question, completing the round on the last
// one.
func (m *RunManager) Next(ctx context.Context, runID, userID string) (RunView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID, userID)
	if err != nil {
		return RunView{}, err
	}
	if err := run.advance(ctx, m.sink); err != nil {
		return RunView{}, err
	}
	return run.view(), nil
}

// Retry starts a new round over the questions missed in the completed one.
func (m *RunManager) Retry(ctx context.Context, runID, userID string) (RunView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID, userID)
	if err != nil {
		return RunView{}, err
	}
	if err := run.retryRound(ctx, m.sink, m.rng); err != nil {
		return RunView{}, err
	}
	return run.view(), nil
}

// Finish closes the run and drops it from the manager. The returned view
// carries the cross-round summary.
func (m *RunManager) Finish(ctx context.Context, runID, userID string) (RunView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, err := m.get(runID, userID)
	if err != nil {
		return RunView{}, err
	}
	if err := run.finishRun(); err != nil {
		return RunView{}, err
	}
	delete(m.runs, runID)
	return run.view(), nil
}

// Abandon discards a run outright. The round's session row keeps its
// creation-time zero score; abandoning from a reveal never rolls anything
// back. Unknown ids are a no-op so abandon is safe to repeat.
func (m *RunManager) Abandon(runID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok && run.userID == userID {
		delete(m.runs, runID)
	}
}

// get looks up a run and refreshes its eviction clock. A foreign userID gets
// ErrRunNotFound rather than a hint that the id exists.
func (m *RunManager) get(runID, userID string) (*Run, error) {
	run, ok := m.runs[runID]
	if !ok || run.userID != userID {
		return nil, ErrRunNotFound
	}
	run.touchedAt = m.now()
	return run, nil
}

func (m *RunManager) evictStale() {
	cutoff := m.now().Add(-runTTL)
	for id, run := range m.runs {
		if run.touchedAt.Before(cutoff) {
			delete(m.runs, id)
		}
	}
}
