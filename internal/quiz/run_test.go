package quiz_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/knowting/knowting/internal/quiz"
)

type fakeSession struct {
	userID string
	testID string
	score  int
	total  int
}

type fakeSink struct {
	sessions   map[string]*fakeSession
	order      []string
	answers    []string // "testID/qID/correct"
	updates    int
	failUpdate bool
	failRecord bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{sessions: map[string]*fakeSession{}}
}

func (f *fakeSink) CreateSession(_ context.Context, userID, testID string, score, total int) (string, error) {
	id := fmt.Sprintf("s%d", len(f.order)+1)
	f.sessions[id] = &fakeSession{userID: userID, testID: testID, score: score, total: total}
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeSink) UpdateSessionScore(_ context.Context, sessionID string, score, total int) error {
	if f.failUpdate {
		return errors.New("db down")
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("no such session")
	}
	s.score, s.total = score, total
	f.updates++
	return nil
}

func (f *fakeSink) RecordAnswer(_ context.Context, _, testID string, questionID int, correct bool, _ string) error {
	if f.failRecord {
		return errors.New("db down")
	}
	f.answers = append(f.answers, fmt.Sprintf("%s/%d/%v", testID, questionID, correct))
	return nil
}

// seedRun starts a 4-question single-tag run for user u1. Every question's
// correct option is the string "right".
func seedRun(t *testing.T, level quiz.Level) (*quiz.RunManager, *fakeSink, quiz.RunView) {
	t.Helper()
	sink := newFakeSink()
	mgr := quiz.NewRunManager(sink, rand.New(rand.NewSource(7)), nil)
	pool := make([]quiz.Question, 4)
	for i := range pool {
		pool[i] = quiz.Question{
			ID:          i + 1,
			TestID:      "t1",
			Tag:         "a",
			Prompt:      fmt.Sprintf("q%d", i+1),
			Options:     []string{"right", "wrong one", "wrong two"},
			Explanation: "because",
		}
	}
	view, err := mgr.Start(context.Background(), "u1", quiz.StartConfig{TestID: "t1", Level: level}, pool, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return mgr, sink, view
}

// answer submits the current question, choosing the correct option when
// correct is true.
func answer(t *testing.T, mgr *quiz.RunManager, v quiz.RunView, correct bool) quiz.RunView {
	t.Helper()
	if v.Question == nil {
		t.Fatalf("no current question in state %s", v.State)
	}
	idx := -1
	for i, opt := range v.Question.Options {
		if (opt == "right") == correct {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatalf("no option matching correct=%v in %v", correct, v.Question.Options)
	}
	out, err := mgr.Answer(context.Background(), v.ID, "u1", quiz.Answer{SelectedIndex: &idx})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	return out
}

func next(t *testing.T, mgr *quiz.RunManager, v quiz.RunView) quiz.RunView {
	t.Helper()
	out, err := mgr.Next(context.Background(), v.ID, "u1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	return out
}

func TestRunAnswersThroughRound(t *testing.T) {
	mgr, sink, v := seedRun(t, quiz.LevelEasy)
	if v.State != quiz.StateInRound || v.Total != 4 || v.Round != 1 {
		t.Fatalf("unexpected start view: %+v", v)
	}
	if len(sink.order) != 1 {
		t.Fatalf("expected one session, got %d", len(sink.order))
	}

	for i := 0; i < 4; i++ {
		v = answer(t, mgr, v, true)
		if !v.Answered || v.Reveal == nil || !v.Reveal.Correct {
			t.Fatalf("question %d: missing correct reveal: %+v", i, v)
		}
		if v.Reveal.CorrectOption != "right" || v.Reveal.Explanation != "because" {
			t.Fatalf("question %d: reveal = %+v", i, v.Reveal)
		}
		v = next(t, mgr, v)
	}

	if v.State != quiz.StateRoundComplete {
		t.Fatalf("state = %s, want round_complete", v.State)
	}
	if v.Score != 4 || v.WrongCount != 0 || v.CanRetry {
		t.Fatalf("completion view = %+v", v)
	}
	s := sink.sessions[sink.order[0]]
	if s.score != 4 || s.total != 4 {
		t.Fatalf("session score = %d/%d, want 4/4", s.score, s.total)
	}
	if len(sink.answers) != 4 {
		t.Fatalf("recorded %d answers, want 4", len(sink.answers))
	}
}

func TestRunRetryReplaysWrongQuestions(t *testing.T) {
	mgr, sink, v := seedRun(t, quiz.LevelEasy)

	// miss the first two, get the last two
	wrongIDs := map[int]bool{}
	for i := 0; i < 4; i++ {
		correct := i >= 2
		if !correct {
			wrongIDs[v.Question.ID] = true
		}
		v = answer(t, mgr, v, correct)
		v = next(t, mgr, v)
	}
	if v.WrongCount != 2 || !v.CanRetry {
		t.Fatalf("completion view = %+v", v)
	}

	v, err := mgr.Retry(context.Background(), v.ID, "u1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v.State != quiz.StateInRound || v.Round != 2 || v.Total != 2 || v.Score != 0 {
		t.Fatalf("retry view = %+v", v)
	}
	if len(sink.order) != 2 {
		t.Fatalf("expected a second session, got %d", len(sink.order))
	}

	for i := 0; i < 2; i++ {
		if !wrongIDs[v.Question.ID] {
			t.Fatalf("retry round served question %d, not one of the missed %v", v.Question.ID, wrongIDs)
		}
		v = answer(t, mgr, v, true)
		v = next(t, mgr, v)
	}

	v, err = mgr.Finish(context.Background(), v.ID, "u1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if v.State != quiz.StateFinished {
		t.Fatalf("state = %s, want finished", v.State)
	}
	if v.Summary == nil || v.Summary.Score != 4 || v.Summary.Total != 6 || v.Summary.Rounds != 2 {
		t.Fatalf("summary = %+v", v.Summary)
	}
	if len(v.Rounds) != 2 || v.Rounds[0].Score != 2 || v.Rounds[1].Score != 2 {
		t.Fatalf("rounds = %+v", v.Rounds)
	}

	// finished runs are gone
	if _, err := mgr.View(v.ID, "u1"); !errors.Is(err, quiz.ErrRunNotFound) {
		t.Fatalf("view after finish: %v", err)
	}
}

func TestRunGuardsPointerMoves(t *testing.T) {
	mgr, _, v := seedRun(t, quiz.LevelEasy)

	if _, err := mgr.Next(context.Background(), v.ID, "u1"); !errors.Is(err, quiz.ErrNotAnswered) {
		t.Fatalf("next before answer: %v", err)
	}
	v = answer(t, mgr, v, true)
	idx := 0
	if _, err := mgr.Answer(context.Background(), v.ID, "u1", quiz.Answer{SelectedIndex: &idx}); !errors.Is(err, quiz.ErrAlreadyAnswered) {
		t.Fatalf("double answer: %v", err)
	}
	if _, err := mgr.Retry(context.Background(), v.ID, "u1"); !errors.Is(err, quiz.ErrRoundNotDone) {
		t.Fatalf("retry mid-round: %v", err)
	}
	if _, err := mgr.Finish(context.Background(), v.ID, "u1"); !errors.Is(err, quiz.ErrRoundNotDone) {
		t.Fatalf("finish mid-round: %v", err)
	}
}

func TestRunRetryNeedsWrongAnswers(t *testing.T) {
	mgr, _, v := seedRun(t, quiz.LevelEasy)
	for i := 0; i < 4; i++ {
		v = answer(t, mgr, v, true)
		v = next(t, mgr, v)
	}
	if _, err := mgr.Retry(context.Background(), v.ID, "u1"); !errors.Is(err, quiz.ErrNoWrongAnswers) {
		t.Fatalf("retry after perfect round: %v", err)
	}
}

func TestRunScoreWriteBackSurvivesFailure(t *testing.T) {
	mgr, sink, v := seedRun(t, quiz.LevelEasy)
	for i := 0; i < 3; i++ {
		v = answer(t, mgr, v, true)
		v = next(t, mgr, v)
	}
	v = answer(t, mgr, v, true)

	sink.failUpdate = true
	if _, err := mgr.Next(context.Background(), v.ID, "u1"); err == nil {
		t.Fatal("expected write-back failure to surface")
	}

	// the run must still be completable once the store recovers
	sink.failUpdate = false
	v = next(t, mgr, v)
	if v.State != quiz.StateRoundComplete {
		t.Fatalf("state = %s, want round_complete", v.State)
	}
	if sink.updates != 1 {
		t.Fatalf("score written %d times, want exactly once", sink.updates)
	}
	if _, err := mgr.Next(context.Background(), v.ID, "u1"); !errors.Is(err, quiz.ErrNotInRound) {
		t.Fatalf("next after completion: %v", err)
	}
	if sink.updates != 1 {
		t.Fatalf("score written %d times after extra next, want exactly once", sink.updates)
	}
}

func TestRunAnswerFailureLeavesQuestionOpen(t *testing.T) {
	mgr, sink, v := seedRun(t, quiz.LevelEasy)
	sink.failRecord = true
	idx := 0
	if _, err := mgr.Answer(context.Background(), v.ID, "u1", quiz.Answer{SelectedIndex: &idx}); err == nil {
		t.Fatal("expected record failure to surface")
	}

	sink.failRecord = false
	v = answer(t, mgr, v, true)
	if v.Score != 1 {
		t.Fatalf("score = %d, want 1 after single successful submit", v.Score)
	}
}

func TestRunFreeTextMatching(t *testing.T) {
	mgr, _, v := seedRun(t, quiz.LevelDifficult)
	if v.Question.Options != nil {
		t.Fatalf("difficult run leaked options: %v", v.Question.Options)
	}

	cases := []struct {
		text    string
		correct bool
	}{
		{"right", true},
		{"  RiGhT \n", true},
		{"rights", false},
		{"", false}, // empty counts as a submission, scored wrong
	}
	for _, c := range cases {
		out, err := mgr.Answer(context.Background(), v.ID, "u1", quiz.Answer{Text: c.text})
		if err != nil {
			t.Fatalf("answer %q: %v", c.text, err)
		}
		if out.Reveal.Correct != c.correct {
			t.Fatalf("answer %q graded %v, want %v", c.text, out.Reveal.Correct, c.correct)
		}
		v = next(t, mgr, out)
	}
}

func TestRunMultipleChoiceNeedsIndex(t *testing.T) {
	mgr, _, v := seedRun(t, quiz.LevelEasy)
	if _, err := mgr.Answer(context.Background(), v.ID, "u1", quiz.Answer{Text: "right"}); !errors.Is(err, quiz.ErrAnswerRequired) {
		t.Fatalf("text answer on easy run: %v", err)
	}
}

func TestRunAbandonKeepsZeroScoreSession(t *testing.T) {
	mgr, sink, v := seedRun(t, quiz.LevelEasy)
	v = answer(t, mgr, v, true)

	mgr.Abandon(v.ID, "u1")
	if _, err := mgr.View(v.ID, "u1"); !errors.Is(err, quiz.ErrRunNotFound) {
		t.Fatalf("view after abandon: %v", err)
	}
	s := sink.sessions[sink.order[0]]
	if s.score != 0 || s.total != 4 || sink.updates != 0 {
		t.Fatalf("abandoned session = %d/%d with %d updates, want untouched 0/4", s.score, s.total, sink.updates)
	}
	mgr.Abandon(v.ID, "u1") // repeat is a no-op
}

func TestRunHiddenFromOtherUsers(t *testing.T) {
	mgr, _, v := seedRun(t, quiz.LevelEasy)
	if _, err := mgr.View(v.ID, "u2"); !errors.Is(err, quiz.ErrRunNotFound) {
		t.Fatalf("foreign view: %v", err)
	}
	idx := 0
	if _, err := mgr.Answer(context.Background(), v.ID, "u2", quiz.Answer{SelectedIndex: &idx}); !errors.Is(err, quiz.ErrRunNotFound) {
		t.Fatalf("foreign answer: %v", err)
	}
}

func TestRunAnonymousSkipsHistory(t *testing.T) {
	sink := newFakeSink()
	mgr := quiz.NewRunManager(sink, rand.New(rand.NewSource(9)), nil)
	pool := []quiz.Question{
		{ID: 1, TestID: "t1", Tag: "a", Prompt: "q1", Options: []string{"right", "wrong"}},
		{ID: 2, TestID: "t1", Tag: "a", Prompt: "q2", Options: []string{"right", "wrong"}},
	}
	v, err := mgr.Start(context.Background(), "", quiz.StartConfig{TestID: "t1"}, pool, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for v.State == quiz.StateInRound {
		idx := 0
		for i, opt := range v.Question.Options {
			if opt == "right" {
				idx = i
			}
		}
		if v, err = mgr.Answer(context.Background(), v.ID, "", quiz.Answer{SelectedIndex: &idx}); err != nil {
			t.Fatalf("answer: %v", err)
		}
		if v, err = mgr.Next(context.Background(), v.ID, ""); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if len(sink.order) != 0 || len(sink.answers) != 0 || sink.updates != 0 {
		t.Fatalf("anonymous run touched the store: %+v", sink)
	}
	if v.Score != 2 {
		t.Fatalf("score = %d, want 2", v.Score)
	}
}

func TestRunStartRejectsEmptySelection(t *testing.T) {
	sink := newFakeSink()
	mgr := quiz.NewRunManager(sink, rand.New(rand.NewSource(11)), nil)
	pool := []quiz.Question{{ID: 1, TestID: "t1", Tag: "a", Prompt: "q", Options: []string{"x", "y"}}}

	_, err := mgr.Start(context.Background(), "u1", quiz.StartConfig{TestID: "t1", ActiveTags: []string{}}, pool, nil)
	if !errors.Is(err, quiz.ErrEmptySelection) {
		t.Fatalf("start with empty tag set: %v", err)
	}
	if len(sink.order) != 0 {
		t.Fatal("no session should be created for an empty selection")
	}

	if _, err := mgr.Start(context.Background(), "u1", quiz.StartConfig{TestID: "t1", Level: "medium"}, pool, nil); !errors.Is(err, quiz.ErrUnknownLevel) {
		t.Fatalf("start with bad level: %v", err)
	}
}
