package quiz

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Level controls how answers are collected: easy shows the options as
// multiple choice, difficult hides them and takes free text.
type Level string

const (
	LevelEasy      Level = "easy"
	LevelDifficult Level = "difficult"
)

// State is the run lifecycle. A run moves in_round -> round_complete, then
// either back to in_round (retry over the wrong answers) or to finished.
type State string

const (
	StateInRound       State = "in_round"
	StateRoundComplete State = "round_complete"
	StateFinished      State = "finished"
)

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrNotInRound      = errors.New("run is not in a round")
	ErrAlreadyAnswered = errors.New("current question already answered")
	ErrNotAnswered     = errors.New("current question not answered yet")
	ErrRoundNotDone    = errors.New("round still in progress")
	ErrNoWrongAnswers  = errors.New("no wrong answers to retry")
	ErrEmptySelection  = errors.New("no questions match the requested tags")
	ErrAnswerRequired  = errors.New("selected_index required")
	ErrUnknownLevel    = errors.New("unknown level")
)

// Run is one learner's live quiz. Runs live only in the manager's map and
// are mutated exclusively under the manager's lock; nothing here is safe to
// call concurrently on its own.
type Run struct {
	id        string
	userID    string
	testID    string // empty for program and cross-test practice runs
	programID string
	level     Level
	state     State

	round     int
	questions []Question
	cursor    int
	answered  bool
	reveal    *Reveal
	score     int
	wrong     []Question

	history []roundRecord

	sessionID  string
	scoreSaved bool
	startedAt  time.Time
	touchedAt  time.Time
}

// roundRecord is the frozen outcome of a completed round. The wrong
// questions are kept whole so a later retry can replay them without a
// store round trip.
type roundRecord struct {
	round int
	score int
	total int
	wrong []Question
}

// Answer is a learner's submission for the current question. Multiple
// choice runs send SelectedIndex; free-text runs send Text.
type Answer struct {
	SelectedIndex *int   `json:"selected_index,omitempty"`
	Text          string `json:"text,omitempty"`
}

// Reveal is shown after a submission and stays visible until the learner
// advances.
type Reveal struct {
	Correct       bool   `json:"correct"`
	CorrectIndex  int    `json:"correct_index"`
	CorrectOption string `json:"correct_option"`
	Explanation   string `json:"explanation,omitempty"`
}

// FreeTextMatch reports whether a typed answer matches the correct option:
// case-insensitive equality after trimming surrounding whitespace. Empty
// input is a valid submission and simply scores wrong.
func FreeTextMatch(got, want string) bool {
	return strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want))
}

// submit grades the current question. The answer event is persisted before
// any state changes so a failed write leaves the run re-submittable.
func (r *Run) submit(ctx context.Context, sink SessionSink, ans Answer) (*Reveal, error) {
	if r.state != StateInRound {
		return nil, ErrNotInRound
	}
	if r.answered {
		return nil, ErrAlreadyAnswered
	}
	q := r.questions[r.cursor]

	var correct bool
	switch r.level {
	case LevelDifficult:
		correct = FreeTextMatch(ans.Text, q.Options[q.CorrectIndex])
	default:
		if ans.SelectedIndex == nil {
			return nil, ErrAnswerRequired
		}
		correct = *ans.SelectedIndex == q.CorrectIndex
	}

	if r.userID != "" && r.sessionID != "" {
		testID := q.TestID
		if testID == "" {
			testID = r.testID
		}
		if err := sink.RecordAnswer(ctx, r.userID, testID, q.ID, correct, r.sessionID); err != nil {
			return nil, err
		}
	}

	if correct {
		r.score++
	} else {
		r.wrong = append(r.wrong, q)
	}
	r.answered = true
	r.reveal = &Reveal{
		Correct:       correct,
		CorrectIndex:  q.CorrectIndex,
		CorrectOption: q.Options[q.CorrectIndex],
		Explanation:   q.Explanation,
	}
	return r.reveal, nil
}

// advance moves past an answered question. Completing the last question
// writes the round score back to its session exactly once, then freezes the
// round into history.
func (r *Run) advance(ctx context.Context, sink SessionSink) error {
	if r.state != StateInRound {
		return ErrNotInRound
	}
	if !r.answered {
		return ErrNotAnswered
	}

	if r.cursor+1 >= len(r.questions) {
		if r.userID != "" && r.sessionID != "" && !r.scoreSaved {
			if err := sink.UpdateSessionScore(ctx, r.sessionID, r.score, len(r.questions)); err != nil {
				return err
			}
		}
		r.scoreSaved = true
		if len(r.history) < r.round {
			r.history = append(r.history, roundRecord{
				round: r.round,
				score: r.score,
				total: len(r.questions),
				wrong: cloneQuestions(r.wrong),
			})
		}
		r.cursor++
		r.answered = false
		r.reveal = nil
		r.state = StateRoundComplete
		return nil
	}

	r.cursor++
	r.answered = false
	r.reveal = nil
	return nil
}

// retryRound starts a fresh round over the questions missed in the one just
// completed. The wrong questions are reshuffled, their options are
// reshuffled, and a new session backs the new round.
func (r *Run) retryRound(ctx context.Context, sink SessionSink, rng *rand.Rand) error {
	if r.state != StateRoundComplete {
		return ErrRoundNotDone
	}
	if len(r.wrong) == 0 {
		return ErrNoWrongAnswers
	}

	qs := cloneQuestions(r.wrong)
	rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	ShuffleOptions(qs, rng)

	if r.userID != "" {
		sid, err := sink.CreateSession(ctx, r.userID, r.testID, 0, len(qs))
		if err != nil {
			return err
		}
		r.sessionID = sid
	}

	r.round++
	r.questions = qs
	r.cursor = 0
	r.answered = false
	r.reveal = nil
	r.score = 0
	r.wrong = nil
	r.scoreSaved = false
	r.state = StateInRound
	return nil
}

// finishRun closes out a run from the round summary. Sessions already hold
// every per-round score, so nothing is written here.
func (r *Run) finishRun() error {
	if r.state != StateRoundComplete {
		return ErrRoundNotDone
	}
	r.state = StateFinished
	return nil
}

// RunView is the learner-facing snapshot of a run. The answer key never
// appears: options are omitted entirely on difficult runs and the correct
// index only surfaces through Reveal after a submission.
type RunView struct {
	ID         string         `json:"id"`
	State      State          `json:"state"`
	Level      Level          `json:"level"`
	TestID     string         `json:"test_id,omitempty"`
	ProgramID  string         `json:"program_id,omitempty"`
	Round      int            `json:"round"`
	Position   int            `json:"position"`
	Total      int            `json:"total"`
	Score      int            `json:"score"`
	Answered   bool           `json:"answered"`
	Question   *QuestionView  `json:"question,omitempty"`
	Reveal     *Reveal        `json:"reveal,omitempty"`
	WrongCount int            `json:"wrong_count"`
	CanRetry   bool           `json:"can_retry"`
	Rounds     []RoundSummary `json:"rounds,omitempty"`
	Summary    *Summary       `json:"summary,omitempty"`
}

type QuestionView struct {
	ID      int      `json:"id"`
	TestID  string   `json:"test_id,omitempty"`
	Tag     string   `json:"tag,omitempty"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

type RoundSummary struct {
	Round            int   `json:"round"`
	Score            int   `json:"score"`
	Total            int   `json:"total"`
	WrongQuestionIDs []int `json:"wrong_question_ids,omitempty"`
}

// Summary totals every round of the run.
type Summary struct {
	Score  int `json:"score"`
	Total  int `json:"total"`
	Rounds int `json:"rounds"`
}

func (r *Run) view() RunView {
	v := RunView{
		ID:         r.id,
		State:      r.state,
		Level:      r.level,
		TestID:     r.testID,
		ProgramID:  r.programID,
		Round:      r.round,
		Position:   r.cursor,
		Total:      len(r.questions),
		Score:      r.score,
		Answered:   r.answered,
		Reveal:     r.reveal,
		WrongCount: len(r.wrong),
		CanRetry:   r.state == StateRoundComplete && len(r.wrong) > 0,
	}
	if r.state == StateInRound && r.cursor < len(r.questions) {
		q := r.questions[r.cursor]
		qv := &QuestionView{ID: q.ID, TestID: q.TestID, Tag: q.Tag, Prompt: q.Prompt}
		if r.level != LevelDifficult {
			qv.Options = q.Options
		}
		v.Question = qv
	}
	if r.state != StateInRound {
		for _, h := range r.history {
			rs := RoundSummary{Round: h.round, Score: h.score, Total: h.total}
			for _, q := range h.wrong {
				rs.WrongQuestionIDs = append(rs.WrongQuestionIDs, q.ID)
			}
			v.Rounds = append(v.Rounds, rs)
		}
		sum := &Summary{Rounds: len(r.history)}
		for _, h := range r.history {
			sum.Score += h.score
			sum.Total += h.total
		}
		v.Summary = sum
	}
	return v
}
