package quiz

import "github.com/knowting/knowting/internal/access"

// Question is one prompt inside a test. ID is the question's sequence
// number, unique within its test and stable once issued; answer history
// references questions by this number, not by a surrogate key.
type Question struct {
	ID           int      `json:"id"`
	TestID       string   `json:"test_id,omitempty"`
	Tag          string   `json:"tag,omitempty"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
	Source       string   `json:"source,omitempty"` // manual | json_import | material:<id>
}

// Stat is a user's lifetime correctness tally for one question.
type Stat struct {
	Correct int `json:"correct"`
	Wrong   int `json:"wrong"`
}

type Test struct {
	ID            string            `json:"id"`
	Owner         string            `json:"owner_id,omitempty"` // empty for system-imported tests
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Author        string            `json:"author,omitempty"`
	Language      string            `json:"language,omitempty"`
	Visibility    access.Visibility `json:"visibility"`
	Tags          []string          `json:"tags,omitempty"`
	QuestionCount int               `json:"question_count,omitempty"`
	CreatedAt     int64             `json:"created_at,omitempty"`
}

// Material is reference content attached to a test (pdf, image, youtube,
// url). Ref holds an external URL or a blob-store key; URL is the resolved
// link filled in by the API layer and never persisted.
type Material struct {
	ID                string `json:"id"`
	TestID            string `json:"test_id,omitempty"`
	Kind              string `json:"kind"`
	Title             string `json:"title"`
	Ref               string `json:"ref,omitempty"`
	URL               string `json:"url,omitempty"`
	Transcript        string `json:"transcript,omitempty"`
	PauseTimes        []int  `json:"pause_times,omitempty"`
	QuestionsPerPause int    `json:"questions_per_pause,omitempty"`
	CreatedAt         int64  `json:"created_at,omitempty"`
}

type Program struct {
	ID          string            `json:"id"`
	Owner       string            `json:"owner_id,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Visibility  access.Visibility `json:"visibility"`
	TestCount   int               `json:"test_count,omitempty"`
	CreatedAt   int64             `json:"created_at,omitempty"`
}

// ProgramTest is a test's membership in a program. ProgramVisibility caps
// the test's own level for viewers reaching it through the program.
type ProgramTest struct {
	TestID            string            `json:"test_id"`
	Title             string            `json:"title"`
	QuestionCount     int               `json:"question_count"`
	ProgramVisibility access.Visibility `json:"program_visibility"`
}

type Collaborator struct {
	Email     string      `json:"email"`
	UserID    string      `json:"user_id,omitempty"` // backfilled when the invitee signs in
	Role      access.Role `json:"role"`
	Status    string      `json:"status"`
	InvitedAt int64       `json:"invited_at,omitempty"`
}

const (
	InviteKindTest    = "test"
	InviteKindProgram = "program"
)

// Invitation is a pending collaborator row seen from the invitee's side.
type Invitation struct {
	Kind        string      `json:"kind"` // test | program
	TargetID    string      `json:"target_id"`
	Title       string      `json:"title"`
	Role        access.Role `json:"role"`
	InviterName string      `json:"inviter_name,omitempty"`
	InvitedAt   int64       `json:"invited_at,omitempty"`
}

// Session is the persisted record of one quiz round: written at creation
// with score 0, written once more when the round completes. TestID is empty
// for program runs and cross-test practice runs.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TestID    string `json:"test_id,omitempty"`
	TestTitle string `json:"test_title,omitempty"`
	Score     int    `json:"score"`
	Total     int    `json:"total"`
	StartedAt int64  `json:"started_at"`
}

// WrongRef locates a question a user got wrong, for retry and practice
// pools.
type WrongRef struct {
	QuestionID int    `json:"question_id"`
	TestID     string `json:"test_id"`
}

type TopicStat struct {
	Tag            string  `json:"tag"`
	Total          int     `json:"total"`
	Correct        int     `json:"correct"`
	Wrong          int     `json:"wrong"`
	PercentCorrect float64 `json:"percent_correct"`
}

type TestPerformance struct {
	TestID         string  `json:"test_id"`
	Title          string  `json:"title"`
	Total          int     `json:"total"`
	Correct        int     `json:"correct"`
	PercentCorrect float64 `json:"percent_correct"`
}

type ProgramPerformance struct {
	ProgramID      string  `json:"program_id"`
	Title          string  `json:"title"`
	Total          int     `json:"total"`
	Correct        int     `json:"correct"`
	TestsTaken     int     `json:"tests_taken"`
	PercentCorrect float64 `json:"percent_correct"`
}
