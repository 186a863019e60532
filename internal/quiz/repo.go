package quiz

import (
	"context"
	"errors"

	"github.com/knowting/knowting/internal/access"
)

// ErrNotFound is returned by store lookups for ids that do not exist.
var ErrNotFound = errors.New("not found")

// ListOpts narrows catalog queries. Q filters by title substring, case
// insensitive. Limit <= 0 means no limit.
type ListOpts struct {
	Q      string
	Limit  int
	Offset int
}

// Store is the test repository: tests, their questions, tags, materials and
// favorites. GetAllTests applies the catalog visibility rule for viewerID
// (empty for anonymous browsing).
type Store interface {
	CreateTest(ctx context.Context, t Test) error
	GetTest(ctx context.Context, id string) (Test, error)
	UpdateTest(ctx context.Context, t Test) error
	DeleteTest(ctx context.Context, id string) error
	GetAllTests(ctx context.Context, viewerID string, opts ListOpts) ([]Test, error)

	GetTestQuestions(ctx context.Context, testID string) ([]Question, error)
	GetQuestionsByIDs(ctx context.Context, testID string, ids []int) ([]Question, error)
	AddQuestion(ctx context.Context, testID string, q Question) (int, error)
	UpdateQuestion(ctx context.Context, testID string, q Question) error
	DeleteQuestion(ctx context.Context, testID string, questionID int) error

	ListTags(ctx context.Context, testID string) ([]string, error)
	AddTag(ctx context.Context, testID, tag string) error
	RenameTag(ctx context.Context, testID, oldTag, newTag string) error
	DeleteTag(ctx context.Context, testID, tag string, deleteQuestions bool) error

	ListMaterials(ctx context.Context, testID string) ([]Material, error)
	AddMaterial(ctx context.Context, m Material) (string, error)
	DeleteMaterial(ctx context.Context, testID, materialID string) error

	ToggleFavorite(ctx context.Context, userID, testID string) (bool, error)
	ListFavorites(ctx context.Context, userID string) ([]Test, error)
}

// ProgramStore manages programs and their test memberships.
type ProgramStore interface {
	CreateProgram(ctx context.Context, p Program) error
	GetProgram(ctx context.Context, id string) (Program, error)
	UpdateProgram(ctx context.Context, p Program) error
	DeleteProgram(ctx context.Context, id string) error
	ListPrograms(ctx context.Context, viewerID string, opts ListOpts) ([]Program, error)

	AttachTest(ctx context.Context, programID, testID string, vis access.Visibility) error
	DetachTest(ctx context.Context, programID, testID string) error
	ListProgramTests(ctx context.Context, programID string) ([]ProgramTest, error)
	ProgramQuestions(ctx context.Context, programID string) ([]Question, error)
	ProgramTags(ctx context.Context, programID string) ([]string, error)
}

// HistoryStore persists sessions and per-answer events and serves the
// aggregates built from them. It contains SessionSink.
type HistoryStore interface {
	SessionSink

	ListSessions(ctx context.Context, userID string) ([]Session, error)
	GetSessionWrongAnswers(ctx context.Context, sessionID string) ([]WrongRef, error)
	GetQuestionStats(ctx context.Context, userID, testID string) (map[int]Stat, error)
	WrongQuestionRefs(ctx context.Context, userID string) ([]WrongRef, error)
	TopicStats(ctx context.Context, userID, testID string) ([]TopicStat, error)
	TestsPerformance(ctx context.Context, userID string) ([]TestPerformance, error)
	ProgramsPerformance(ctx context.Context, userID string) ([]ProgramPerformance, error)
}

// CollaboratorStore manages invitations on tests and programs. Invitees are
// addressed by email; user ids are backfilled on sign in via
// ResolveCollaboratorUserID.
type CollaboratorStore interface {
	InviteTestCollaborator(ctx context.Context, testID, email string, role access.Role) error
	ListTestCollaborators(ctx context.Context, testID string) ([]Collaborator, error)
	RemoveTestCollaborator(ctx context.Context, testID, email string) error

	InviteProgramCollaborator(ctx context.Context, programID, email string, role access.Role) error
	ListProgramCollaborators(ctx context.Context, programID string) ([]Collaborator, error)
	RemoveProgramCollaborator(ctx context.Context, programID, email string) error

	ListInvitations(ctx context.Context, userID string) ([]Invitation, error)
	AcceptInvitation(ctx context.Context, kind, targetID, userID string) error
	DeclineInvitation(ctx context.Context, kind, targetID, userID string) error
	ResolveCollaboratorUserID(ctx context.Context, email, userID string) error
}
