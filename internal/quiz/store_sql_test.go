package quiz_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/knowting/knowting/internal/access"
	"github.com/knowting/knowting/internal/db"
	"github.com/knowting/knowting/internal/quiz"
)

// openTestStore gives each test its own in-memory database with the full
// schema applied.
func openTestStore(t *testing.T) (*sql.DB, *quiz.SQLStore) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh, quiz.NewSQLStore(dbh, "sqlite")
}

func seedUser(t *testing.T, dbh *sql.DB, id, username string) {
	t.Helper()
	if _, err := dbh.Exec(`INSERT INTO users (id,username,password_hash,display_name,global_role,created_at)
		VALUES ($1,$2,'x',$2,'free',0)`, id, username); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedTest(t *testing.T, store *quiz.SQLStore, id, owner string, vis access.Visibility) {
	t.Helper()
	err := store.CreateTest(context.Background(), quiz.Test{
		ID:         id,
		Owner:      owner,
		Title:      "Test " + id,
		Visibility: vis,
	})
	if err != nil {
		t.Fatalf("seed test %s: %v", id, err)
	}
}

func addQuestion(t *testing.T, store *quiz.SQLStore, testID, tag string, num int) int {
	t.Helper()
	id, err := store.AddQuestion(context.Background(), testID, quiz.Question{
		ID:           num,
		Tag:          tag,
		Prompt:       "prompt",
		Options:      []string{"right", "wrong"},
		CorrectIndex: 0,
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	return id
}

func TestSQLStoreTestLifecycle(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "u1", "u1@example.com")

	seedTest(t, store, "t1", "u1", access.Restricted)
	got, err := store.GetTest(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Owner != "u1" || got.Visibility != access.Restricted || got.QuestionCount != 0 {
		t.Fatalf("unexpected test: %+v", got)
	}

	got.Title = "Renamed"
	got.Visibility = access.Public
	if err := store.UpdateTest(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetTest(ctx, "t1")
	if got.Title != "Renamed" || got.Visibility != access.Public {
		t.Fatalf("update not persisted: %+v", got)
	}

	addQuestion(t, store, "t1", "geo", 0)
	got, _ = store.GetTest(ctx, "t1")
	if got.QuestionCount != 1 {
		t.Fatalf("question count = %d, want 1", got.QuestionCount)
	}

	if err := store.DeleteTest(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetTest(ctx, "t1"); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("get after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteTest(ctx, "t1"); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
	qs, err := store.GetTestQuestions(ctx, "t1")
	if err != nil || len(qs) != 0 {
		t.Fatalf("questions should cascade away, got %d (%v)", len(qs), err)
	}
}

func TestSQLStoreQuestionNumbering(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "u1", "u1@example.com")
	seedTest(t, store, "t1", "u1", access.Public)

	for i := 0; i < 3; i++ {
		if got := addQuestion(t, store, "t1", "", 0); got != i+1 {
			t.Fatalf("auto number = %d, want %d", got, i+1)
		}
	}
	if err := store.DeleteQuestion(ctx, "t1", 2); err != nil {
		t.Fatalf("delete question: %v", err)
	}
	// numbers are stable once issued; the next free one is max+1
	if got := addQuestion(t, store, "t1", "", 0); got != 4 {
		t.Fatalf("number after delete = %d, want 4", got)
	}

	qs, err := store.GetQuestionsByIDs(ctx, "t1", []int{4, 1})
	if err != nil {
		t.Fatalf("by ids: %v", err)
	}
	if len(qs) != 2 || qs[0].ID != 1 || qs[1].ID != 4 {
		t.Fatalf("unexpected by-ids result: %+v", qs)
	}
	if err := store.DeleteQuestion(ctx, "t1", 99); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("delete missing = %v, want ErrNotFound", err)
	}
}

func TestSQLStoreClampsCorrectIndex(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "u1", "u1@example.com")
	seedTest(t, store, "t1", "u1", access.Public)

	id, err := store.AddQuestion(ctx, "t1", quiz.Question{
		Prompt:       "q",
		Options:      []string{"a", "b"},
		CorrectIndex: 7,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	qs, _ := store.GetTestQuestions(ctx, "t1")
	if qs[0].CorrectIndex != 1 {
		t.Fatalf("correct index = %d, want clamped 1", qs[0].CorrectIndex)
	}

	err = store.UpdateQuestion(ctx, "t1", quiz.Question{
		ID:           id,
		Prompt:       "q",
		Options:      []string{"a", "b", "c"},
		CorrectIndex: -3,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	qs, _ = store.GetTestQuestions(ctx, "t1")
	if qs[0].CorrectIndex != 0 {
		t.Fatalf("correct index = %d, want clamped 0", qs[0].CorrectIndex)
	}

	if _, err := store.AddQuestion(ctx, "t1", quiz.Question{Prompt: "q", Options: []string{"only"}}); err == nil {
		t.Fatal("single-option question should be rejected")
	}
	if _, err := store.AddQuestion(ctx, "t1", quiz.Question{Options: []string{"a", "b"}}); err == nil {
		t.Fatal("empty prompt should be rejected")
	}
}

func TestSQLStoreTagRenameMergeAndDelete(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "u1", "u1@example.com")
	seedTest(t, store, "t1", "u1", access.Public)

	addQuestion(t, store, "t1", "geo", 0)
	addQuestion(t, store, "t1", "geo", 0)
	addQuestion(t, store, "t1", "hist", 0)

	tags, _ := store.ListTags(ctx, "t1")
	if len(tags) != 2 {
		t.Fatalf("tags = %v, want geo+hist", tags)
	}

	// plain rename
	if err := store.RenameTag(ctx, "t1", "hist", "history"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	qs, _ := store.GetTestQuestions(ctx, "t1")
	if qs[2].Tag != "history" {
		t.Fatalf("question tag = %q, want history", qs[2].Tag)
	}

	// rename onto an existing tag merges
	if err := store.RenameTag(ctx, "t1", "history", "geo"); err != nil {
		t.Fatalf("merge rename: %v", err)
	}
	tags, _ = store.ListTags(ctx, "t1")
	if len(tags) != 1 || tags[0] != "geo" {
		t.Fatalf("tags after merge = %v, want [geo]", tags)
	}

	// delete keeping questions blanks their tag
	if err := store.DeleteTag(ctx, "t1", "geo", false); err != nil {
		t.Fatalf("delete tag: %v", err)
	}
	qs, _ = store.GetTestQuestions(ctx, "t1")
	if len(qs) != 3 {
		t.Fatalf("questions should survive, got %d", len(qs))
	}
	for _, q := range qs {
		if q.Tag != "" {
			t.Fatalf("question %d still tagged %q", q.ID, q.Tag)
		}
	}

	// delete removing questions
	if err := store.AddTag(ctx, "t1", "tmp"); err != nil {
		t.Fatalf("add tag: %v", err)
	}
	addQuestion(t, store, "t1", "tmp", 0)
	if err := store.DeleteTag(ctx, "t1", "tmp", true); err != nil {
		t.Fatalf("delete tag with questions: %v", err)
	}
	qs, _ = store.GetTestQuestions(ctx, "t1")
	if len(qs) != 3 {
		t.Fatalf("tagged question should be gone, have %d", len(qs))
	}
	if err := store.DeleteTag(ctx, "t1", "nope", false); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("delete missing tag = %v, want ErrNotFound", err)
	}
}

func TestSQLStoreCatalogVisibility(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "owner", "owner@example.com")
	seedUser(t, dbh, "friend", "friend@example.com")
	seedUser(t, dbh, "rando", "rando@example.com")

	seedTest(t, store, "pub", "owner", access.Public)
	seedTest(t, store, "priv", "owner", access.Private)
	seedTest(t, store, "hid", "owner", access.Hidden)

	ids := func(tests []quiz.Test) map[string]bool {
		m := make(map[string]bool, len(tests))
		for _, tt := range tests {
			m[tt.ID] = true
		}
		return m
	}

	// anonymous: everything except hidden, private included
	got, err := store.GetAllTests(ctx, "", quiz.ListOpts{})
	if err != nil {
		t.Fatalf("anonymous list: %v", err)
	}
	m := ids(got)
	if !m["pub"] || !m["priv"] || m["hid"] {
		t.Fatalf("anonymous sees %v", m)
	}

	// owner additionally sees their hidden test
	got, _ = store.GetAllTests(ctx, "owner", quiz.ListOpts{})
	if m = ids(got); !m["hid"] {
		t.Fatalf("owner misses hidden test: %v", m)
	}

	// stranger does not
	got, _ = store.GetAllTests(ctx, "rando", quiz.ListOpts{})
	if m = ids(got); m["hid"] {
		t.Fatalf("stranger sees hidden test: %v", m)
	}

	// accepted direct collaborator does
	if err := store.InviteTestCollaborator(ctx, "hid", "friend@example.com", access.RoleStudent); err != nil {
		t.Fatalf("invite: %v", err)
	}
	got, _ = store.GetAllTests(ctx, "friend", quiz.ListOpts{})
	if m = ids(got); m["hid"] {
		t.Fatalf("pending invite should not grant catalog access: %v", m)
	}
	if err := store.AcceptInvitation(ctx, quiz.InviteKindTest, "hid", "friend"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, _ = store.GetAllTests(ctx, "friend", quiz.ListOpts{})
	if m = ids(got); !m["hid"] {
		t.Fatalf("accepted collaborator misses hidden test: %v", m)
	}

	// program collaborator inherits access to member tests
	if err := store.CreateProgram(ctx, quiz.Program{ID: "prog", Owner: "owner", Title: "P", Visibility: access.Public}); err != nil {
		t.Fatalf("create program: %v", err)
	}
	if err := store.AttachTest(ctx, "prog", "hid", access.Private); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := store.InviteProgramCollaborator(ctx, "prog", "rando@example.com", access.RoleStudent); err != nil {
		t.Fatalf("program invite: %v", err)
	}
	if err := store.AcceptInvitation(ctx, quiz.InviteKindProgram, "prog", "rando"); err != nil {
		t.Fatalf("program accept: %v", err)
	}
	got, _ = store.GetAllTests(ctx, "rando", quiz.ListOpts{})
	if m = ids(got); !m["hid"] {
		t.Fatalf("program collaborator misses hidden member test: %v", m)
	}

	// title search and paging
	got, _ = store.GetAllTests(ctx, "", quiz.ListOpts{Q: "test p"})
	if len(got) != 2 {
		t.Fatalf("search hits = %d, want 2", len(got))
	}
	got, _ = store.GetAllTests(ctx, "", quiz.ListOpts{Limit: 1, Offset: 1})
	if len(got) != 1 {
		t.Fatalf("paged hits = %d, want 1", len(got))
	}
}

func TestSQLStoreFavoriteToggle(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "u1", "u1@example.com")
	seedTest(t, store, "t1", "u1", access.Public)

	on, err := store.ToggleFavorite(ctx, "u1", "t1")
	if err != nil || !on {
		t.Fatalf("first toggle = %v, %v; want true", on, err)
	}
	favs, _ := store.ListFavorites(ctx, "u1")
	if len(favs) != 1 || favs[0].ID != "t1" {
		t.Fatalf("favorites = %+v", favs)
	}

	on, err = store.ToggleFavorite(ctx, "u1", "t1")
	if err != nil || on {
		t.Fatalf("second toggle = %v, %v; want false", on, err)
	}
	if favs, _ = store.ListFavorites(ctx, "u1"); len(favs) != 0 {
		t.Fatalf("favorites should be empty, got %+v", favs)
	}
}

func TestSQLStoreHistoryAggregates(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "u1", "u1@example.com")
	seedTest(t, store, "t1", "u1", access.Public)
	addQuestion(t, store, "t1", "geo", 0)  // q1
	addQuestion(t, store, "t1", "geo", 0)  // q2
	addQuestion(t, store, "t1", "hist", 0) // q3

	sid, err := store.CreateSession(ctx, "u1", "t1", 0, 3)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	record := func(qid int, correct bool) {
		t.Helper()
		if err := store.RecordAnswer(ctx, "u1", "t1", qid, correct, sid); err != nil {
			t.Fatalf("record q%d: %v", qid, err)
		}
	}
	record(1, true)
	record(2, false)
	record(3, false)
	if err := store.UpdateSessionScore(ctx, sid, 1, 3); err != nil {
		t.Fatalf("update score: %v", err)
	}

	sessions, err := store.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Score != 1 || sessions[0].Total != 3 || sessions[0].TestTitle != "Test t1" {
		t.Fatalf("sessions = %+v", sessions)
	}

	wrong, err := store.GetSessionWrongAnswers(ctx, sid)
	if err != nil {
		t.Fatalf("session wrong: %v", err)
	}
	if len(wrong) != 2 || wrong[0].QuestionID != 2 || wrong[1].QuestionID != 3 {
		t.Fatalf("wrong refs = %+v", wrong)
	}

	stats, err := store.GetQuestionStats(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("question stats: %v", err)
	}
	if stats[1].Correct != 1 || stats[1].Wrong != 0 || stats[2].Wrong != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	topics, err := store.TopicStats(ctx, "u1", "t1")
	if err != nil {
		t.Fatalf("topic stats: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("topics = %+v", topics)
	}
	// geo: 1 of 2 correct; hist: 0 of 1
	if topics[0].Tag != "geo" || topics[0].Total != 2 || topics[0].Correct != 1 || topics[0].PercentCorrect != 50 {
		t.Fatalf("geo topic = %+v", topics[0])
	}
	if topics[1].Tag != "hist" || topics[1].PercentCorrect != 0 {
		t.Fatalf("hist topic = %+v", topics[1])
	}

	perf, err := store.TestsPerformance(ctx, "u1")
	if err != nil {
		t.Fatalf("tests performance: %v", err)
	}
	if len(perf) != 1 || perf[0].Total != 3 || perf[0].Correct != 1 || perf[0].PercentCorrect != 33.3 {
		t.Fatalf("performance = %+v", perf)
	}

	// only questions wrong more often than right qualify for practice
	record(1, false) // q1 now 1-1, not eligible
	refs, err := store.WrongQuestionRefs(ctx, "u1")
	if err != nil {
		t.Fatalf("wrong refs: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("practice refs = %+v, want q2+q3", refs)
	}
	for _, ref := range refs {
		if ref.QuestionID == 1 {
			t.Fatalf("evenly missed question should not qualify: %+v", refs)
		}
		if ref.TestID != "t1" {
			t.Fatalf("ref carries test %q", ref.TestID)
		}
	}
}

func TestSQLStoreProgramPool(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "u1", "u1@example.com")
	seedTest(t, store, "ta", "u1", access.Public)
	seedTest(t, store, "tb", "u1", access.Public)
	addQuestion(t, store, "ta", "geo", 0)
	addQuestion(t, store, "tb", "hist", 0)
	addQuestion(t, store, "tb", "geo", 0)

	if err := store.CreateProgram(ctx, quiz.Program{ID: "p1", Owner: "u1", Title: "Course", Visibility: access.Public}); err != nil {
		t.Fatalf("create program: %v", err)
	}
	if err := store.AttachTest(ctx, "p1", "ta", access.Public); err != nil {
		t.Fatalf("attach ta: %v", err)
	}
	if err := store.AttachTest(ctx, "p1", "tb", access.Restricted); err != nil {
		t.Fatalf("attach tb: %v", err)
	}
	// re-attach updates the override in place
	if err := store.AttachTest(ctx, "p1", "tb", access.Private); err != nil {
		t.Fatalf("re-attach tb: %v", err)
	}

	vis, ok, err := store.ProgramOverride(ctx, "p1", "tb")
	if err != nil || !ok || vis != access.Private {
		t.Fatalf("override = %v %v %v, want private", vis, ok, err)
	}
	if _, ok, _ := store.ProgramOverride(ctx, "p1", "missing"); ok {
		t.Fatal("override for unattached test should not exist")
	}

	pool, err := store.ProgramQuestions(ctx, "p1")
	if err != nil {
		t.Fatalf("program questions: %v", err)
	}
	if len(pool) != 3 {
		t.Fatalf("pool size = %d, want 3", len(pool))
	}
	for _, q := range pool {
		if q.TestID != "ta" && q.TestID != "tb" {
			t.Fatalf("pool question missing test id: %+v", q)
		}
	}

	tags, err := store.ProgramTags(ctx, "p1")
	if err != nil {
		t.Fatalf("program tags: %v", err)
	}
	if len(tags) != 2 || tags[0] != "geo" || tags[1] != "hist" {
		t.Fatalf("program tags = %v", tags)
	}

	members, err := store.ListProgramTests(ctx, "p1")
	if err != nil {
		t.Fatalf("program tests: %v", err)
	}
	if len(members) != 2 || members[0].QuestionCount+members[1].QuestionCount != 3 {
		t.Fatalf("members = %+v", members)
	}

	if err := store.DetachTest(ctx, "p1", "ta"); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if err := store.DetachTest(ctx, "p1", "ta"); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("second detach = %v, want ErrNotFound", err)
	}
	if pool, _ = store.ProgramQuestions(ctx, "p1"); len(pool) != 2 {
		t.Fatalf("pool after detach = %d, want 2", len(pool))
	}
}

func TestSQLStoreInvitationLifecycle(t *testing.T) {
	ctx := context.Background()
	dbh, store := openTestStore(t)
	seedUser(t, dbh, "owner", "owner@example.com")
	seedTest(t, store, "t1", "owner", access.Hidden)

	// invited before the account exists
	if err := store.InviteTestCollaborator(ctx, "t1", "new@example.com", access.RoleReviewer); err != nil {
		t.Fatalf("invite: %v", err)
	}
	list, _ := store.ListTestCollaborators(ctx, "t1")
	if len(list) != 1 || list[0].Status != access.StatusPending || list[0].UserID != "" {
		t.Fatalf("collaborators = %+v", list)
	}

	// re-invite updates the role without touching lifecycle state
	if err := store.InviteTestCollaborator(ctx, "t1", "new@example.com", access.RoleAdmin); err != nil {
		t.Fatalf("re-invite: %v", err)
	}
	list, _ = store.ListTestCollaborators(ctx, "t1")
	if list[0].Role != access.RoleAdmin || list[0].Status != access.StatusPending {
		t.Fatalf("after re-invite = %+v", list[0])
	}

	// the invitee registers; sign-in backfills the user id
	seedUser(t, dbh, "newbie", "new@example.com")
	if err := store.ResolveCollaboratorUserID(ctx, "new@example.com", "newbie"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	list, _ = store.ListTestCollaborators(ctx, "t1")
	if list[0].UserID != "newbie" {
		t.Fatalf("user id not backfilled: %+v", list[0])
	}

	invs, err := store.ListInvitations(ctx, "newbie")
	if err != nil {
		t.Fatalf("list invitations: %v", err)
	}
	if len(invs) != 1 || invs[0].Kind != quiz.InviteKindTest || invs[0].TargetID != "t1" || invs[0].InviterName != "owner@example.com" {
		t.Fatalf("invitations = %+v", invs)
	}

	// no role until accepted
	if _, ok, _ := store.DirectRole(ctx, "t1", "newbie"); ok {
		t.Fatal("pending invitation should grant no role")
	}
	if err := store.AcceptInvitation(ctx, quiz.InviteKindTest, "t1", "newbie"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	role, ok, err := store.DirectRole(ctx, "t1", "newbie")
	if err != nil || !ok || role != access.RoleAdmin {
		t.Fatalf("role = %v %v %v, want admin", role, ok, err)
	}
	if invs, _ = store.ListInvitations(ctx, "newbie"); len(invs) != 0 {
		t.Fatalf("accepted invitation still listed: %+v", invs)
	}

	// accepting again is a no-op, not an error
	if err := store.AcceptInvitation(ctx, quiz.InviteKindTest, "t1", "newbie"); err != nil {
		t.Fatalf("repeat accept: %v", err)
	}

	// decline deletes a pending program invitation outright
	if err := store.CreateProgram(ctx, quiz.Program{ID: "p1", Owner: "owner", Title: "P", Visibility: access.Public}); err != nil {
		t.Fatalf("create program: %v", err)
	}
	if err := store.InviteProgramCollaborator(ctx, "p1", "new@example.com", access.RoleStudent); err != nil {
		t.Fatalf("program invite: %v", err)
	}
	if err := store.DeclineInvitation(ctx, quiz.InviteKindProgram, "p1", "newbie"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if members, _ := store.ListProgramCollaborators(ctx, "p1"); len(members) != 0 {
		t.Fatalf("declined row should be gone: %+v", members)
	}
	// declining something that is not there stays quiet
	if err := store.DeclineInvitation(ctx, quiz.InviteKindProgram, "p1", "newbie"); err != nil {
		t.Fatalf("repeat decline: %v", err)
	}

	if err := store.RemoveTestCollaborator(ctx, "t1", "new@example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.RemoveTestCollaborator(ctx, "t1", "new@example.com"); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("second remove = %v, want ErrNotFound", err)
	}
}
