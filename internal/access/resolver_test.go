package access_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/knowting/knowting/internal/access"
)

/* ---------------- In-memory fake satisfying access.Store ---------------- */

type fakeStore struct {
	tests     map[string]access.TestMeta
	overrides map[string]access.Visibility // programID|testID
	direct    map[string]access.Role       // testID|userID (accepted only)
	program   map[string]access.Role       // testID|userID (accepted only)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tests:     map[string]access.TestMeta{},
		overrides: map[string]access.Visibility{},
		direct:    map[string]access.Role{},
		program:   map[string]access.Role{},
	}
}

func (s *fakeStore) TestMeta(_ context.Context, testID string) (access.TestMeta, error) {
	m, ok := s.tests[testID]
	if !ok {
		return access.TestMeta{}, fmt.Errorf("test %q not found", testID)
	}
	return m, nil
}

func (s *fakeStore) ProgramOverride(_ context.Context, programID, testID string) (access.Visibility, bool, error) {
	v, ok := s.overrides[programID+"|"+testID]
	return v, ok, nil
}

func (s *fakeStore) DirectRole(_ context.Context, testID, userID string) (access.Role, bool, error) {
	r, ok := s.direct[testID+"|"+userID]
	return r, ok, nil
}

func (s *fakeStore) ProgramRole(_ context.Context, testID, userID string) (access.Role, bool, error) {
	r, ok := s.program[testID+"|"+userID]
	return r, ok, nil
}

func seedResolver(t *testing.T) (*fakeStore, *access.Resolver) {
	t.Helper()
	st := newFakeStore()
	st.tests["t-pub"] = access.TestMeta{ID: "t-pub", Owner: "alice", Visibility: access.Public}
	st.tests["t-priv"] = access.TestMeta{ID: "t-priv", Owner: "alice", Visibility: access.Private}
	st.tests["t-hidden"] = access.TestMeta{ID: "t-hidden", Owner: "alice", Visibility: access.Hidden}
	return st, access.NewResolver(st)
}

/* ------------------------------- Tests ------------------------------- */

func TestParseVisibilityOrdering(t *testing.T) {
	if !(access.Hidden < access.Private && access.Private < access.Restricted && access.Restricted < access.Public) {
		t.Fatalf("visibility levels out of order")
	}
	if got := access.ParseVisibility("restricted"); got != access.Restricted {
		t.Fatalf("ParseVisibility(restricted) = %v", got)
	}
	// Unknown strings default to the most open listing level.
	if got := access.ParseVisibility("banana"); got != access.Public {
		t.Fatalf("unknown visibility should parse as public, got %v", got)
	}
}

func TestEffectiveIsMinimum(t *testing.T) {
	cases := []struct {
		test, program, want access.Visibility
	}{
		{access.Private, access.Public, access.Private},
		{access.Public, access.Restricted, access.Restricted},
		{access.Restricted, access.Hidden, access.Hidden},
		{access.Public, access.Public, access.Public},
	}
	for _, c := range cases {
		if got := access.Effective(c.test, c.program); got != c.want {
			t.Fatalf("Effective(%v, %v) = %v, want %v", c.test, c.program, got, c.want)
		}
	}
}

func TestEffectiveVisibilityViaProgram(t *testing.T) {
	st, res := seedResolver(t)
	st.overrides["p1|t-pub"] = access.Restricted

	got, err := res.EffectiveVisibility(context.Background(), "t-pub", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != access.Restricted {
		t.Fatalf("expected restricted via program override, got %v", got)
	}

	// No association: the test keeps its own level.
	got, err = res.EffectiveVisibility(context.Background(), "t-pub", "p-unrelated")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != access.Public {
		t.Fatalf("expected public without association, got %v", got)
	}
}

func TestCanViewHiddenRequiresGrant(t *testing.T) {
	st, res := seedResolver(t)

	ok, err := res.CanView(context.Background(), "bob", "t-hidden")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("stranger should not view a hidden test")
	}

	st.direct["t-hidden|bob"] = access.RoleStudent
	ok, err = res.CanView(context.Background(), "bob", "t-hidden")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("accepted direct collaborator should view a hidden test")
	}
}

func TestCanViewListableLevels(t *testing.T) {
	_, res := seedResolver(t)
	for _, id := range []string{"t-pub", "t-priv"} {
		ok, err := res.CanView(context.Background(), "", id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("%s should be viewable by anonymous users", id)
		}
	}
}

func TestCanViewHiddenViaProgramGrant(t *testing.T) {
	st, res := seedResolver(t)
	st.program["t-hidden|carol"] = access.RoleGuest

	ok, err := res.CanView(context.Background(), "carol", "t-hidden")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("program collaborator should view a hidden member test")
	}
}

func TestRoleForTestDirectWinsOverProgram(t *testing.T) {
	st, res := seedResolver(t)
	st.direct["t-pub|bob"] = access.RoleReviewer
	st.program["t-pub|bob"] = access.RoleStudent

	role, ok, err := res.RoleForTest(context.Background(), "t-pub", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || role != access.RoleReviewer {
		t.Fatalf("expected direct reviewer role, got %q ok=%v", role, ok)
	}

	delete(st.direct, "t-pub|bob")
	role, ok, err = res.RoleForTest(context.Background(), "t-pub", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || role != access.RoleStudent {
		t.Fatalf("expected program student role, got %q ok=%v", role, ok)
	}
}

func TestRoleForTestAnonymousHasNone(t *testing.T) {
	_, res := seedResolver(t)
	_, ok, err := res.RoleForTest(context.Background(), "t-pub", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("anonymous viewer must not resolve to a role")
	}
}

func TestParseRoleFailsClosed(t *testing.T) {
	if _, ok := access.ParseRole("superuser"); ok {
		t.Fatalf("unknown role string must not resolve")
	}
	r, ok := access.ParseRole("reviewer")
	if !ok || !r.CanReview() {
		t.Fatalf("reviewer should parse and be allowed to review")
	}
	if r.CanManage() {
		t.Fatalf("reviewer must not manage")
	}
}

func TestCanEdit(t *testing.T) {
	st, res := seedResolver(t)
	st.direct["t-pub|dave"] = access.RoleAdmin

	ok, err := res.CanEdit(context.Background(), "alice", "t-pub")
	if err != nil || !ok {
		t.Fatalf("owner should edit, ok=%v err=%v", ok, err)
	}
	ok, err = res.CanEdit(context.Background(), "dave", "t-pub")
	if err != nil || !ok {
		t.Fatalf("admin collaborator should edit, ok=%v err=%v", ok, err)
	}
	ok, err = res.CanEdit(context.Background(), "bob", "t-pub")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("stranger must not edit")
	}
}
