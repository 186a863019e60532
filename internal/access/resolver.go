package access

import "context"

// TestMeta is the slice of a test the resolver needs.
type TestMeta struct {
	ID         string
	Owner      string // empty for system-imported tests
	Visibility Visibility
}

// Store supplies the persisted facts access decisions are made from.
// Role lookups must only surface accepted collaborator rows.
type Store interface {
	TestMeta(ctx context.Context, testID string) (TestMeta, error)
	// ProgramOverride returns the program_visibility of the association
	// between the program and the test, and whether one exists.
	ProgramOverride(ctx context.Context, programID, testID string) (Visibility, bool, error)
	DirectRole(ctx context.Context, testID, userID string) (Role, bool, error)
	ProgramRole(ctx context.Context, testID, userID string) (Role, bool, error)
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver { return &Resolver{store: store} }

// EffectiveVisibility is the test's own level, lowered by the program
// association override when the test is reached through viaProgramID.
func (r *Resolver) EffectiveVisibility(ctx context.Context, testID, viaProgramID string) (Visibility, error) {
	meta, err := r.store.TestMeta(ctx, testID)
	if err != nil {
		return Hidden, err
	}
	if viaProgramID == "" {
		return meta.Visibility, nil
	}
	override, ok, err := r.store.ProgramOverride(ctx, viaProgramID, testID)
	if err != nil {
		return Hidden, err
	}
	if !ok {
		return meta.Visibility, nil
	}
	return Effective(meta.Visibility, override), nil
}

// CanView reports whether userID may open the test. Listable tests are open
// to everyone including anonymous viewers; hidden tests require ownership or
// an accepted collaboration, direct or inherited from a program.
func (r *Resolver) CanView(ctx context.Context, userID, testID string) (bool, error) {
	meta, err := r.store.TestMeta(ctx, testID)
	if err != nil {
		return false, err
	}
	if meta.Visibility.Listable() {
		return true, nil
	}
	if userID == "" {
		return false, nil
	}
	if meta.Owner != "" && meta.Owner == userID {
		return true, nil
	}
	if _, ok, err := r.store.DirectRole(ctx, testID, userID); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if _, ok, err := r.store.ProgramRole(ctx, testID, userID); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	return false, nil
}

// RoleForTest resolves the collaborator role a user holds on a test. A
// direct accepted collaboration wins over one inherited through a program.
func (r *Resolver) RoleForTest(ctx context.Context, testID, userID string) (Role, bool, error) {
	if userID == "" {
		return "", false, nil
	}
	if role, ok, err := r.store.DirectRole(ctx, testID, userID); err != nil {
		return "", false, err
	} else if ok {
		return role, true, nil
	}
	if role, ok, err := r.store.ProgramRole(ctx, testID, userID); err != nil {
		return "", false, err
	} else if ok {
		return role, true, nil
	}
	return "", false, nil
}

// CanEdit reports whether userID may modify the test: the owner, an accepted
// admin collaborator, or a global admin (checked by the caller via rbac).
func (r *Resolver) CanEdit(ctx context.Context, userID, testID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	meta, err := r.store.TestMeta(ctx, testID)
	if err != nil {
		return false, err
	}
	if meta.Owner != "" && meta.Owner == userID {
		return true, nil
	}
	role, ok, err := r.RoleForTest(ctx, testID, userID)
	if err != nil {
		return false, err
	}
	return ok && role.CanManage(), nil
}
