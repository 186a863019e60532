package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/knowting/knowting/internal/access"
)

// InviteTestCollaborator invites email onto a test as role. The user id is
// resolved immediately when the email already belongs to an account,
// otherwise it is backfilled when that account signs in. Re-inviting an
// existing collaborator updates the role and leaves the status alone.
func (s *SQLStore) InviteTestCollaborator(ctx context.Context, testID, email string, role access.Role) error {
	return s.invite(ctx, "test_collaborators", "test_id", testID, email, role)
}

func (s *SQLStore) InviteProgramCollaborator(ctx context.Context, programID, email string, role access.Role) error {
	return s.invite(ctx, "program_collaborators", "program_id", programID, email, role)
}

func (s *SQLStore) invite(ctx context.Context, table, col, targetID, email string, role access.Role) error {
	var uid sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username=$1`, email).Scan(&uid)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (%s,user_email,user_id,role,status,invited_at)
		VALUES ($1,$2,$3,$4,'pending',$5)
		ON CONFLICT (%s,user_email) DO UPDATE SET role=EXCLUDED.role, user_id=COALESCE(EXCLUDED.user_id, %s.user_id)`,
		table, col, col, table),
		targetID, email, uid, string(role), time.Now().Unix())
	return err
}

func (s *SQLStore) ListTestCollaborators(ctx context.Context, testID string) ([]Collaborator, error) {
	return s.listCollaborators(ctx, "test_collaborators", "test_id", testID)
}

func (s *SQLStore) ListProgramCollaborators(ctx context.Context, programID string) ([]Collaborator, error) {
	return s.listCollaborators(ctx, "program_collaborators", "program_id", programID)
}

func (s *SQLStore) listCollaborators(ctx context.Context, table, col, targetID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT user_email, user_id, role, status, invited_at
		FROM %s WHERE %s=$1 ORDER BY invited_at, user_email`, table, col), targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Collaborator
	for rows.Next() {
		var c Collaborator
		var uid sql.NullString
		var role string
		if err := rows.Scan(&c.Email, &uid, &role, &c.Status, &c.InvitedAt); err != nil {
			return nil, err
		}
		c.UserID = uid.String
		c.Role, _ = access.ParseRole(role)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) RemoveTestCollaborator(ctx context.Context, testID, email string) error {
	return s.removeCollaborator(ctx, "test_collaborators", "test_id", testID, email)
}

func (s *SQLStore) RemoveProgramCollaborator(ctx context.Context, programID, email string) error {
	return s.removeCollaborator(ctx, "program_collaborators", "program_id", programID, email)
}

func (s *SQLStore) removeCollaborator(ctx context.Context, table, col, targetID, email string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s=$1 AND user_email=$2`, table, col), targetID, email)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInvitations returns the pending invitations addressed to the user,
// matched by resolved id or by account email.
func (s *SQLStore) ListInvitations(ctx context.Context, userID string) ([]Invitation, error) {
	email, err := s.usernameOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []Invitation
	rows, err := s.db.QueryContext(ctx, `SELECT tc.test_id, t.title, tc.role, tc.invited_at, COALESCE(u.username,'')
		FROM test_collaborators tc
		JOIN tests t ON t.id = tc.test_id
		LEFT JOIN users u ON u.id = t.owner_id
		WHERE (tc.user_id=$1 OR tc.user_email=$2) AND tc.status='pending'
		ORDER BY tc.invited_at DESC`, userID, email)
	if err != nil {
		return nil, err
	}
	out, err = appendInvitations(out, rows, InviteKindTest)
	if err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT pc.program_id, p.title, pc.role, pc.invited_at, COALESCE(u.username,'')
		FROM program_collaborators pc
		JOIN programs p ON p.id = pc.program_id
		LEFT JOIN users u ON u.id = p.owner_id
		WHERE (pc.user_id=$1 OR pc.user_email=$2) AND pc.status='pending'
		ORDER BY pc.invited_at DESC`, userID, email)
	if err != nil {
		return nil, err
	}
	return appendInvitations(out, rows, InviteKindProgram)
}

func appendInvitations(out []Invitation, rows *sql.Rows, kind string) ([]Invitation, error) {
	defer rows.Close()
	for rows.Next() {
		var inv Invitation
		var role string
		if err := rows.Scan(&inv.TargetID, &inv.Title, &role, &inv.InvitedAt, &inv.InviterName); err != nil {
			return nil, err
		}
		inv.Kind = kind
		inv.Role, _ = access.ParseRole(role)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// AcceptInvitation marks the user's pending invitation accepted and pins the
// row to their id. Accepting something already accepted, declined or revoked
// is a no-op.
func (s *SQLStore) AcceptInvitation(ctx context.Context, kind, targetID, userID string) error {
	table, col, err := inviteTable(kind)
	if err != nil {
		return err
	}
	email, err := s.usernameOf(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET status='accepted', user_id=$1
		WHERE %s=$2 AND (user_id=$1 OR user_email=$3) AND status='pending'`, table, col),
		userID, targetID, email)
	return err
}

// DeclineInvitation drops the pending row entirely so the owner can invite
// again later.
func (s *SQLStore) DeclineInvitation(ctx context.Context, kind, targetID, userID string) error {
	table, col, err := inviteTable(kind)
	if err != nil {
		return err
	}
	email, err := s.usernameOf(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s
		WHERE %s=$1 AND (user_id=$2 OR user_email=$3) AND status='pending'`, table, col),
		targetID, userID, email)
	return err
}

func inviteTable(kind string) (table, col string, err error) {
	switch kind {
	case InviteKindTest:
		return "test_collaborators", "test_id", nil
	case InviteKindProgram:
		return "program_collaborators", "program_id", nil
	default:
		return "", "", fmt.Errorf("unknown invitation kind %q", kind)
	}
}

// ResolveCollaboratorUserID backfills the user id onto invitations that were
// issued before the invitee had an account. Called on every sign in.
func (s *SQLStore) ResolveCollaboratorUserID(ctx context.Context, email, userID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE test_collaborators SET user_id=$1 WHERE user_email=$2 AND user_id IS NULL`, userID, email); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE program_collaborators SET user_id=$1 WHERE user_email=$2 AND user_id IS NULL`, userID, email)
	return err
}

// DirectRole serves the access resolver: the user's accepted role on the
// test itself. Unknown role strings fail closed to no role.
func (s *SQLStore) DirectRole(ctx context.Context, testID, userID string) (access.Role, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT tc.role FROM test_collaborators tc
		WHERE tc.test_id=$1 AND tc.status='accepted'
		AND (tc.user_id=$2 OR tc.user_email=(SELECT username FROM users WHERE id=$2))
		LIMIT 1`, testID, userID)
	return scanRole(row)
}

// ProgramRole is the user's accepted role on any program containing the
// test.
func (s *SQLStore) ProgramRole(ctx context.Context, testID, userID string) (access.Role, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT pc.role FROM program_collaborators pc
		JOIN program_tests pt ON pt.program_id = pc.program_id
		WHERE pt.test_id=$1 AND pc.status='accepted'
		AND (pc.user_id=$2 OR pc.user_email=(SELECT username FROM users WHERE id=$2))
		LIMIT 1`, testID, userID)
	return scanRole(row)
}

func scanRole(row rowScanner) (access.Role, bool, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	role, ok := access.ParseRole(raw)
	return role, ok, nil
}

func (s *SQLStore) usernameOf(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id=$1`, userID).Scan(&email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	return email, nil
}
