package quiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knowting/knowting/internal/access"
)

func (s *SQLStore) CreateProgram(ctx context.Context, p Program) error {
	if p.ID == "" {
		return errors.New("program id required")
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO programs (id,owner_id,title,description,visibility,created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, nullable(p.Owner), p.Title, p.Description, p.Visibility.String(), p.CreatedAt)
	return err
}

func (s *SQLStore) GetProgram(ctx context.Context, id string) (Program, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,owner_id,title,description,visibility,created_at,
		(SELECT COUNT(*) FROM program_tests pt WHERE pt.program_id = programs.id)
		FROM programs WHERE id=$1`, id)
	var p Program
	var owner sql.NullString
	var vis string
	if err := row.Scan(&p.ID, &owner, &p.Title, &p.Description, &vis, &p.CreatedAt, &p.TestCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Program{}, ErrNotFound
		}
		return Program{}, err
	}
	p.Owner = owner.String
	p.Visibility = access.ParseVisibility(vis)
	return p, nil
}

func (s *SQLStore) UpdateProgram(ctx context.Context, p Program) error {
	res, err := s.db.ExecContext(ctx, `UPDATE programs SET title=$1, description=$2, visibility=$3 WHERE id=$4`,
		p.Title, p.Description, p.Visibility.String(), p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteProgram(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM programs WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPrograms applies the same catalog rule as GetAllTests: every
// non-hidden program, plus hidden ones the viewer owns or collaborates on.
func (s *SQLStore) ListPrograms(ctx context.Context, viewerID string, opts ListOpts) ([]Program, error) {
	var (
		query string
		args  []any
	)
	if viewerID == "" {
		query = `SELECT p.id,p.owner_id,p.title,p.description,p.visibility,p.created_at,
			(SELECT COUNT(*) FROM program_tests pt WHERE pt.program_id = p.id)
			FROM programs p
			WHERE p.visibility <> 'hidden'`
	} else {
		args = append(args, viewerID)
		query = `SELECT DISTINCT p.id,p.owner_id,p.title,p.description,p.visibility,p.created_at,
			(SELECT COUNT(*) FROM program_tests pt WHERE pt.program_id = p.id)
			FROM programs p
			LEFT JOIN program_collaborators pc ON pc.program_id = p.id AND pc.status = 'accepted'
				AND (pc.user_id = $1 OR pc.user_email = (SELECT username FROM users WHERE id = $1))
			WHERE (p.visibility <> 'hidden' OR p.owner_id = $1 OR pc.program_id IS NOT NULL)`
	}
	if opts.Q != "" {
		args = append(args, "%"+strings.ToLower(opts.Q)+"%")
		query += fmt.Sprintf(" AND LOWER(p.title) LIKE $%d", len(args))
	}
	query += " ORDER BY p.title"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if opts.Offset > 0 {
			args = append(args, opts.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Program
	for rows.Next() {
		var p Program
		var owner sql.NullString
		var vis string
		if err := rows.Scan(&p.ID, &owner, &p.Title, &p.Description, &vis, &p.CreatedAt, &p.TestCount); err != nil {
			return nil, err
		}
		p.Owner = owner.String
		p.Visibility = access.ParseVisibility(vis)
		out = append(out, p)
	}
	return out, rows.Err()
}

// AttachTest adds a test to a program or updates its program-level
// visibility cap if already attached.
func (s *SQLStore) AttachTest(ctx context.Context, programID, testID string, vis access.Visibility) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO program_tests (program_id,test_id,program_visibility)
		VALUES ($1,$2,$3)
		ON CONFLICT (program_id,test_id) DO UPDATE SET program_visibility=EXCLUDED.program_visibility`,
		programID, testID, vis.String())
	return err
}

func (s *SQLStore) DetachTest(ctx context.Context, programID, testID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM program_tests WHERE program_id=$1 AND test_id=$2`, programID, testID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListProgramTests(ctx context.Context, programID string) ([]ProgramTest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pt.test_id, t.title, pt.program_visibility,
		(SELECT COUNT(*) FROM questions q WHERE q.test_id = pt.test_id)
		FROM program_tests pt JOIN tests t ON t.id = pt.test_id
		WHERE pt.program_id=$1 ORDER BY t.title`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProgramTest
	for rows.Next() {
		var pt ProgramTest
		var vis string
		if err := rows.Scan(&pt.TestID, &pt.Title, &vis, &pt.QuestionCount); err != nil {
			return nil, err
		}
		pt.ProgramVisibility = access.ParseVisibility(vis)
		out = append(out, pt)
	}
	return out, rows.Err()
}

// ProgramQuestions returns every question of every test in the program, the
// pool for program-wide runs. Each question keeps its own test id so answer
// history lands on the right test.
func (s *SQLStore) ProgramQuestions(ctx context.Context, programID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT q.test_id,q.question_num,q.tag,q.prompt,q.options_json,q.correct_index,q.explanation,q.source
		FROM questions q JOIN program_tests pt ON pt.test_id = q.test_id
		WHERE pt.program_id=$1 ORDER BY q.test_id, q.question_num`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func (s *SQLStore) ProgramTags(ctx context.Context, programID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tt.tag
		FROM test_tags tt JOIN program_tests pt ON pt.test_id = tt.test_id
		WHERE pt.program_id=$1 ORDER BY tt.tag`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// ProgramOverride serves the access resolver: the visibility cap a program
// places on a member test, if the test is attached.
func (s *SQLStore) ProgramOverride(ctx context.Context, programID, testID string) (access.Visibility, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT program_visibility FROM program_tests WHERE program_id=$1 AND test_id=$2`, programID, testID)
	var vis string
	if err := row.Scan(&vis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return access.ParseVisibility(vis), true, nil
}
