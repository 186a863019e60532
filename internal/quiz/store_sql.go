package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knowting/knowting/internal/access"
)

// SQLStore implements Store, ProgramStore, HistoryStore, CollaboratorStore
// and access.Store on one database handle. Queries use $N placeholders; the
// sqlite driver accepts them too, so both drivers share the same SQL.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) CreateTest(ctx context.Context, t Test) error {
	if t.ID == "" {
		return errors.New("test id required")
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tests (id,owner_id,title,description,author,language,visibility,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, nullable(t.Owner), t.Title, t.Description, t.Author, t.Language, t.Visibility.String(), t.CreatedAt)
	return err
}

func (s *SQLStore) GetTest(ctx context.Context, id string) (Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,owner_id,title,description,author,language,visibility,created_at,
		(SELECT COUNT(*) FROM questions q WHERE q.test_id = tests.id)
		FROM tests WHERE id=$1`, id)
	return scanTest(row)
}

func (s *SQLStore) UpdateTest(ctx context.Context, t Test) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tests SET title=$1, description=$2, author=$3, language=$4, visibility=$5 WHERE id=$6`,
		t.Title, t.Description, t.Author, t.Language, t.Visibility.String(), t.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteTest(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	// answer history is keyed by test id, not by a foreign key
	if _, err := tx.ExecContext(ctx, `DELETE FROM answer_events WHERE test_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM quiz_sessions WHERE test_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// GetAllTests lists what viewerID may see in the catalog: every non-hidden
// test, plus hidden ones the viewer owns or collaborates on directly or
// through a program. An empty viewerID lists only the non-hidden set.
func (s *SQLStore) GetAllTests(ctx context.Context, viewerID string, opts ListOpts) ([]Test, error) {
	var (
		query string
		args  []any
	)
	if viewerID == "" {
		query = `SELECT t.id,t.owner_id,t.title,t.description,t.author,t.language,t.visibility,t.created_at,
			(SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id)
			FROM tests t
			WHERE t.visibility <> 'hidden'`
	} else {
		args = append(args, viewerID)
		query = `SELECT DISTINCT t.id,t.owner_id,t.title,t.description,t.author,t.language,t.visibility,t.created_at,
			(SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id)
			FROM tests t
			LEFT JOIN test_collaborators tc ON tc.test_id = t.id AND tc.status = 'accepted'
				AND (tc.user_id = $1 OR tc.user_email = (SELECT username FROM users WHERE id = $1))
			LEFT JOIN program_tests pt ON pt.test_id = t.id
			LEFT JOIN program_collaborators pc ON pc.program_id = pt.program_id AND pc.status = 'accepted'
				AND (pc.user_id = $1 OR pc.user_email = (SELECT username FROM users WHERE id = $1))
			WHERE (t.visibility <> 'hidden' OR t.owner_id = $1 OR tc.test_id IS NOT NULL OR pc.program_id IS NOT NULL)`
	}
	if opts.Q != "" {
		args = append(args, "%"+strings.ToLower(opts.Q)+"%")
		query += fmt.Sprintf(" AND LOWER(t.title) LIKE $%d", len(args))
	}
	query += " ORDER BY t.title"
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
	return scanTests(rows)
}

func (s *SQLStore) GetTestQuestions(ctx context.Context, testID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT test_id,question_num,tag,prompt,options_json,correct_index,explanation,source
		FROM questions WHERE test_id=$1 ORDER BY question_num`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

func (s *SQLStore) GetQuestionsByIDs(ctx context.Context, testID string, ids []int) ([]Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, testID)
	ph := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		ph[i] = fmt.Sprintf("$%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT test_id,question_num,tag,prompt,options_json,correct_index,explanation,source
		FROM questions WHERE test_id=$1 AND question_num IN (`+strings.Join(ph, ",")+`) ORDER BY question_num`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

// AddQuestion inserts q and returns its sequence number. A zero ID means
// "assign the next number"; the importer passes explicit numbers through.
func (s *SQLStore) AddQuestion(ctx context.Context, testID string, q Question) (int, error) {
	if err := validateQuestion(&q); err != nil {
		return 0, err
	}
	if q.ID <= 0 {
		row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(question_num),0)+1 FROM questions WHERE test_id=$1`, testID)
		if err := row.Scan(&q.ID); err != nil {
			return 0, err
		}
	}
	oj, _ := json.Marshal(q.Options)
	_, err := s.db.ExecContext(ctx, `INSERT INTO questions (test_id,question_num,tag,prompt,options_json,correct_index,explanation,source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		testID, q.ID, q.Tag, q.Prompt, string(oj), q.CorrectIndex, q.Explanation, q.Source)
	if err != nil {
		return 0, err
	}
	if err := s.ensureTag(ctx, testID, q.Tag); err != nil {
		return 0, err
	}
	return q.ID, nil
}

func (s *SQLStore) UpdateQuestion(ctx context.Context, testID string, q Question) error {
	if err := validateQuestion(&q); err != nil {
		return err
	}
	oj, _ := json.Marshal(q.Options)
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET tag=$1, prompt=$2, options_json=$3, correct_index=$4, explanation=$5
		WHERE test_id=$6 AND question_num=$7`,
		q.Tag, q.Prompt, string(oj), q.CorrectIndex, q.Explanation, testID, q.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return s.ensureTag(ctx, testID, q.Tag)
}

func (s *SQLStore) DeleteQuestion(ctx context.Context, testID string, questionID int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1 AND question_num=$2`, testID, questionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// validateQuestion enforces the store-boundary shape rules and clamps a
// correct index left dangling by option edits.
func validateQuestion(q *Question) error {
	if strings.TrimSpace(q.Prompt) == "" {
		return errors.New("question prompt required")
	}
	if len(q.Options) < 2 {
		return errors.New("question needs at least two options")
	}
	if q.CorrectIndex < 0 {
		q.CorrectIndex = 0
	}
	if q.CorrectIndex >= len(q.Options) {
		q.CorrectIndex = len(q.Options) - 1
	}
	return nil
}

func (s *SQLStore) ListTags(ctx context.Context, testID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM test_tags WHERE test_id=$1 ORDER BY tag`, testID)
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

func (s *SQLStore) AddTag(ctx context.Context, testID, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return errors.New("tag required")
	}
	return s.ensureTag(ctx, testID, tag)
}

func (s *SQLStore) ensureTag(ctx context.Context, testID, tag string) error {
	if tag == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO test_tags (test_id,tag) VALUES ($1,$2) ON CONFLICT DO NOTHING`, testID, tag)
	return err
}

// RenameTag moves every question under oldTag to newTag. When newTag already
// exists the two merge and the old tag row disappears.
func (s *SQLStore) RenameTag(ctx context.Context, testID, oldTag, newTag string) error {
	if strings.TrimSpace(newTag) == "" {
		return errors.New("tag required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM test_tags WHERE test_id=$1 AND tag=$2`, testID, newTag).Scan(&exists)
	switch {
	case err == nil:
		// merge into the existing tag
		if _, err := tx.ExecContext(ctx, `DELETE FROM test_tags WHERE test_id=$1 AND tag=$2`, testID, oldTag); err != nil {
			return err
		}
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `UPDATE test_tags SET tag=$1 WHERE test_id=$2 AND tag=$3`, newTag, testID, oldTag)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	default:
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE questions SET tag=$1 WHERE test_id=$2 AND tag=$3`, newTag, testID, oldTag); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTag removes the tag row and either deletes its questions or leaves
// them untagged.
func (s *SQLStore) DeleteTag(ctx context.Context, testID, tag string, deleteQuestions bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if deleteQuestions {
		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1 AND tag=$2`, testID, tag); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE questions SET tag='' WHERE test_id=$1 AND tag=$2`, testID, tag); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM test_tags WHERE test_id=$1 AND tag=$2`, testID, tag)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLStore) ListMaterials(ctx context.Context, testID string) ([]Material, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,test_id,kind,title,ref,transcript,pause_times_json,questions_per_pause,created_at
		FROM test_materials WHERE test_id=$1 ORDER BY created_at, id`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Material
	for rows.Next() {
		var m Material
		var pj string
		if err := rows.Scan(&m.ID, &m.TestID, &m.Kind, &m.Title, &m.Ref, &m.Transcript, &pj, &m.QuestionsPerPause, &m.CreatedAt); err != nil {
			return nil, err
		}
		if pj != "" {
			if err := json.Unmarshal([]byte(pj), &m.PauseTimes); err != nil {
				m.PauseTimes = nil
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddMaterial(ctx context.Context, m Material) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().Unix()
	}
	pj, _ := json.Marshal(m.PauseTimes)
	_, err := s.db.ExecContext(ctx, `INSERT INTO test_materials (id,test_id,kind,title,ref,transcript,pause_times_json,questions_per_pause,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.TestID, m.Kind, m.Title, m.Ref, m.Transcript, string(pj), m.QuestionsPerPause, m.CreatedAt)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

func (s *SQLStore) DeleteMaterial(ctx context.Context, testID, materialID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_materials WHERE test_id=$1 AND id=$2`, testID, materialID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleFavorite flips the favorite mark and reports the new state.
func (s *SQLStore) ToggleFavorite(ctx context.Context, userID, testID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM favorite_tests WHERE user_id=$1 AND test_id=$2`, userID, testID).Scan(&one)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `DELETE FROM favorite_tests WHERE user_id=$1 AND test_id=$2`, userID, testID)
		return false, err
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO favorite_tests (user_id,test_id) VALUES ($1,$2)`, userID, testID)
		return true, err
	default:
		return false, err
	}
}

func (s *SQLStore) ListFavorites(ctx context.Context, userID string) ([]Test, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT t.id,t.owner_id,t.title,t.description,t.author,t.language,t.visibility,t.created_at,
		(SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id)
		FROM tests t JOIN favorite_tests f ON f.test_id = t.id
		WHERE f.user_id=$1 ORDER BY t.title`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTests(rows)
}

// TestMeta serves the access resolver.
func (s *SQLStore) TestMeta(ctx context.Context, testID string) (access.TestMeta, error) {
	row := s.db.QueryRowContext(ctx, `SELECT owner_id, visibility FROM tests WHERE id=$1`, testID)
	var owner sql.NullString
	var vis string
	if err := row.Scan(&owner, &vis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.TestMeta{}, ErrNotFound
		}
		return access.TestMeta{}, err
	}
	return access.TestMeta{ID: testID, Owner: owner.String, Visibility: access.ParseVisibility(vis)}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTest(row rowScanner) (Test, error) {
	var t Test
	var owner sql.NullString
	var vis string
	if err := row.Scan(&t.ID, &owner, &t.Title, &t.Description, &t.Author, &t.Language, &vis, &t.CreatedAt, &t.QuestionCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Test{}, ErrNotFound
		}
		return Test{}, err
	}
	t.Owner = owner.String
	t.Visibility = access.ParseVisibility(vis)
	return t, nil
}

func scanTests(rows *sql.Rows) ([]Test, error) {
	var out []Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanQuestions(rows *sql.Rows) ([]Question, error) {
	var out []Question
	for rows.Next() {
		var q Question
		var oj string
		if err := rows.Scan(&q.TestID, &q.ID, &q.Tag, &q.Prompt, &oj, &q.CorrectIndex, &q.Explanation, &q.Source); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
