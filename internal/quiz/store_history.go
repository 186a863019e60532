package quiz

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/google/uuid"
)

// CreateSession opens a round's session record with a zero score. testID is
// empty for program and cross-test practice rounds.
func (s *SQLStore) CreateSession(ctx context.Context, userID, testID string, score, total int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO quiz_sessions (id,user_id,test_id,score,total,started_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		id, userID, testID, score, total, time.Now().Unix())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLStore) UpdateSessionScore(ctx context.Context, sessionID string, score, total int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE quiz_sessions SET score=$1, total=$2 WHERE id=$3`, score, total, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAnswer appends one graded answer. testID is the question's own test,
// so program and practice rounds still attribute history to the right test.
func (s *SQLStore) RecordAnswer(ctx context.Context, userID, testID string, questionID int, correct bool, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO answer_events (user_id,test_id,question_id,correct,session_id,answered_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		userID, testID, questionID, correct, sessionID, time.Now().Unix())
	return err
}

func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT qs.id, qs.user_id, qs.test_id, COALESCE(t.title,''), qs.score, qs.total, qs.started_at
		FROM quiz_sessions qs LEFT JOIN tests t ON t.id = qs.test_id
		WHERE qs.user_id=$1 ORDER BY qs.started_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var ses Session
		if err := rows.Scan(&ses.ID, &ses.UserID, &ses.TestID, &ses.TestTitle, &ses.Score, &ses.Total, &ses.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, ses)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetSessionWrongAnswers(ctx context.Context, sessionID string) ([]WrongRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id, test_id FROM answer_events
		WHERE session_id=$1 AND NOT correct ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWrongRefs(rows)
}

// GetQuestionStats returns the viewer's lifetime correct/wrong tallies per
// question of one test, keyed by question number.
func (s *SQLStore) GetQuestionStats(ctx context.Context, userID, testID string) (map[int]Stat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id,
		SUM(CASE WHEN correct THEN 1 ELSE 0 END),
		SUM(CASE WHEN NOT correct THEN 1 ELSE 0 END)
		FROM answer_events WHERE user_id=$1 AND test_id=$2 GROUP BY question_id`, userID, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := make(map[int]Stat)
	for rows.Next() {
		var qid int
		var st Stat
		if err := rows.Scan(&qid, &st.Correct, &st.Wrong); err != nil {
			return nil, err
		}
		stats[qid] = st
	}
	return stats, rows.Err()
}

// WrongQuestionRefs lists the questions the user has gotten wrong more often
// than right, the pool for cross-test practice runs.
func (s *SQLStore) WrongQuestionRefs(ctx context.Context, userID string) ([]WrongRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id, test_id
		FROM answer_events WHERE user_id=$1 AND test_id <> ''
		GROUP BY question_id, test_id
		HAVING SUM(CASE WHEN NOT correct THEN 1 ELSE 0 END) > SUM(CASE WHEN correct THEN 1 ELSE 0 END)`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWrongRefs(rows)
}

// TopicStats aggregates the user's answers on one test per tag. Tags are
// read from the questions as they stand now, so retagged questions report
// under their current tag.
func (s *SQLStore) TopicStats(ctx context.Context, userID, testID string) ([]TopicStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT q.tag,
		COUNT(*),
		SUM(CASE WHEN ae.correct THEN 1 ELSE 0 END),
		SUM(CASE WHEN NOT ae.correct THEN 1 ELSE 0 END)
		FROM answer_events ae
		JOIN questions q ON q.test_id = ae.test_id AND q.question_num = ae.question_id
		WHERE ae.user_id=$1 AND ae.test_id=$2
		GROUP BY q.tag ORDER BY q.tag`, userID, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TopicStat
	for rows.Next() {
		var ts TopicStat
		if err := rows.Scan(&ts.Tag, &ts.Total, &ts.Correct, &ts.Wrong); err != nil {
			return nil, err
		}
		ts.PercentCorrect = percent(ts.Correct, ts.Total)
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *SQLStore) TestsPerformance(ctx context.Context, userID string) ([]TestPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ae.test_id, COALESCE(t.title,''),
		COUNT(*),
		SUM(CASE WHEN ae.correct THEN 1 ELSE 0 END)
		FROM answer_events ae LEFT JOIN tests t ON t.id = ae.test_id
		WHERE ae.user_id=$1 AND ae.test_id <> ''
		GROUP BY ae.test_id, t.title ORDER BY t.title`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TestPerformance
	for rows.Next() {
		var tp TestPerformance
		if err := rows.Scan(&tp.TestID, &tp.Title, &tp.Total, &tp.Correct); err != nil {
			return nil, err
		}
		tp.PercentCorrect = percent(tp.Correct, tp.Total)
		out = append(out, tp)
	}
	return out, rows.Err()
}

func (s *SQLStore) ProgramsPerformance(ctx context.Context, userID string) ([]ProgramPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pt.program_id, COALESCE(p.title,''),
		COUNT(*),
		SUM(CASE WHEN ae.correct THEN 1 ELSE 0 END),
		COUNT(DISTINCT ae.test_id)
		FROM answer_events ae
		JOIN program_tests pt ON pt.test_id = ae.test_id
		LEFT JOIN programs p ON p.id = pt.program_id
		WHERE ae.user_id=$1
		GROUP BY pt.program_id, p.title ORDER BY p.title`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProgramPerformance
	for rows.Next() {
		var pp ProgramPerformance
		if err := rows.Scan(&pp.ProgramID, &pp.Title, &pp.Total, &pp.Correct, &pp.TestsTaken); err != nil {
			return nil, err
		}
		pp.PercentCorrect = percent(pp.Correct, pp.Total)
		out = append(out, pp)
	}
	return out, rows.Err()
}

// percent is correct/total as a percentage rounded to one decimal.
func percent(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(1000*float64(correct)/float64(total)) / 10
}

func scanWrongRefs(rows *sql.Rows) ([]WrongRef, error) {
	var out []WrongRef
	for rows.Next() {
		var wr WrongRef
		if err := rows.Scan(&wr.QuestionID, &wr.TestID); err != nil {
			return nil, err
		}
		out = append(out, wr)
	}
	return out, rows.Err()
}
