package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/knowting/knowting/internal/auth/middleware"
)

// Admin account tools: export everything stored about a member as a JSON
// download, and erase an account on request. Tests and programs the member
// owns are content rather than account data; erasing detaches them
// (owner_id goes NULL) instead of destroying them.

// ExportUserDataHandler is admin-only. Accepts a user id or username in the
// path and streams the account's stored data as an attachment.
func ExportUserDataHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "userID")

		var u userInfo
		var createdAt int64
		err := db.QueryRowContext(r.Context(),
			`SELECT id, username, display_name, global_role, created_at FROM users WHERE id=$1 OR username=$1`,
			key).Scan(&u.ID, &u.Username, &u.DisplayName, &u.GlobalRole, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := map[string]any{
			"profile": map[string]any{
				"id":           u.ID,
				"username":     u.Username,
				"display_name": u.DisplayName,
				"global_role":  u.GlobalRole,
				"created_at":   createdAt,
			},
		}
		for name, q := range map[string]string{
			"sessions":      `SELECT id, test_id, score, total, started_at FROM quiz_sessions WHERE user_id=$1 ORDER BY started_at`,
			"answers":       `SELECT test_id, question_id, correct, session_id, answered_at FROM answer_events WHERE user_id=$1 ORDER BY answered_at`,
			"favorites":     `SELECT test_id FROM favorite_tests WHERE user_id=$1`,
			"test_roles":    `SELECT test_id, role, status FROM test_collaborators WHERE user_id=$1`,
			"program_roles": `SELECT program_id, role, status FROM program_collaborators WHERE user_id=$1`,
		} {
			rows, err := dumpRows(r.Context(), db, q, u.ID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			resp[name] = rows
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "account_"+u.ID+".json"))
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// DeleteUserHandler is admin-only: removes the account and every row keyed
// to it. The explicit deletes cover the history tables, which carry no
// foreign key so anonymous-play rows can exist without an account.
func DeleteUserHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == authmw.SubjectFromContext(r.Context()) {
			http.Error(w, "cannot delete own account", http.StatusBadRequest)
			return
		}

		tx, err := db.BeginTx(r.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer tx.Rollback()

		for _, q := range []string{
			`DELETE FROM answer_events WHERE user_id=$1`,
			`DELETE FROM quiz_sessions WHERE user_id=$1`,
			`DELETE FROM favorite_tests WHERE user_id=$1`,
			`DELETE FROM test_collaborators WHERE user_id=$1`,
			`DELETE FROM program_collaborators WHERE user_id=$1`,
		} {
			if _, err := tx.ExecContext(r.Context(), q, userID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		res, err := tx.ExecContext(r.Context(), `DELETE FROM users WHERE id=$1`, userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := tx.Commit(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// dumpRows runs a query and returns every row as a column-name map. Only the
// export endpoint uses it; the types are whatever the driver hands back.
func dumpRows(ctx context.Context, db *sql.DB, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				m[c] = string(b)
				continue
			}
			m[c] = vals[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
