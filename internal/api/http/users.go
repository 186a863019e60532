package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

type userInfo struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	GlobalRole  string `json:"global_role"`
}

// RegisterHandler creates a local account. The username is an email address
// and doubles as the identity collaborator invitations are matched against,
// so pending invitations attach to the new account right away.
func RegisterHandler(db *sql.DB, authSvc *authmw.AuthService, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username    string `json:"username"`
			Password    string `json:"password"`
			DisplayName string `json:"display_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		req.Username = strings.ToLower(strings.TrimSpace(req.Username))
		if req.Username == "" || len(req.Password) < 8 {
			http.Error(w, "username and password (8+ chars) required", 400)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
		if err != nil {
			http.Error(w, "hash error", 500)
			return
		}
		id := uuid.NewString()
		_, err = db.ExecContext(r.Context(), `INSERT INTO users (id,username,password_hash,display_name,global_role,created_at)
			VALUES ($1,$2,$3,$4,'free',$5)`,
			id, req.Username, string(hash), req.DisplayName, time.Now().Unix())
		if err != nil {
			http.Error(w, "username taken", http.StatusConflict)
			return
		}
		if err := collab.ResolveCollaboratorUserID(r.Context(), req.Username, id); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		tok, err := authSvc.IssueJWT(id, "free")
		if err != nil {
			http.Error(w, "issue token", 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": tok,
			"user":         userInfo{ID: id, Username: req.Username, DisplayName: req.DisplayName, GlobalRole: "free"},
		})
	}
}

// LoginHandler verifies credentials and backfills any invitations issued to
// this email before the account existed.
func LoginHandler(db *sql.DB, authSvc *authmw.AuthService, collab quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		req.Username = strings.ToLower(strings.TrimSpace(req.Username))

		var u userInfo
		var hash string
		err := db.QueryRowContext(r.Context(),
			`SELECT id, username, display_name, global_role, password_hash FROM users WHERE username=$1`,
			req.Username,
		).Scan(&u.ID, &u.Username, &u.DisplayName, &u.GlobalRole, &hash)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if err := collab.ResolveCollaboratorUserID(r.Context(), u.Username, u.ID); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		tok, err := authSvc.IssueJWT(u.ID, u.GlobalRole)
		if err != nil {
			http.Error(w, "issue token", 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": tok, "user": u})
	}
}

func MeHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub := authmw.SubjectFromContext(r.Context())
		var u userInfo
		err := db.QueryRowContext(r.Context(),
			`SELECT id, username, display_name, global_role FROM users WHERE id=$1`,
			sub,
		).Scan(&u.ID, &u.Username, &u.DisplayName, &u.GlobalRole)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "not found", 404)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(u)
	}
}

// ListUsersHandler is admin-only.
func ListUsersHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

		rows, err := db.QueryContext(r.Context(),
			`SELECT id, username, display_name, global_role FROM users ORDER BY username LIMIT $1 OFFSET $2`,
			limit, offset)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		defer rows.Close()

		users := []userInfo{}
		for rows.Next() {
			var u userInfo
			if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.GlobalRole); err != nil {
				http.Error(w, err.Error(), 500)
				return
			}
			users = append(users, u)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(users)
	}
}

// UpdateUserRoleHandler is admin-only: moves an account between the free,
// premium and admin tiers.
func UpdateUserRoleHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		var req struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		switch req.Role {
		case "free", "premium", "admin":
		default:
			http.Error(w, "unknown role", 400)
			return
		}
		res, err := db.ExecContext(r.Context(), `UPDATE users SET global_role=$1 WHERE id=$2`, req.Role, userID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			http.Error(w, "not found", 404)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// BootstrapAdmin creates the admin account on first start. A blank password
// skips bootstrap entirely.
func BootstrapAdmin(ctx context.Context, db *sql.DB, username, password string) error {
	if password == "" {
		return nil
	}
	username = strings.ToLower(strings.TrimSpace(username))
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username=$1`, username).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO users (id,username,password_hash,display_name,global_role,created_at)
		VALUES ($1,$2,$3,'Administrator','admin',$4)`,
		uuid.NewString(), username, string(hash), time.Now().Unix())
	return err
}
