package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/knowting/knowting/internal/access"
	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"

	"github.com/go-chi/chi/v5"
)

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (req *inviteRequest) normalize() (string, access.Role, bool) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return "", "", false
	}
	if req.Role == "" {
		return email, access.RoleStudent, true
	}
	role, ok := access.ParseRole(req.Role)
	if !ok {
		return "", "", false
	}
	return email, role, true
}

// InviteTestCollaboratorHandler invites an email to collaborate on a test.
// Inviting the same email again updates the role and keeps the status.
func InviteTestCollaboratorHandler(store quiz.CollaboratorStore, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canManageTest(w, r, res, testID) {
			return
		}
		var req inviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		email, role, ok := req.normalize()
		if !ok {
			http.Error(w, "email and a valid role required", 400)
			return
		}
		if err := store.InviteTestCollaborator(r.Context(), testID, email, role); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func ListTestCollaboratorsHandler(store quiz.CollaboratorStore, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canManageTest(w, r, res, testID) {
			return
		}
		list, err := store.ListTestCollaborators(r.Context(), testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if list == nil {
			list = []quiz.Collaborator{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	}
}

func RemoveTestCollaboratorHandler(store quiz.CollaboratorStore, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canManageTest(w, r, res, testID) {
			return
		}
		email := strings.ToLower(chi.URLParam(r, "email"))
		if err := store.RemoveTestCollaborator(r.Context(), testID, email); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func InviteProgramCollaboratorHandler(store quiz.CollaboratorStore, programs quiz.ProgramStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		if _, ok := requireProgramManager(w, r, programs, store, programID); !ok {
			return
		}
		var req inviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		email, role, ok := req.normalize()
		if !ok {
			http.Error(w, "email and a valid role required", 400)
			return
		}
		if err := store.InviteProgramCollaborator(r.Context(), programID, email, role); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func ListProgramCollaboratorsHandler(store quiz.CollaboratorStore, programs quiz.ProgramStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		if _, ok := requireProgramManager(w, r, programs, store, programID); !ok {
			return
		}
		list, err := store.ListProgramCollaborators(r.Context(), programID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if list == nil {
			list = []quiz.Collaborator{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	}
}

func RemoveProgramCollaboratorHandler(store quiz.CollaboratorStore, programs quiz.ProgramStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		programID := chi.URLParam(r, "programID")
		if _, ok := requireProgramManager(w, r, programs, store, programID); !ok {
			return
		}
		email := strings.ToLower(chi.URLParam(r, "email"))
		if err := store.RemoveProgramCollaborator(r.Context(), programID, email); err != nil {
			storeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListInvitationsHandler returns the signed in user's pending invitations
// across tests and programs.
func ListInvitationsHandler(store quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		list, err := store.ListInvitations(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if list == nil {
			list = []quiz.Invitation{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(list)
	}
}

// AcceptInvitationHandler flips a pending invitation to accepted. Accepting
// an invitation that does not exist is a no-op.
func AcceptInvitationHandler(store quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := chi.URLParam(r, "kind")
		targetID := chi.URLParam(r, "targetID")
		if kind != quiz.InviteKindTest && kind != quiz.InviteKindProgram {
			http.Error(w, "bad invitation kind", 400)
			return
		}
		userID := authmw.SubjectFromContext(r.Context())
		if err := store.AcceptInvitation(r.Context(), kind, targetID, userID); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DeclineInvitationHandler removes a pending invitation. Declining an
// invitation that does not exist is a no-op.
func DeclineInvitationHandler(store quiz.CollaboratorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := chi.URLParam(r, "kind")
		targetID := chi.URLParam(r, "targetID")
		if kind != quiz.InviteKindTest && kind != quiz.InviteKindProgram {
			http.Error(w, "bad invitation kind", 400)
			return
		}
		userID := authmw.SubjectFromContext(r.Context())
		if err := store.DeclineInvitation(r.Context(), kind, targetID, userID); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
