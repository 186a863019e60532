package http

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/knowting/knowting/internal/access"
	authmw "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/quiz"
	"github.com/knowting/knowting/internal/storage"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 32 << 20

// ListMaterialsHandler returns the study materials of a test. Restricted
// tests withhold them from viewers without an accepted collaboration.
func ListMaterialsHandler(store quiz.Store, res *access.Resolver, blobs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		viewerID := authmw.SubjectFromContext(r.Context())

		ok, err := res.CanView(r.Context(), viewerID, testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if !ok {
			http.Error(w, "not found", 404)
			return
		}
		t, err := store.GetTest(r.Context(), testID)
		if err != nil {
			storeErr(w, err)
			return
		}
		if t.Visibility == access.Restricted && !privilegedOnTest(r, res, testID, viewerID) {
			http.Error(w, "materials restricted", http.StatusForbidden)
			return
		}
		ms, err := store.ListMaterials(r.Context(), testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		for i := range ms {
			ms[i].URL = materialURL(blobs, ms[i])
		}
		if ms == nil {
			ms = []quiz.Material{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ms)
	}
}

// AddMaterialHandler records a link material: youtube, article, anything
// addressable by URL. File uploads go through UploadMaterialHandler.
func AddMaterialHandler(store quiz.Store, res *access.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		var req struct {
			Kind              string `json:"kind"`
			Title             string `json:"title"`
			URL               string `json:"url"`
			Transcript        string `json:"transcript"`
			PauseTimes        []int  `json:"pause_times"`
			QuestionsPerPause int    `json:"questions_per_pause"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			http.Error(w, "url required", 400)
			return
		}
		if req.Kind == "" {
			req.Kind = "link"
		}
		m := quiz.Material{
			TestID:            testID,
			Kind:              req.Kind,
			Title:             req.Title,
			Ref:               req.URL,
			Transcript:        req.Transcript,
			PauseTimes:        req.PauseTimes,
			QuestionsPerPause: req.QuestionsPerPause,
		}
		id, err := store.AddMaterial(r.Context(), m)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		m.ID = id
		m.URL = m.Ref
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(m)
	}
}

// UploadMaterialHandler accepts a multipart file, stores the blob and records
// a file material whose ref is the blob key.
func UploadMaterialHandler(store quiz.Store, res *access.Resolver, blobs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "bad multipart body", 400)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "file field required", 400)
			return
		}
		defer file.Close()

		id := uuid.NewString()
		name := filepath.Base(header.Filename)
		if name == "" || name == "." || name == "/" {
			name = "upload"
		}
		key, err := blobs.Put("materials/"+testID+"/"+id+"-"+name, file)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		m := quiz.Material{
			ID:     id,
			TestID: testID,
			Kind:   "file",
			Title:  r.FormValue("title"),
			Ref:    key,
		}
		if m.Title == "" {
			m.Title = name
		}
		if _, err := store.AddMaterial(r.Context(), m); err != nil {
			_ = blobs.Delete(key)
			http.Error(w, err.Error(), 500)
			return
		}
		m.URL = materialURL(blobs, m)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(m)
	}
}

// DeleteMaterialHandler removes the material row and, for uploads, the blob.
func DeleteMaterialHandler(store quiz.Store, res *access.Resolver, blobs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		if !canEditContent(w, r, res, testID) {
			return
		}
		materialID := chi.URLParam(r, "materialID")
		ms, err := store.ListMaterials(r.Context(), testID)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		var blobKey string
		for _, m := range ms {
			if m.ID == materialID && m.Kind == "file" {
				blobKey = m.Ref
			}
		}
		if err := store.DeleteMaterial(r.Context(), testID, materialID); err != nil {
			storeErr(w, err)
			return
		}
		if blobKey != "" {
			_ = blobs.Delete(blobKey)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// privilegedOnTest reports ownership or any accepted collaborator role.
func privilegedOnTest(r *http.Request, res *access.Resolver, testID, viewerID string) bool {
	if ok, err := res.CanEdit(r.Context(), viewerID, testID); err == nil && ok {
		return true
	}
	_, ok, err := res.RoleForTest(r.Context(), testID, viewerID)
	return err == nil && ok
}

// materialURL resolves what the client should open: stored uploads get the
// asset route path, link materials their original URL.
func materialURL(blobs storage.BlobStore, m quiz.Material) string {
	if m.Kind != "file" {
		return m.Ref
	}
	u, err := blobs.SignedURL(m.Ref)
	if err != nil {
		return ""
	}
	return u
}
