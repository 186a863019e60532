package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/knowting/knowting/internal/access"
	api "github.com/knowting/knowting/internal/api/http"
	auth "github.com/knowting/knowting/internal/auth/middleware"
	"github.com/knowting/knowting/internal/config"
	"github.com/knowting/knowting/internal/db"
	"github.com/knowting/knowting/internal/importer"
	"github.com/knowting/knowting/internal/quiz"
	rbac "github.com/knowting/knowting/internal/rbac"
	storage "github.com/knowting/knowting/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := quiz.NewSQLStore(dbh, cfg.DBDriver)
	resolver := access.NewResolver(store)
	runs := quiz.NewRunManager(store, nil, nil)

	// --- Auth ---
	authSvc := auth.NewAuthService(cfg.JWTSecret)
	if err := api.BootstrapAdmin(ctx, dbh, cfg.AdminUser, cfg.AdminPassword); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	// --- Blob store for uploaded materials ---
	bs, err := storage.NewFSStore(cfg.BlobBasePath, cfg.PublicURL+"/api/assets")
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// --- Importer (optional directory watcher) ---
	imp := importer.New(store, store)
	var watcher *importer.Watcher
	if cfg.ImportDir != "" {
		watcher = importer.NewWatcher(imp, cfg.ImportDir)
		if err := watcher.Start(cfg.ImportRescanCron); err != nil {
			log.Fatalf("import watcher: %v", err)
		}
		defer watcher.Stop()
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/auth/register", api.RegisterHandler(dbh, authSvc, store))
	r.Post("/api/auth/login", api.LoginHandler(dbh, authSvc, store))

	// Browse and play: open to everyone, richer when signed in.
	r.Group(func(pub chi.Router) {
		pub.Use(auth.OptionalJWT(authSvc))

		pub.Get("/api/tests", api.ListTestsHandler(store))
		pub.Get("/api/tests/{testID}", api.GetTestHandler(store, resolver))
		pub.Get("/api/tests/{testID}/questions", api.ListQuestionsHandler(store, resolver))
		pub.Get("/api/tests/{testID}/tags", api.ListTagsHandler(store, resolver))
		pub.Get("/api/tests/{testID}/materials", api.ListMaterialsHandler(store, resolver, bs))
		pub.Get("/api/tests/{testID}/visibility", api.EffectiveVisibilityHandler(resolver))

		pub.Get("/api/programs", api.ListProgramsHandler(store))
		pub.Get("/api/programs/{programID}", api.GetProgramHandler(store, store))
		pub.Get("/api/programs/{programID}/tests", api.ListProgramTestsHandler(store, store))
		pub.Get("/api/programs/{programID}/tags", api.ProgramTagsHandler(store, store))

		pub.Post("/api/runs", api.StartRunHandler(runs, store, store, store, store, resolver, cfg.AllowAnonymousPlay))
		pub.Get("/api/runs/{runID}", api.ViewRunHandler(runs))
		pub.Post("/api/runs/{runID}/answer", api.AnswerRunHandler(runs))
		pub.Post("/api/runs/{runID}/next", api.NextRunHandler(runs))
		pub.Post("/api/runs/{runID}/retry", api.RetryRunHandler(runs))
		pub.Post("/api/runs/{runID}/finish", api.FinishRunHandler(runs))
		pub.Post("/api/runs/{runID}/abandon", api.AbandonRunHandler(runs))

		pub.Route("/api/assets", func(ar chi.Router) {
			api.MountAssets(ar, bs)
		})
	})

	// Management and history: JWT required, account tier gates route classes,
	// handlers enforce ownership and collaborator roles.
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))
		pr.Use(auth.AttachRoleFromDB(dbh, true))

		pr.Get("/api/auth/me", api.MeHandler(dbh))
		pr.Post("/api/auth/change-password", api.ChangePasswordHandler(dbh))

		pr.With(rbac.Require("test:create")).
			Post("/api/tests", api.CreateTestHandler(store))
		pr.With(rbac.Require("test:edit")).
			Put("/api/tests/{testID}", api.UpdateTestHandler(store, resolver))
		pr.With(rbac.Require("test:delete")).
			Delete("/api/tests/{testID}", api.DeleteTestHandler(store, resolver))
		pr.With(rbac.Require("test:export")).
			Get("/api/tests/{testID}/export", api.ExportTestHandler(store, resolver))

		pr.With(rbac.Require("question:edit")).
			Post("/api/tests/{testID}/questions", api.AddQuestionHandler(store, resolver))
		pr.With(rbac.Require("question:edit")).
			Put("/api/tests/{testID}/questions/{questionID}", api.UpdateQuestionHandler(store, resolver))
		pr.With(rbac.Require("question:edit")).
			Delete("/api/tests/{testID}/questions/{questionID}", api.DeleteQuestionHandler(store, resolver))

		pr.With(rbac.Require("tag:edit")).
			Post("/api/tests/{testID}/tags", api.AddTagHandler(store, resolver))
		pr.With(rbac.Require("tag:edit")).
			Put("/api/tests/{testID}/tags/{tag}", api.RenameTagHandler(store, resolver))
		pr.With(rbac.Require("tag:edit")).
			Delete("/api/tests/{testID}/tags/{tag}", api.DeleteTagHandler(store, resolver))

		pr.With(rbac.Require("material:edit")).
			Post("/api/tests/{testID}/materials", api.AddMaterialHandler(store, resolver))
		pr.With(rbac.Require("material:upload")).
			Post("/api/tests/{testID}/materials/upload", api.UploadMaterialHandler(store, resolver, bs))
		pr.With(rbac.Require("material:edit")).
			Delete("/api/tests/{testID}/materials/{materialID}", api.DeleteMaterialHandler(store, resolver, bs))

		pr.With(rbac.Require("collab:manage")).
			Post("/api/tests/{testID}/collaborators", api.InviteTestCollaboratorHandler(store, resolver))
		pr.With(rbac.Require("collab:manage")).
			Get("/api/tests/{testID}/collaborators", api.ListTestCollaboratorsHandler(store, resolver))
		pr.With(rbac.Require("collab:manage")).
			Delete("/api/tests/{testID}/collaborators/{email}", api.RemoveTestCollaboratorHandler(store, resolver))

		pr.With(rbac.Require("program:create")).
			Post("/api/programs", api.CreateProgramHandler(store))
		pr.With(rbac.Require("program:edit")).
			Put("/api/programs/{programID}", api.UpdateProgramHandler(store, store))
		pr.With(rbac.Require("program:edit")).
			Delete("/api/programs/{programID}", api.DeleteProgramHandler(store, store))
		pr.With(rbac.Require("program:edit")).
			Put("/api/programs/{programID}/tests/{testID}", api.AttachTestHandler(store, store, resolver))
		pr.With(rbac.Require("program:edit")).
			Delete("/api/programs/{programID}/tests/{testID}", api.DetachTestHandler(store, store))

		pr.With(rbac.Require("collab:manage")).
			Post("/api/programs/{programID}/collaborators", api.InviteProgramCollaboratorHandler(store, store))
		pr.With(rbac.Require("collab:manage")).
			Get("/api/programs/{programID}/collaborators", api.ListProgramCollaboratorsHandler(store, store))
		pr.With(rbac.Require("collab:manage")).
			Delete("/api/programs/{programID}/collaborators/{email}", api.RemoveProgramCollaboratorHandler(store, store))

		pr.With(rbac.Require("invitation:respond")).
			Get("/api/invitations", api.ListInvitationsHandler(store))
		pr.With(rbac.Require("invitation:respond")).
			Post("/api/invitations/{kind}/{targetID}/accept", api.AcceptInvitationHandler(store))
		pr.With(rbac.Require("invitation:respond")).
			Post("/api/invitations/{kind}/{targetID}/decline", api.DeclineInvitationHandler(store))

		pr.With(rbac.Require("stats:view")).
			Get("/api/sessions", api.ListSessionsHandler(store))
		pr.With(rbac.Require("stats:view")).
			Get("/api/sessions/{sessionID}/wrong", api.SessionWrongAnswersHandler(store))
		pr.With(rbac.Require("stats:view")).
			Get("/api/stats/topics", api.TopicStatsHandler(store))
		pr.With(rbac.Require("stats:view")).
			Get("/api/stats/tests", api.TestsPerformanceHandler(store))
		pr.With(rbac.Require("stats:view")).
			Get("/api/stats/programs", api.ProgramsPerformanceHandler(store))
		pr.With(rbac.Require("stats:view")).
			Get("/api/practice/wrong", api.PracticeWrongHandler(store))

		pr.With(rbac.Require("favorite:toggle")).
			Put("/api/tests/{testID}/favorite", api.ToggleFavoriteHandler(store, resolver))
		pr.With(rbac.Require("favorite:toggle")).
			Get("/api/favorites", api.ListFavoritesHandler(store))

		pr.With(rbac.Require("test:import")).
			Post("/api/import", api.ImportTestHandler(imp))
		pr.With(rbac.Require("import:trigger")).
			Post("/api/import/rescan", api.RescanImportsHandler(watcher))

		pr.With(rbac.Require("user:manage")).
			Get("/api/users", api.ListUsersHandler(dbh))
		pr.With(rbac.Require("user:manage")).
			Put("/api/users/{userID}/role", api.UpdateUserRoleHandler(dbh))
		pr.With(rbac.Require("user:manage")).
			Get("/api/users/{userID}/export", api.ExportUserDataHandler(dbh))
		pr.With(rbac.Require("user:manage")).
			Delete("/api/users/{userID}", api.DeleteUserHandler(dbh))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	log.Printf("listening on %s (db=%s)", cfg.HTTPAddr, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
