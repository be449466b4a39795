// Package server assembles the depot stores into a single HTTP API.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/assetdepot/depot/pkg/audit"
	"github.com/assetdepot/depot/pkg/authz"
	"github.com/assetdepot/depot/pkg/cache"
	"github.com/assetdepot/depot/pkg/depot/assets"
	"github.com/assetdepot/depot/pkg/depot/branches"
	"github.com/assetdepot/depot/pkg/depot/changelists"
	"github.com/assetdepot/depot/pkg/depot/merges"
	"github.com/assetdepot/depot/pkg/depot/projects"
	"github.com/assetdepot/depot/pkg/depot/workspaces"
	"github.com/assetdepot/depot/pkg/identity"
)

// Server owns every store and mounts the whole API surface.
type Server struct {
	db     *gorm.DB
	logger *slog.Logger

	TokenConfig *identity.TokenConfig
	Caches      *cache.Manager

	Users       *identity.UserStore
	Enforcer    *authz.Enforcer
	Members     *authz.MemberStore
	Audit       *audit.Store
	Projects    *projects.Store
	Branches    *branches.Store
	Assets      *assets.Store
	Workspaces  *workspaces.Store
	Locks       *workspaces.LockManager
	Changelists *changelists.Store
	Merges      *merges.Store
}

// New wires the stores together over one database handle.
func New(db *gorm.DB, tokenCfg *identity.TokenConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := audit.NewRecorder(logger)
	projectStore := projects.NewStore(db, recorder)

	return &Server{
		db:          db,
		logger:      logger,
		TokenConfig: tokenCfg,
		Caches:      cache.NewManager(cache.ConfigFromEnv()),
		Users:       identity.NewUserStore(db),
		Enforcer:    authz.NewEnforcer(db),
		Members:     authz.NewMemberStore(db, projectStore, recorder),
		Audit:       audit.NewStore(db),
		Projects:    projectStore,
		Branches:    branches.NewStore(db, projectStore, recorder),
		Assets:      assets.NewStore(db, projectStore, recorder),
		Workspaces:  workspaces.NewStore(db, projectStore, recorder),
		Locks:       workspaces.NewLockManager(db, projectStore, recorder),
		Changelists: changelists.NewStore(db, projectStore, recorder),
		Merges:      merges.NewStore(db, projectStore, recorder),
	}
}

// AutoMigrate migrates every depot table.
func (s *Server) AutoMigrate() error {
	for _, fn := range []func() error{
		s.Users.AutoMigrate,
		s.Members.AutoMigrate,
		s.Audit.AutoMigrate,
		s.Projects.AutoMigrate,
		s.Branches.AutoMigrate,
		s.Assets.AutoMigrate,
		s.Workspaces.AutoMigrate,
		s.Changelists.AutoMigrate,
		s.Merges.AutoMigrate,
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// MountRoutes builds the chi router for the full API.
func (s *Server) MountRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Remote-User", "X-Remote-Role"},
		MaxAge:         300,
	}))
	r.Use(identity.Middleware(s.TokenConfig))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Mount("/auth", identity.Router(s.Users, s.TokenConfig))

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(identity.RequireIdentity)

		// The project list and detail reads are cached; both respond
		// identically for every authenticated user, so the shared cache
		// never leaks across identities.
		api.Route("/projects", func(pl chi.Router) {
			pl.Post("/", projects.CreateProjectHandler(s.Projects, s.Caches))
			pl.With(s.Caches.ListMiddleware()).Get("/", projects.ListProjectsHandler(s.Projects))

			pl.Route("/{projectId}", func(pr chi.Router) {
				pr.With(s.Caches.DetailMiddleware()).Get("/", projects.GetProjectHandler(s.Projects))
				pr.Patch("/", projects.UpdateProjectHandler(s.Projects, s.Enforcer, s.Caches))
				pr.Post("/archive", projects.ArchiveProjectHandler(s.Projects, s.Enforcer, s.Caches))
				pr.Get("/archive", projects.GetArchiveRecordHandler(s.Projects, s.Enforcer))

				pr.Mount("/members", authz.MemberRouter(s.Members, s.Enforcer))
				pr.Mount("/branches", branches.Router(s.Branches, s.Enforcer))
				pr.Mount("/assets", assets.Router(s.Assets, s.Enforcer))
				pr.Mount("/workspaces", workspaces.Router(s.Workspaces, s.Enforcer))
				pr.Mount("/locks", workspaces.LockRouter(s.Locks, s.Enforcer))
				pr.Mount("/changelists", changelists.Router(s.Changelists, s.Enforcer))
				pr.Mount("/shelves", changelists.ShelfRouter(s.Changelists, s.Enforcer))
				pr.Mount("/merges", merges.Router(s.Merges, s.Enforcer))
			})
		})
		api.Mount("/audit", audit.Router(s.Audit, s.Enforcer))
	})

	return r
}
