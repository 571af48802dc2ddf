package services

import (
	"io"
	"log"
	"net/http"
	"os"

	"formbase/backend/auth"
	"formbase/backend/events"
	"formbase/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type FormsBackend struct {
	user       UserService
	workspace  WorkspaceService
	folder     FolderService
	form       FormService
	submission SubmissionService

	db    *gorm.DB
	jwt   *auth.JwtManager
	audit auth.AuditLogger
	bus   events.Bus
}

func NewFormsBackend(db *gorm.DB, secret []byte, auditStream io.Writer) FormsBackend {
	jwt := auth.NewJwtManager(secret)
	bus := events.NewInMemoryBus()

	return FormsBackend{
		user:       UserService{db: db, jwt: jwt},
		workspace:  WorkspaceService{db: db, jwt: jwt},
		folder:     FolderService{db: db, jwt: jwt},
		form:       FormService{db: db, jwt: jwt, bus: bus},
		submission: SubmissionService{db: db, jwt: jwt, bus: bus},
		db:         db,
		jwt:        jwt,
		audit:      auth.NewAuditLogger(auditStream, jwt),
		bus:        bus,
	}
}

// Events exposes the bus so callers can attach webhook or automation handlers.
func (b *FormsBackend) Events() events.Bus {
	return b.bus
}

func (b *FormsBackend) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))
	r.Use(b.audit.Middleware)

	r.Mount("/auth", b.user.Routes())
	r.Mount("/workspaces", b.workspace.Routes())
	r.Mount("/folders", b.folder.Routes())
	r.Mount("/forms", b.form.Routes())
	r.Mount("/submissions", b.submission.Routes())
	r.Mount("/public", b.submission.PublicRoutes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
