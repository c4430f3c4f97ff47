package engine

import (
	"database/sql"
	"time"

	"stratline/internal/config"
	"stratline/internal/events"
	"stratline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	// OrchestratorKey is the shared secret the external runner presents on
	// the execution endpoints. Set at startup from the environment.
	OrchestratorKey string
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
