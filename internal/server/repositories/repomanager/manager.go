package repomanager

import (
	"context"
	"database/sql"

	"github.com/echovault/echovault/internal/dbx"
	"github.com/echovault/echovault/internal/server/repositories/echoes"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Echoes(db dbx.DBTX) echoes.Repository
}
