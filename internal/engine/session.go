package engine

import (
	"github.com/google/uuid"

	dserrors "github.com/docsql/docsql/internal/errors"
)

// Session is the state threaded through the statements of one script.
// Database is the current database; USE changes it.
type Session struct {
	ID       uuid.UUID
	Database string
}

// NewSession starts a session, optionally already using database.
func NewSession(database string) *Session {
	return &Session{ID: uuid.New(), Database: database}
}

func (s *Session) current() (string, error) {
	if s.Database == "" {
		return "", dserrors.NewNotFoundError(dserrors.CodeNoDatabase, "No database selected")
	}
	return s.Database, nil
}
