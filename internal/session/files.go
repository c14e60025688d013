package session

import (
	"path/filepath"
	"time"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// Layout of a workspace directory.
const (
	DirName     = ".snek"
	ActiveFile  = "active.json"
	SessionsDir = "sessions"
	SessionFile = "session.json"
	ChatFile    = "chat.json"
	ContextFile = "context.json"
	NotesDir    = "context" // free-form *.md notes

	// Schema is the only on-disk format version this package reads and writes.
	Schema = 1
)

// Pointer is the content of active.json: which session directory is active.
type Pointer struct {
	Schema int    `json:"schema"`
	ID     string `json:"id"`
	Path   string `json:"path"` // relative to the workspace root
}

// Meta is the content of a session's session.json.
type Meta struct {
	Schema    int             `json:"schema"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   uint64          `json:"version"`
	Limits    snapshot.Limits `json:"limits"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// chatDoc is the content of chat.json.
type chatDoc struct {
	Schema   int                    `json:"schema"`
	Messages []snapshot.ChatMessage `json:"messages"`
}

// contextDoc is the content of context.json.
type contextDoc struct {
	Schema   int                    `json:"schema"`
	Contexts []snapshot.CodeContext `json:"contexts"`
}

// Files returns the three per-session files of the session stored in dir.
func Files(dir string) [3]string {
	return [3]string{
		filepath.Join(dir, SessionFile),
		filepath.Join(dir, ChatFile),
		filepath.Join(dir, ContextFile),
	}
}
