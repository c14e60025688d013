package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// LoadResult is the outcome of loading one session directory. Warnings holds
// the non-fatal problems met along the way: optional files that were missing
// or unparsable, and contexts whose code could not be refreshed.
type LoadResult struct {
	Snapshot *snapshot.Snapshot
	Warnings []error
}

// ReadPointer reads and validates active.json under root.
func ReadPointer(root string) (*Pointer, error) {
	path := filepath.Join(root, ActiveFile)
	var p Pointer
	if err := readJSON(path, &p); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if p.Schema != Schema {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("unsupported schema %d", p.Schema)}
	}
	if p.Path == "" {
		return nil, &ConfigError{Path: path, Err: errors.New("empty session path")}
	}
	return &p, nil
}

// ResolveActive returns the directory of the session active.json points at.
func ResolveActive(root string) (string, error) {
	p, err := ReadPointer(root)
	if err != nil {
		return "", err
	}
	dir := p.Path
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, filepath.FromSlash(dir))
	}
	dir = filepath.Clean(dir)

	info, err := os.Stat(dir)
	if err != nil {
		return "", &ConfigError{Path: filepath.Join(root, ActiveFile), Err: err}
	}
	if !info.IsDir() {
		return "", &ConfigError{Path: filepath.Join(root, ActiveFile), Err: fmt.Errorf("%s is not a directory", dir)}
	}
	return dir, nil
}

// Load builds a snapshot from the session stored in dir.
//
// session.json is required; any problem with it is a *LoadError. chat.json
// and context.json are optional and degrade to empty collections with a
// *PartialLoadWarning, as do unreadable notes under context/. Every context's
// code is re-extracted from the live file; when that fails the persisted code
// is kept and the failure is reported as a warning.
func Load(dir string) (*LoadResult, error) {
	files := Files(dir)
	meta, err := readMeta(files[0])
	if err != nil {
		return nil, err
	}

	res := &LoadResult{}
	limits := meta.Limits
	if limits.MaxTokens <= 0 {
		limits.MaxTokens = snapshot.DefaultMaxTokens
	}

	var chat chatDoc
	if err := readOptional(files[1], &chat); err != nil {
		res.Warnings = append(res.Warnings, err)
		chat.Messages = nil
	} else if err := checkRoles(chat.Messages); err != nil {
		res.Warnings = append(res.Warnings, &PartialLoadWarning{Path: files[1], Err: err})
		chat.Messages = nil
	}

	var ctx contextDoc
	if err := readOptional(files[2], &ctx); err != nil {
		res.Warnings = append(res.Warnings, err)
		ctx.Contexts = nil
	}

	contexts := make([]snapshot.CodeContext, 0, len(ctx.Contexts))
	for i, c := range ctx.Contexts {
		fresh, err := Refresh(c)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Errorf("refresh %s: %w", c.URI, err))
			fresh = c
		}
		if err := fresh.Validate(); err != nil {
			res.Warnings = append(res.Warnings, &PartialLoadWarning{
				Path: files[2],
				Err:  fmt.Errorf("dropping context %d: %w", i, err),
			})
			continue
		}
		contexts = append(contexts, fresh)
	}

	notes, warnings := ReadNotes(dir)
	res.Warnings = append(res.Warnings, warnings...)

	messages := chat.Messages
	if messages == nil {
		messages = []snapshot.ChatMessage{}
	}
	res.Snapshot = &snapshot.Snapshot{
		SessionID:    meta.ID,
		Version:      meta.Version,
		Limits:       limits,
		ChatMessages: messages,
		CodeContexts: contexts,
		Markdown:     notes,
	}
	return res, nil
}

// Refresh returns a copy of c whose Code is re-extracted from the file c.URI
// names and whose LastModified is that file's modification time.
func Refresh(c snapshot.CodeContext) (snapshot.CodeContext, error) {
	path, err := URIToPath(c.URI)
	if err != nil {
		return c, err
	}
	code, err := ExtractRange(path, c.StartLine, c.EndLine)
	if err != nil {
		return c, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return c, err
	}
	c.Code = code
	c.LastModified = info.ModTime().UTC().Format(time.RFC3339)
	return c, nil
}

// ExtractRange returns lines [start, end) of the file at path joined by "\n".
// Lines are split on "\n" with a trailing "\r" removed, and a final empty line
// after a trailing newline is not counted. end is clamped to the line count.
// A start at or past the last line is a *RangeError.
func ExtractRange(path string, start, end int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := splitLines(string(data))
	if start < 0 || start >= len(lines) {
		return "", &RangeError{Path: path, StartLine: start, LineCount: len(lines)}
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end <= start {
		return "", nil
	}
	return strings.Join(lines[start:end], "\n"), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// URIToPath converts a file:// URI to a local filesystem path.
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q in %q", u.Scheme, uri)
	}
	if u.Path == "" {
		return "", fmt.Errorf("uri %q has no path", uri)
	}
	return filepath.Clean(filepath.FromSlash(u.Path)), nil
}

// PathToURI converts a filesystem path to an absolute file:// URI.
func PathToURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

func readMeta(path string) (*Meta, error) {
	var m Meta
	if err := readJSON(path, &m); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if m.Schema != Schema {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("unsupported schema %d", m.Schema)}
	}
	if m.ID == "" {
		return nil, &LoadError{Path: path, Err: errors.New("empty session id")}
	}
	return &m, nil
}

// readOptional decodes a chat.json or context.json document. Any failure,
// including a missing file, comes back as a *PartialLoadWarning.
func readOptional(path string, v interface{ schema() int }) error {
	if err := readJSON(path, v); err != nil {
		return &PartialLoadWarning{Path: path, Err: err}
	}
	if s := v.schema(); s != Schema {
		return &PartialLoadWarning{Path: path, Err: fmt.Errorf("unsupported schema %d", s)}
	}
	return nil
}

func (d *chatDoc) schema() int    { return d.Schema }
func (d *contextDoc) schema() int { return d.Schema }

func checkRoles(msgs []snapshot.ChatMessage) error {
	for i, m := range msgs {
		switch m.Role {
		case snapshot.RoleSystem, snapshot.RoleUser, snapshot.RoleAssistant:
		default:
			return fmt.Errorf("message %d has unknown role %q", i, m.Role)
		}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON marshals v and writes it atomically.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	return writeAtomic(path, data)
}

// writeAtomic writes data via a temp file + os.Rename, so the watcher never
// observes a half-written file.
func writeAtomic(path string, data []byte) (err error) {
	// Write to a temp file in the same directory so os.Rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
