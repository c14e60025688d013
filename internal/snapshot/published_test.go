package snapshot_test

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/snek/internal/snapshot"
)

// coherentSnapshot builds a snapshot whose every field is derived from n, so a
// reader can tell whether the fields it sees all came from the same value.
func coherentSnapshot(n int, contexts int) *snapshot.Snapshot {
	s := &snapshot.Snapshot{
		SessionID: fmt.Sprintf("session-%d", n),
		Version:   uint64(n),
		Limits:    snapshot.Limits{MaxTokens: n + 1},
		ChatMessages: []snapshot.ChatMessage{
			{Role: snapshot.RoleUser, Content: strconv.Itoa(n)},
		},
	}
	for i := 0; i < contexts; i++ {
		s.CodeContexts = append(s.CodeContexts, snapshot.CodeContext{
			URI:          fmt.Sprintf("file:///src/%d.go", i),
			StartLine:    0,
			EndLine:      1,
			LanguageID:   "go",
			Code:         strconv.Itoa(n),
			LastModified: "2025-01-01T00:00:00Z",
		})
	}
	return s
}

// checkCoherent returns an error if s mixes fields from different publishes.
func checkCoherent(s *snapshot.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	n := int(s.Version)
	if s.SessionID != fmt.Sprintf("session-%d", n) {
		return fmt.Errorf("session id %q does not match version %d", s.SessionID, n)
	}
	if s.Limits.MaxTokens != n+1 {
		return fmt.Errorf("max_tokens %d does not match version %d", s.Limits.MaxTokens, n)
	}
	if len(s.ChatMessages) != 1 || s.ChatMessages[0].Content != strconv.Itoa(n) {
		return fmt.Errorf("chat history does not match version %d", n)
	}
	for i, c := range s.CodeContexts {
		if c.Code != strconv.Itoa(n) {
			return fmt.Errorf("context %d code %q does not match version %d", i, c.Code, n)
		}
	}
	return nil
}

// Feature: snek, Property 3: readers never observe a torn snapshot
func TestPublishedNoTornReads(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		publishes := rapid.IntRange(1, 200).Draw(t, "publishes")
		readers := rapid.IntRange(1, 8).Draw(t, "readers")
		contexts := rapid.IntRange(0, 6).Draw(t, "contexts")

		p := snapshot.NewPublished(coherentSnapshot(0, contexts))

		var done atomic.Bool
		var wg sync.WaitGroup
		errs := make(chan error, readers)
		for r := 0; r < readers; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				last := uint64(0)
				for !done.Load() {
					s := p.Current()
					if err := checkCoherent(s); err != nil {
						errs <- err
						return
					}
					if s.Version < last {
						errs <- fmt.Errorf("version went backwards: %d after %d", s.Version, last)
						return
					}
					last = s.Version
				}
			}()
		}

		for n := 1; n <= publishes; n++ {
			p.Publish(coherentSnapshot(n, contexts))
		}
		done.Store(true)
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("reader observed inconsistent snapshot: %v", err)
		}
		if got := p.Current().Version; got != uint64(publishes) {
			t.Fatalf("final version: got %d, want %d", got, publishes)
		}
	})
}

func TestPublishedCurrentBeforePublish(t *testing.T) {
	var p snapshot.Published
	if s := p.Current(); s != nil {
		t.Fatalf("expected nil snapshot before first publish, got %+v", s)
	}
}

func TestWithContextsLeavesOriginalUntouched(t *testing.T) {
	orig := coherentSnapshot(3, 2)
	replaced := []snapshot.CodeContext{orig.CodeContexts[0], orig.CodeContexts[1]}
	replaced[1].Code = "changed"

	next := orig.WithContexts(replaced)

	if orig.CodeContexts[1].Code != "3" {
		t.Errorf("original snapshot mutated: code %q", orig.CodeContexts[1].Code)
	}
	if next.CodeContexts[1].Code != "changed" {
		t.Errorf("new snapshot code: got %q, want %q", next.CodeContexts[1].Code, "changed")
	}
	if next.SessionID != orig.SessionID || next.Version != orig.Version {
		t.Errorf("metadata not carried over: got %s/%d", next.SessionID, next.Version)
	}
	if &next.ChatMessages[0] != &orig.ChatMessages[0] {
		t.Error("chat messages should be shared, not copied")
	}
}

func TestValidateRejectsBadContexts(t *testing.T) {
	cases := map[string]snapshot.CodeContext{
		"empty uri":      {URI: "", StartLine: 0, EndLine: 1},
		"negative start": {URI: "file:///a", StartLine: -1, EndLine: 1},
		"inverted range": {URI: "file:///a", StartLine: 4, EndLine: 2},
		"bad timestamp":  {URI: "file:///a", StartLine: 0, EndLine: 1, LastModified: "yesterday"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			s := &snapshot.Snapshot{
				SessionID:    "s",
				Limits:       snapshot.Limits{MaxTokens: 10},
				CodeContexts: []snapshot.CodeContext{c},
			}
			if err := s.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
