// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/desertthunder/tidewatch/internal/services"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// NewTestDB creates an in-memory SQLite database with migrations applied
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

// MockSource is a test double for [services.PlaylistSource]
type MockSource struct {
	mu         sync.Mutex
	Playlists  map[string]services.Playlist
	Tracks     map[string][]services.Track
	FetchErr   map[string]error
	FetchCalls int
}

func NewMockSource() *MockSource {
	return &MockSource{
		Playlists: make(map[string]services.Playlist),
		Tracks:    make(map[string][]services.Track),
		FetchErr:  make(map[string]error),
	}
}

func (m *MockSource) GetPlaylist(_ context.Context, playlistID string) (*services.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FetchErr[playlistID]; ok && err != nil {
		return nil, err
	}
	if pl, ok := m.Playlists[playlistID]; ok {
		return &pl, nil
	}
	return nil, shared.ErrPlaylistNotFound
}

func (m *MockSource) FetchTracks(_ context.Context, playlistID string) ([]services.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls++
	if err, ok := m.FetchErr[playlistID]; ok && err != nil {
		return nil, err
	}
	return m.Tracks[playlistID], nil
}

func (m *MockSource) Name() string { return "mock" }

// SetTracks replaces the scripted track list for a playlist
func (m *MockSource) SetTracks(playlistID string, tracks []services.Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tracks[playlistID] = tracks
}

// MockExecutor is a test double for [services.DownloadExecutor]
// with scripted per-track outcomes consumed one per call.
type MockExecutor struct {
	mu       sync.Mutex
	Outcomes map[string][]error
	Default  error
	Calls    []string
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{Outcomes: make(map[string][]error)}
}

func (m *MockExecutor) Download(_ context.Context, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, trackID)

	if queue, ok := m.Outcomes[trackID]; ok && len(queue) > 0 {
		err := queue[0]
		m.Outcomes[trackID] = queue[1:]
		return err
	}
	return m.Default
}

func (m *MockExecutor) Name() string { return "mock-executor" }

// CallCount returns the number of attempts made for a track
func (m *MockExecutor) CallCount(trackID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, id := range m.Calls {
		if id == trackID {
			count++
		}
	}
	return count
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockSink records delivered events and optionally fails delivery
type MockSink struct {
	mu     sync.Mutex
	Events []services.Event
	Err    error
}

func (m *MockSink) Notify(_ context.Context, event services.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events = append(m.Events, event)
	return m.Err
}

// Kinds returns the kinds of all recorded events in order
func (m *MockSink) Kinds() []services.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make([]services.EventKind, len(m.Events))
	for i, e := range m.Events {
		kinds[i] = e.Kind
	}
	return kinds
}
