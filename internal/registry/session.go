package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrcbz/dvr/internal/proc"
)

// State is the position of a session in its lifecycle. Transitions only
// move forward; a finished user gets a brand-new session, never a reused
// one.
type State int

const (
	Capturing State = iota
	CaptureFailed
	Transcoding
	TranscodeFailed
	Uploading
	UploadFailed
	Done
)

func (s State) String() string {
	switch s {
	case Capturing:
		return "capturing"
	case CaptureFailed:
		return "capture_failed"
	case Transcoding:
		return "transcoding"
	case TranscodeFailed:
		return "transcode_failed"
	case Uploading:
		return "uploading"
	case UploadFailed:
		return "upload_failed"
	case Done:
		return "done"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case CaptureFailed, TranscodeFailed, UploadFailed, Done:
		return true
	}
	return false
}

// Session is the full lifecycle of one triggered recording. The handle
// is exclusively owned by the session; pipeline stages own the session
// one at a time.
type Session struct {
	ID        string
	User      string
	Filename  string
	StartTime time.Time

	mu       sync.Mutex
	handle   proc.Handle
	state    State
	terminal chan struct{}
}

// NewSession derives the session filename from user and start instant.
// Sub-second precision keeps filenames collision-resistant across
// restarts within the same second.
func NewSession(user string, start time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		User:      user,
		Filename:  Filename(user, start),
		StartTime: start,
		state:     Capturing,
		terminal:  make(chan struct{}),
	}
}

var filenameSafe = strings.NewReplacer(":", "-", ".", "-")

// Filename is {user}-{RFC3339 UTC timestamp with millisecond precision,
// ':' and '.' replaced by '-'}.ts, e.g. alice-2026-01-02T15-04-05-123Z.ts.
func Filename(user string, start time.Time) string {
	ts := start.UTC().Format("2006-01-02T15:04:05.000")
	return user + "-" + filenameSafe.Replace(ts) + "Z.ts"
}

// SetHandle attaches the spawned capture process. Called exactly once,
// between registry insertion and the first snapshot that needs a pid.
func (s *Session) SetHandle(h proc.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
}

func (s *Session) Handle() proc.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// SetState advances the lifecycle. Backward transitions are ignored:
// state only moves forward.
func (s *Session) SetState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next <= s.state {
		return
	}
	s.state = next
	if next.Terminal() {
		close(s.terminal)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Terminal is closed once the session reaches a terminal state.
func (s *Session) Terminal() <-chan struct{} {
	return s.terminal
}

// Snapshot is the externally visible view of an active session.
type Snapshot struct {
	User      string
	Filename  string
	StartTime time.Time
	PID       int
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		User:      s.User,
		Filename:  s.Filename,
		StartTime: s.StartTime,
	}
	if h := s.Handle(); h != nil {
		snap.PID = h.PID()
	}
	return snap
}

// Duration is the whole seconds elapsed since capture start, computed
// fresh for every query.
func (s Snapshot) Duration(now time.Time) int {
	return int(now.Sub(s.StartTime) / time.Second)
}
