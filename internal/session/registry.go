package session

import (
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/antonkrylov/pilotty/internal/protocol"
)

const (
	// DefaultMaxSessions caps concurrent sessions.
	DefaultMaxSessions = 100

	// sweepInterval is how often the sweeper looks for defunct sessions.
	// Defunct sessions disappear from the registry within 500ms.
	sweepInterval = 250 * time.Millisecond

	// DefaultName is assigned to the first spawn without a name.
	DefaultName = "default"
)

// nameRe validates session names: alphanumeric plus '-' and '_', not
// starting with a hyphen (which would read as an option on a command
// line). Path separators, dots, and control bytes never match.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]{0,63}$`)

// ValidateName rejects names outside the safe alphabet.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return protocol.ErrInvalidArg(
			"invalid session name "+quoteName(name),
			"Names use letters, digits, '-' and '_' only, and must not start with '-'.")
	}
	return nil
}

func quoteName(name string) string {
	if len(name) > 64 {
		name = name[:64]
	}
	out := make([]rune, 0, len(name)+2)
	out = append(out, '\'')
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			r = '?'
		}
		out = append(out, r)
	}
	return string(append(out, '\''))
}

// Registry is the thread-safe map of live sessions, keyed by both name
// and id. A background sweeper removes defunct sessions; the idle
// callback fires from the daemon's idle monitor, not from here.
type Registry struct {
	mu       sync.Mutex
	byName   map[string]*Session
	byID     map[string]*Session
	lastUsed string // session id of the most recently targeted session

	maxSessions int
	opts        Options
	logger      *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates an empty registry and starts its sweeper.
func NewRegistry(maxSessions int, opts Options, logger *slog.Logger) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	r := &Registry{
		byName:      make(map[string]*Session),
		byID:        make(map[string]*Session),
		maxSessions: maxSessions,
		opts:        opts,
		logger:      logger,
		stop:        make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Create spawns a session and registers it. An empty name becomes
// DefaultName. Insertion is atomic against name collisions.
func (r *Registry) Create(name string, argv []string, cwd string, env map[string]string, cols, rows uint16) (*Session, error) {
	if name == "" {
		name = DefaultName
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	// Check the name before paying for the spawn, then re-check under
	// the lock at insert time.
	r.mu.Lock()
	if _, ok := r.byName[name]; ok {
		r.mu.Unlock()
		return nil, protocol.ErrSessionExists(name)
	}
	if len(r.byName) >= r.maxSessions {
		r.mu.Unlock()
		return nil, protocol.ErrInvalidArg(
			"maximum session limit reached",
			"Kill an existing session with 'pilotty kill' before creating a new one.")
	}
	r.mu.Unlock()

	s, err := Spawn(name, argv, cwd, env, cols, rows, r.opts, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		go func() {
			s.Kill()
			s.Close()
		}()
		return nil, protocol.ErrSessionExists(name)
	}
	r.byName[name] = s
	r.byID[s.ID] = s
	r.lastUsed = s.ID
	return s, nil
}

// Resolve finds a session by name or id. An empty target resolves to the
// last-used session, falling back to DefaultName.
func (r *Registry) Resolve(target string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target == "" {
		if s, ok := r.byID[r.lastUsed]; ok {
			return s, nil
		}
		if s, ok := r.byName[DefaultName]; ok {
			r.lastUsed = s.ID
			return s, nil
		}
		return nil, protocol.ErrSessionNotFound("", r.namesLocked())
	}
	if s, ok := r.byName[target]; ok {
		r.lastUsed = s.ID
		return s, nil
	}
	if s, ok := r.byID[target]; ok {
		r.lastUsed = s.ID
		return s, nil
	}
	return nil, protocol.ErrSessionNotFound(target, r.namesLocked())
}

// Remove unregisters a session without killing it.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(s)
}

func (r *Registry) removeLocked(s *Session) {
	if cur, ok := r.byName[s.Name]; ok && cur.ID == s.ID {
		delete(r.byName, s.Name)
	}
	delete(r.byID, s.ID)
	if r.lastUsed == s.ID {
		r.lastUsed = ""
	}
}

// List returns the live sessions sorted by name.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the live session names sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether no sessions exist.
func (r *Registry) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName) == 0
}

// KillAll terminates every session; used during daemon shutdown.
func (r *Registry) KillAll() {
	for _, s := range r.List() {
		s.Kill()
		r.Remove(s)
		s.Close()
	}
}

// Stop halts the sweeper.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// sweep removes defunct sessions shortly after their child exits, so
// list_sessions only ever shows live sessions and idle shutdown can fire.
func (r *Registry) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		var dead []*Session
		r.mu.Lock()
		for _, s := range r.byID {
			if s.IsDefunct() {
				dead = append(dead, s)
			}
		}
		for _, s := range dead {
			r.removeLocked(s)
		}
		r.mu.Unlock()

		for _, s := range dead {
			s.Close()
			r.logger.Info("swept defunct session",
				"session", s.Name,
				"id", s.ID,
				"status", s.ExitStatus(),
				"idle", time.Since(s.LastActivity()).Round(time.Millisecond))
		}
	}
}
