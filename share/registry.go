// Copyright 2026 The Peerdrop Authors
// SPDX-License-Identifier: Apache-2.0

package share

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/peerdrop/peerdrop/lib/clock"
	"github.com/peerdrop/peerdrop/lib/schema/signal"
)

var (
	ErrNotFound     = errors.New("share not found")
	ErrPasscode     = errors.New("wrong passcode")
	ErrGuestPresent = errors.New("a guest is already connected")
	ErrNoGuest      = errors.New("no guest connected")
	ErrRateLimited  = errors.New("too many join attempts")
	ErrNotParty     = errors.New("not a party to this share")
)

// Config holds Registry settings. Zero fields take defaults.
type Config struct {
	// JoinBurst and JoinInterval bound join attempts per token.
	// Defaults 5 and 2s.
	JoinBurst    int
	JoinInterval time.Duration

	// PasscodeCost is the bcrypt cost. Default bcrypt.DefaultCost.
	PasscodeCost int

	// Alive reports whether a connection is still open. Required.
	Alive func(connID uint64) bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is a snapshot of one share session.
type Session struct {
	Token        string
	Files        []signal.FileMeta
	GuestPresent bool
	Sharer       uint64
	Guest        uint64
}

type session struct {
	token        string
	passcodeHash []byte
	files        []signal.FileMeta
	guestPresent bool
	sharer       uint64
	guest        uint64
	joins        *rate.Limiter
}

func (s *session) snapshot() Session {
	return Session{
		Token:        s.token,
		Files:        slices.Clone(s.files),
		GuestPresent: s.guestPresent,
		Sharer:       s.sharer,
		Guest:        s.guest,
	}
}

// Registry holds every share session of one edge.
type Registry struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewRegistry(config Config) *Registry {
	if config.JoinBurst <= 0 {
		config.JoinBurst = 5
	}
	if config.JoinInterval <= 0 {
		config.JoinInterval = 2 * time.Second
	}
	if config.PasscodeCost == 0 {
		config.PasscodeCost = bcrypt.DefaultCost
	}
	if config.Alive == nil {
		config.Alive = func(uint64) bool { return true }
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		config:   config,
		logger:   config.Logger,
		sessions: make(map[string]*session),
	}
}

// Create opens a session owned by sharer and returns its token.
func (r *Registry) Create(passcode string, files []signal.FileMeta, sharer uint64) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), r.config.PasscodeCost)
	if err != nil {
		return "", fmt.Errorf("hashing passcode: %w", err)
	}
	s := &session{
		token:        uuid.NewString(),
		passcodeHash: hash,
		files:        slices.Clone(files),
		sharer:       sharer,
		joins:        rate.NewLimiter(rate.Every(r.config.JoinInterval), r.config.JoinBurst),
	}

	r.mu.Lock()
	r.sessions[s.token] = s
	r.mu.Unlock()

	r.logger.Info("share session created", "token", s.token, "files", len(files), "conn_id", sharer)
	return s.token, nil
}

// Join admits guest if passcode matches and nobody else has joined.
// On any error the session is unchanged.
func (r *Registry) Join(token, passcode string, guest uint64) (Session, error) {
	r.mu.Lock()
	s := r.sessions[token]
	if s == nil {
		r.mu.Unlock()
		return Session{}, ErrNotFound
	}
	if !s.joins.AllowN(r.config.Clock.Now(), 1) {
		r.mu.Unlock()
		r.logger.Warn("share join rate limited", "token", token, "conn_id", guest)
		return Session{}, ErrRateLimited
	}
	if s.guestPresent {
		r.mu.Unlock()
		return Session{}, ErrGuestPresent
	}
	hash := s.passcodeHash
	r.mu.Unlock()

	// bcrypt is slow; compare without holding the lock.
	if bcrypt.CompareHashAndPassword(hash, []byte(passcode)) != nil {
		r.logger.Info("share join refused", "token", token, "conn_id", guest)
		return Session{}, ErrPasscode
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s = r.sessions[token]
	if s == nil {
		return Session{}, ErrNotFound
	}
	if s.guestPresent {
		return Session{}, ErrGuestPresent
	}
	s.guestPresent = true
	s.guest = guest
	r.logger.Info("share guest joined", "token", token, "conn_id", guest)
	return s.snapshot(), nil
}

// Status reports whether a guest is present. A poll from anyone other
// than the sharer or guest is refused while the sharer's connection
// is alive; once it is gone the poller becomes the sharer.
func (r *Registry) Status(token string, conn uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[token]
	if s == nil {
		return false, ErrNotFound
	}
	switch {
	case conn == s.sharer, s.guestPresent && conn == s.guest:
	case !r.config.Alive(s.sharer):
		r.logger.Info("share sharer rebound", "token", token, "from", s.sharer, "to", conn)
		s.sharer = conn
	default:
		return false, ErrNotParty
	}
	return s.guestPresent, nil
}

// Route returns the connection a share-signal from conn is for.
func (r *Registry) Route(token string, conn uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[token]
	if s == nil {
		return 0, ErrNotFound
	}
	switch {
	case conn == s.sharer:
		if !s.guestPresent {
			return 0, ErrNoGuest
		}
		return s.guest, nil
	case s.guestPresent && conn == s.guest:
		return s.sharer, nil
	default:
		return 0, ErrNotParty
	}
}

// Close destroys a session. Only its sharer or guest may close it. The
// returned snapshot names the connections to tell.
func (r *Registry) Close(token string, conn uint64) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[token]
	if s == nil {
		return Session{}, ErrNotFound
	}
	if conn != s.sharer && !(s.guestPresent && conn == s.guest) {
		return Session{}, ErrNotParty
	}
	delete(r.sessions, token)
	r.logger.Info("share session closed", "token", token, "conn_id", conn)
	return s.snapshot(), nil
}

// Lookup returns a snapshot of a session.
func (r *Registry) Lookup(token string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[token]
	if s == nil {
		return Session{}, false
	}
	return s.snapshot(), true
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
