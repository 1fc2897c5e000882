package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"carexpert/client/domain"
	"carexpert/client/service"
	commonlog "carexpert/common/log"
)

const profileFile = "auth.json"

// Store holds the authenticated user for this process and persists the
// profile to the state directory so a restart resumes the session.
type Store struct {
	api      *service.APIClient
	stateDir string

	mu        sync.Mutex
	user      *domain.User
	expiredAt time.Time
}

func NewStore(api *service.APIClient, stateDir string) *Store {
	return &Store{api: api, stateDir: stateDir}
}

// Restore loads a previously persisted profile, if any. A missing or
// unreadable profile file just leaves the store logged out.
func (s *Store) Restore() {
	raw, err := os.ReadFile(filepath.Join(s.stateDir, profileFile))
	if err != nil {
		return
	}
	var p profile
	if err := json.Unmarshal(raw, &p); err != nil {
		commonlog.Warnf("event=session action=restore status=failed error=%v", err)
		return
	}
	if p.Token == "" || p.User.ID == "" {
		return
	}
	s.api.SetToken(p.Token)
	s.mu.Lock()
	s.user = &p.User
	s.mu.Unlock()
	commonlog.Infof("event=session action=restore status=success user_id=%s", p.User.ID)
}

type profile struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// Login authenticates against the API and installs the resulting session.
func (s *Store) Login(ctx context.Context, identifier, password string) (*domain.User, error) {
	user, token, err := s.api.Login(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("login response missing token")
	}
	s.api.SetToken(token)
	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	s.persist(profile{Token: token, User: user})
	commonlog.Infof("event=session action=login status=success user_id=%s", user.ID)
	u := user
	return &u, nil
}

func (s *Store) persist(p profile) {
	if s.stateDir == "" {
		return
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(s.stateDir, profileFile)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		commonlog.Warnf("event=session action=persist status=failed path=%s error=%v", path, err)
	}
}

// CurrentUser returns the logged-in user, or nil.
func (s *Store) CurrentUser() *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Clear drops the session. It reports whether there was a session to drop,
// which lets teardown run at most once no matter how many expiry signals
// arrive.
func (s *Store) Clear() bool {
	s.mu.Lock()
	had := s.user != nil
	s.user = nil
	if had {
		s.expiredAt = time.Now()
	}
	s.mu.Unlock()
	if !had {
		return false
	}
	s.api.SetToken("")
	if s.stateDir != "" {
		_ = os.Remove(filepath.Join(s.stateDir, profileFile))
	}
	return true
}

// ExpiredAt reports when the last session ended, zero if none has.
func (s *Store) ExpiredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiredAt
}
