// Package memory implements in-memory repositories for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"healthmate/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	readings []domain.BMIReading
	users    []*domain.User
	sessions map[string]*domain.Session
	kv       map[string]string

	readingIDCounter int64
	userIDCounter    int64
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		sessions: make(map[string]*domain.Session),
		kv:       make(map[string]string),
	}
}

// Ensure interfaces are met.
var _ domain.BMIRepository = (*DB)(nil)
var _ domain.UserRepository = (*DB)(nil)
var _ domain.KeyValueStore = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)

// --- BMIRepository ---

// AddBMIReading stores a reading and returns its ID.
func (db *DB) AddBMIReading(ctx context.Context, r domain.BMIReading) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.readingIDCounter++
	r.ID = db.readingIDCounter
	r.CreatedAt = r.CreatedAt.UTC()
	db.readings = append(db.readings, r)
	return r.ID, nil
}

// DeleteLatestBMIReading deletes the user's most recent reading.
func (db *DB) DeleteLatestBMIReading(ctx context.Context, userID int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	lastIdx := -1
	for i, r := range db.readings {
		if r.UserID != userID {
			continue
		}
		if lastIdx == -1 || r.CreatedAt.After(db.readings[lastIdx].CreatedAt) {
			lastIdx = i
		}
	}
	if lastIdx == -1 {
		return false, nil
	}
	db.readings = append(db.readings[:lastIdx], db.readings[lastIdx+1:]...)
	return true, nil
}

// ListRecentBMIReadings lists the user's readings, newest first.
func (db *DB) ListRecentBMIReadings(ctx context.Context, userID int64, limit int) ([]domain.BMIReading, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.BMIReading, 0, len(db.readings))
	for _, r := range db.readings {
		if r.UserID == userID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// LatestBMIForLocalDay returns the user's latest reading on the given day.
func (db *DB) LatestBMIForLocalDay(ctx context.Context, userID int64, localDay string) (*domain.BMIReading, error) {
	dayStart, err := time.ParseInLocation("2006-01-02", localDay, time.Local)
	if err != nil {
		return nil, err
	}
	dayEnd := dayStart.AddDate(0, 0, 1)

	db.mu.Lock()
	defer db.mu.Unlock()

	var latest *domain.BMIReading
	for i := range db.readings {
		r := &db.readings[i]
		if r.UserID != userID || r.CreatedAt.Before(dayStart) || !r.CreatedAt.Before(dayEnd) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	ret := *latest
	return &ret, nil
}

// --- KeyValueStore ---

// Get returns the value stored under key.
func (db *DB) Get(ctx context.Context, key string) (string, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.kv[key]
	return v, ok, nil
}

// Set stores value under key.
func (db *DB) Set(ctx context.Context, key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.kv[key] = value
	return nil
}

// --- UserRepository ---

// GetByUsername retrieves a user by username.
func (db *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, nil
}

// GetByID retrieves a user by ID.
func (db *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

// Create creates a new user.
func (db *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, domain.ErrUserExists
		}
	}

	db.userIDCounter++
	u := &domain.User{
		ID:           db.userIDCounter,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.users = append(db.users, u)
	return u, nil
}

// Count returns the total number of users.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, userID int64, token, userAgent, ip string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.sessions[token] = &domain.Session{
		Token:     token,
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetByToken retrieves a session by token. Expired sessions are returned
// so the caller can report them as such.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if s, ok := r.db.sessions[token]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	for k, v := range r.db.sessions {
		if now.After(v.ExpiresAt) {
			delete(r.db.sessions, k)
		}
	}
	return nil
}
