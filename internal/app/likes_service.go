package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"healthmate/internal/domain"
)

// Storage keys for the persisted like sets.
const (
	LikedQuestionsKey = "likedQuestions"
	LikedAnswersKey   = "likedAnswers"
)

// corruptSuffix names the key a corrupt set is moved to before it is
// replaced.
const corruptSuffix = ".corrupt"

// ErrLedgerUnavailable is returned by toggles when the stored set cannot be
// read, so the toggle is refused instead of overwriting likes it never saw.
var ErrLedgerUnavailable = errors.New("like ledger unavailable")

var errCorruptLedger = errors.New("corrupt like set")

// PersistenceError reports that a like set could not be written back.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ToggleResult describes the state of an item after a toggle.
type ToggleResult struct {
	Liked     bool `json:"liked"`
	Delta     int  `json:"delta"`
	Persisted bool `json:"persisted"`
}

// LikeStoreOptions configures a LikeStore.
type LikeStoreOptions struct {
	Overlay domain.OverlayMode
	// RollbackOnPersistError reports the pre-toggle state when the write
	// fails instead of keeping the optimistic result.
	RollbackOnPersistError bool
	// OnPersistError is called for every failed write.
	OnPersistError func(ctx context.Context, owner int64, err *PersistenceError)
	Logger         *zap.Logger
}

// LikeStore is the ledger of forum likes per owner, backed by a
// key-value store.
type LikeStore struct {
	kv   domain.KeyValueStore
	opts LikeStoreOptions
	log  *zap.Logger

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLikeStore creates a LikeStore backed by kv.
func NewLikeStore(kv domain.KeyValueStore, opts LikeStoreOptions) *LikeStore {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &LikeStore{
		kv:    kv,
		opts:  opts,
		log:   log.Named("likes"),
		locks: make(map[string]*keyLock),
	}
}

// Overlay returns the configured overlay mode.
func (s *LikeStore) Overlay() domain.OverlayMode {
	return s.opts.Overlay
}

// RollbackOnPersistError reports whether failed writes undo the toggle.
func (s *LikeStore) RollbackOnPersistError() bool {
	return s.opts.RollbackOnPersistError
}

func storageKey(owner int64, name string) string {
	return fmt.Sprintf("u/%d/%s", owner, name)
}

// LoadLikedQuestions returns the persisted question set. Missing, corrupt
// or unreadable state yields an empty set.
func (s *LikeStore) LoadLikedQuestions(ctx context.Context, owner int64) domain.LikedQuestionSet {
	set := domain.NewLikedQuestionSet()
	s.load(ctx, storageKey(owner, LikedQuestionsKey), decodeQuestions(&set))
	return set
}

// LoadLikedAnswers returns the persisted answer set. Missing, corrupt or
// unreadable state yields an empty set.
func (s *LikeStore) LoadLikedAnswers(ctx context.Context, owner int64) domain.LikedAnswerSet {
	set := domain.NewLikedAnswerSet()
	s.load(ctx, storageKey(owner, LikedAnswersKey), decodeAnswers(&set))
	return set
}

// decodeFunc fills its target only when the blob is a readable set and
// returns the entries it had to skip.
type decodeFunc func(raw []byte) (skipped []string, err error)

func decodeQuestions(dst *domain.LikedQuestionSet) decodeFunc {
	return func(raw []byte) ([]string, error) {
		set, skipped, err := domain.ParseLikedQuestions(raw)
		if err == nil {
			*dst = set
		}
		return skipped, err
	}
}

func decodeAnswers(dst *domain.LikedAnswerSet) decodeFunc {
	return func(raw []byte) ([]string, error) {
		set, skipped, err := domain.ParseLikedAnswers(raw)
		if err == nil {
			*dst = set
		}
		return skipped, err
	}
}

func (s *LikeStore) load(ctx context.Context, key string, decode decodeFunc) {
	if _, err := s.read(ctx, key, decode); err != nil {
		s.log.Warn("like set unreadable, treating as empty", zap.String("key", key), zap.Error(err))
	}
}

// read decodes the set stored at key. A missing key leaves the target
// empty. On a corrupt blob the raw value is returned with the error.
func (s *LikeStore) read(ctx context.Context, key string, decode decodeFunc) (string, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w: %w", key, ErrLedgerUnavailable, err)
	}
	if !ok || raw == "" {
		return "", nil
	}
	skipped, err := decode([]byte(raw))
	if err != nil {
		return raw, fmt.Errorf("decode %s: %w: %w", key, errCorruptLedger, err)
	}
	if len(skipped) > 0 {
		s.log.Warn("dropped unreadable like entries", zap.String("key", key), zap.Strings("entries", skipped))
	}
	return raw, nil
}

// readForUpdate is read for toggles. A read failure is returned so the set
// is never rewritten from a partial view. A corrupt blob is copied to
// key+".corrupt" before the toggle starts from an empty set.
func (s *LikeStore) readForUpdate(ctx context.Context, key string, decode decodeFunc) error {
	raw, err := s.read(ctx, key, decode)
	if !errors.Is(err, errCorruptLedger) {
		return err
	}
	backup := key + corruptSuffix
	s.log.Warn("corrupt like set, moving aside", zap.String("key", key), zap.String("backup", backup), zap.Error(err))
	if err := s.kv.Set(ctx, backup, raw); err != nil {
		return fmt.Errorf("back up %s: %w: %w", key, ErrLedgerUnavailable, err)
	}
	return nil
}

func (s *LikeStore) persist(ctx context.Context, owner int64, key string, v json.Marshaler) *PersistenceError {
	b, err := v.MarshalJSON()
	if err == nil {
		err = s.kv.Set(ctx, key, string(b))
	}
	if err == nil {
		return nil
	}
	perr := &PersistenceError{Key: key, Err: err}
	s.log.Error("persist failed", zap.String("key", key), zap.Error(err))
	if s.opts.OnPersistError != nil {
		s.opts.OnPersistError(ctx, owner, perr)
	}
	return perr
}

// lock serializes read-modify-write cycles on one storage key.
func (s *LikeStore) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// ToggleQuestion flips the like state of a question for owner and persists
// the new set. On a write failure the toggled result is still returned
// alongside a *PersistenceError, unless rollback is configured. When the
// current set cannot be read nothing is written and the error wraps
// ErrLedgerUnavailable.
func (s *LikeStore) ToggleQuestion(ctx context.Context, owner, questionID int64) (ToggleResult, error) {
	key := storageKey(owner, LikedQuestionsKey)
	unlock := s.lock(key)
	defer unlock()

	current := domain.NewLikedQuestionSet()
	if err := s.readForUpdate(ctx, key, decodeQuestions(&current)); err != nil {
		return ToggleResult{}, err
	}
	next, delta := domain.ToggleQuestionLike(current, questionID)
	res := ToggleResult{Liked: next.Has(questionID), Delta: delta, Persisted: true}
	if perr := s.persist(ctx, owner, key, next); perr != nil {
		return s.failed(res, perr)
	}
	return res, nil
}

// ToggleAnswer flips the like state of an answer scoped to its question.
func (s *LikeStore) ToggleAnswer(ctx context.Context, owner, questionID, answerID int64) (ToggleResult, error) {
	key := storageKey(owner, LikedAnswersKey)
	unlock := s.lock(key)
	defer unlock()

	current := domain.NewLikedAnswerSet()
	if err := s.readForUpdate(ctx, key, decodeAnswers(&current)); err != nil {
		return ToggleResult{}, err
	}
	next, delta := domain.ToggleAnswerLike(current, questionID, answerID)
	res := ToggleResult{Liked: next.Has(questionID, answerID), Delta: delta, Persisted: true}
	if perr := s.persist(ctx, owner, key, next); perr != nil {
		return s.failed(res, perr)
	}
	return res, nil
}

func (s *LikeStore) failed(res ToggleResult, perr *PersistenceError) (ToggleResult, error) {
	res.Persisted = false
	if s.opts.RollbackOnPersistError {
		res.Liked = !res.Liked
		res.Delta = 0
	}
	return res, perr
}

// Reconcile overlays owner's persisted likes onto a server payload.
func (s *LikeStore) Reconcile(ctx context.Context, owner int64, questions []domain.Question) []domain.ReconciledQuestion {
	return domain.Reconcile(questions,
		s.LoadLikedQuestions(ctx, owner),
		s.LoadLikedAnswers(ctx, owner),
		s.opts.Overlay)
}
