package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"healthmate/internal/app"
	"healthmate/internal/domain"
)

type mockKV struct {
	getFn func(ctx context.Context, key string) (string, bool, error)
	setFn func(ctx context.Context, key, value string) error
}

func (m *mockKV) Get(ctx context.Context, key string) (string, bool, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return "", false, nil
}

func (m *mockKV) Set(ctx context.Context, key, value string) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	return nil
}

// mapKV is a minimal working store for multi-step scenarios.
type mapKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapKV() *mapKV { return &mapKV{data: make(map[string]string)} }

func (m *mapKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapKV) value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key]
}

func TestLikeStore_LoadMissingIsEmpty(t *testing.T) {
	s := app.NewLikeStore(&mockKV{}, app.LikeStoreOptions{})
	if q := s.LoadLikedQuestions(context.Background(), 1); len(q) != 0 {
		t.Errorf("expected empty question set, got %v", q.Sorted())
	}
	if a := s.LoadLikedAnswers(context.Background(), 1); len(a) != 0 {
		t.Errorf("expected empty answer set, got %v", a.Sorted())
	}
}

func TestLikeStore_LoadFailsOpen(t *testing.T) {
	tests := []struct {
		name string
		kv   *mockKV
	}{
		{"storage unavailable", &mockKV{getFn: func(context.Context, string) (string, bool, error) {
			return "", false, errors.New("storage unavailable")
		}}},
		{"corrupt blob", &mockKV{getFn: func(context.Context, string) (string, bool, error) {
			return "{not json", true, nil
		}}},
		{"wrong shape", &mockKV{getFn: func(context.Context, string) (string, bool, error) {
			return `{"a":1}`, true, nil
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			s := app.NewLikeStore(tc.kv, app.LikeStoreOptions{Logger: zap.New(core)})

			if q := s.LoadLikedQuestions(context.Background(), 1); len(q) != 0 {
				t.Errorf("expected empty set, got %v", q.Sorted())
			}
			if a := s.LoadLikedAnswers(context.Background(), 1); len(a) != 0 {
				t.Errorf("expected empty set, got %v", a.Sorted())
			}
			if logs.Len() != 2 {
				t.Errorf("expected 2 warnings, got %d", logs.Len())
			}
		})
	}
}

func TestLikeStore_LoadReadsOwnerKey(t *testing.T) {
	kv := &mockKV{getFn: func(_ context.Context, key string) (string, bool, error) {
		switch key {
		case "u/7/likedQuestions":
			return "[3,5]", true, nil
		case "u/7/likedAnswers":
			return `["3_1"]`, true, nil
		}
		return "", false, nil
	}}
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})

	q := s.LoadLikedQuestions(context.Background(), 7)
	if !q.Has(3) || !q.Has(5) || len(q) != 2 {
		t.Errorf("unexpected questions %v", q.Sorted())
	}
	a := s.LoadLikedAnswers(context.Background(), 7)
	if !a.Has(3, 1) || len(a) != 1 {
		t.Errorf("unexpected answers %v", a.Sorted())
	}
	if other := s.LoadLikedQuestions(context.Background(), 8); len(other) != 0 {
		t.Errorf("owner 8 sees owner 7's likes: %v", other.Sorted())
	}
}

func TestLikeStore_ToggleQuestion(t *testing.T) {
	kv := newMapKV()
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})
	ctx := context.Background()

	res, err := s.ToggleQuestion(ctx, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Liked || res.Delta != 1 || !res.Persisted {
		t.Errorf("first toggle: %+v", res)
	}
	if got := kv.value("u/1/likedQuestions"); got != "[7]" {
		t.Errorf("persisted %q", got)
	}

	res, err = s.ToggleQuestion(ctx, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Liked || res.Delta != -1 {
		t.Errorf("second toggle: %+v", res)
	}
	if got := kv.value("u/1/likedQuestions"); got != "[]" {
		t.Errorf("persisted %q", got)
	}
}

func TestLikeStore_ToggleAnswer(t *testing.T) {
	kv := newMapKV()
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})
	ctx := context.Background()

	if _, err := s.ToggleAnswer(ctx, 1, 10, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `[{"questionId":10,"answerId":1}]`
	if got := kv.value("u/1/likedAnswers"); got != want {
		t.Errorf("persisted %q; want %q", got, want)
	}

	res, err := s.ToggleAnswer(ctx, 1, 20, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Liked || res.Delta != 1 {
		t.Errorf("answer 1 under question 20 should toggle independently: %+v", res)
	}
	a := s.LoadLikedAnswers(ctx, 1)
	if !a.Has(10, 1) || !a.Has(20, 1) {
		t.Errorf("unexpected answers %v", a.Sorted())
	}
}

func TestLikeStore_PersistErrorIsOptimistic(t *testing.T) {
	var hooked *app.PersistenceError
	kv := &mockKV{setFn: func(context.Context, string, string) error { return errors.New("disk full") }}
	s := app.NewLikeStore(kv, app.LikeStoreOptions{
		OnPersistError: func(_ context.Context, owner int64, err *app.PersistenceError) {
			if owner != 3 {
				t.Errorf("hook got owner %d", owner)
			}
			hooked = err
		},
	})

	res, err := s.ToggleQuestion(context.Background(), 3, 9)
	var perr *app.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.Key != "u/3/likedQuestions" {
		t.Errorf("unexpected key %q", perr.Key)
	}
	if !res.Liked || res.Delta != 1 || res.Persisted {
		t.Errorf("expected optimistic unpersisted like, got %+v", res)
	}
	if hooked == nil {
		t.Error("OnPersistError was not called")
	}
}

func TestLikeStore_PersistErrorRollback(t *testing.T) {
	kv := &mockKV{setFn: func(context.Context, string, string) error { return errors.New("disk full") }}
	s := app.NewLikeStore(kv, app.LikeStoreOptions{RollbackOnPersistError: true})

	res, err := s.ToggleAnswer(context.Background(), 1, 10, 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Liked || res.Delta != 0 || res.Persisted {
		t.Errorf("expected rolled back state, got %+v", res)
	}
}

func TestLikeStore_ReconcileScenario(t *testing.T) {
	kv := newMapKV()
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})
	ctx := context.Background()
	const owner = 42

	payload := []domain.Question{
		{ID: 1, Title: "first", LikesCount: 3},
		{ID: 2, Title: "second", LikesCount: 0},
	}

	view := s.Reconcile(ctx, owner, payload)
	if view[0].LikesCount != 3 || view[1].LikesCount != 0 || view[0].UserHasLiked {
		t.Fatalf("initial view: %+v", view)
	}

	res, err := s.ToggleQuestion(ctx, owner, 1)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := domain.ApplyDelta(view[0].LikesCount, payload[0].LikesCount, res.Delta); got != 4 {
		t.Errorf("displayed count after like = %d; want 4", got)
	}
	view = s.Reconcile(ctx, owner, payload)
	if view[0].LikesCount != 4 || !view[0].UserHasLiked {
		t.Errorf("reconciled after like: %+v", view[0])
	}
	if got := kv.value("u/42/likedQuestions"); got != "[1]" {
		t.Errorf("persisted %q; want [1]", got)
	}

	res, err = s.ToggleQuestion(ctx, owner, 1)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := domain.ApplyDelta(view[0].LikesCount, payload[0].LikesCount, res.Delta); got != 3 {
		t.Errorf("displayed count after unlike = %d; want 3", got)
	}
	view = s.Reconcile(ctx, owner, payload)
	if view[0].LikesCount != 3 || view[0].UserHasLiked {
		t.Errorf("reconciled after unlike: %+v", view[0])
	}
	if q := s.LoadLikedQuestions(ctx, owner); len(q) != 0 {
		t.Errorf("persisted set not empty: %v", q.Sorted())
	}
}

func TestLikeStore_ConcurrentTogglesAreSerialized(t *testing.T) {
	kv := newMapKV()
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})
	ctx := context.Background()

	const n = 51
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ToggleQuestion(ctx, 1, 5); err != nil {
				t.Errorf("toggle: %v", err)
			}
		}()
	}
	wg.Wait()

	// An odd number of serialized flips leaves the question liked.
	if q := s.LoadLikedQuestions(ctx, 1); !q.Has(5) {
		t.Errorf("lost update: final set %v", q.Sorted())
	}
}

func TestLikeStore_OverlayMode(t *testing.T) {
	kv := newMapKV()
	_ = kv.Set(context.Background(), "u/1/likedQuestions", "[1]")
	s := app.NewLikeStore(kv, app.LikeStoreOptions{Overlay: domain.OverlayServerCounted})

	view := s.Reconcile(context.Background(), 1, []domain.Question{{ID: 1, LikesCount: 8}})
	if view[0].LikesCount != 8 || !view[0].UserHasLiked {
		t.Errorf("server-counted overlay: %+v", view[0])
	}
	if s.Overlay() != domain.OverlayServerCounted {
		t.Errorf("Overlay() = %v", s.Overlay())
	}
}

// flakyKV fails the first failGets reads and then serves data.
type flakyKV struct {
	*mapKV
	mu       sync.Mutex
	failGets int
	sets     int
}

func (f *flakyKV) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	fail := f.failGets > 0
	if fail {
		f.failGets--
	}
	f.mu.Unlock()
	if fail {
		return "", false, errors.New("connection reset")
	}
	return f.mapKV.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	return f.mapKV.Set(ctx, key, value)
}

func TestLikeStore_ToggleRefusesOnReadError(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{mapKV: newMapKV(), failGets: 1}
	_ = kv.mapKV.Set(ctx, "u/1/likedQuestions", "[1,2]")
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})

	res, err := s.ToggleQuestion(ctx, 1, 3)
	if !errors.Is(err, app.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if res.Persisted || res.Delta != 0 {
		t.Errorf("expected no change, got %+v", res)
	}
	if kv.sets != 0 {
		t.Errorf("expected no writes, got %d", kv.sets)
	}
	if got := kv.value("u/1/likedQuestions"); got != "[1,2]" {
		t.Errorf("ledger changed to %q", got)
	}

	// Once reads recover, unliking an existing like is a real unlike.
	res, err = s.ToggleQuestion(ctx, 1, 2)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if res.Liked || res.Delta != -1 {
		t.Errorf("expected unlike, got %+v", res)
	}
	if got := kv.value("u/1/likedQuestions"); got != "[1]" {
		t.Errorf("persisted %q; want [1]", got)
	}
}

func TestLikeStore_ToggleAnswerRefusesOnReadError(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{mapKV: newMapKV(), failGets: 1}
	_ = kv.mapKV.Set(ctx, "u/1/likedAnswers", `[{"questionId":10,"answerId":1}]`)
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})

	if _, err := s.ToggleAnswer(ctx, 1, 10, 2); !errors.Is(err, app.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if got := kv.value("u/1/likedAnswers"); got != `[{"questionId":10,"answerId":1}]` {
		t.Errorf("ledger changed to %q", got)
	}
}

func TestLikeStore_ToggleMovesCorruptSetAside(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	_ = kv.Set(ctx, "u/1/likedQuestions", "{not json")
	core, logs := observer.New(zap.WarnLevel)
	s := app.NewLikeStore(kv, app.LikeStoreOptions{Logger: zap.New(core)})

	res, err := s.ToggleQuestion(ctx, 1, 4)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !res.Liked || !res.Persisted {
		t.Errorf("unexpected result %+v", res)
	}
	if got := kv.value("u/1/likedQuestions.corrupt"); got != "{not json" {
		t.Errorf("backup holds %q", got)
	}
	if got := kv.value("u/1/likedQuestions"); got != "[4]" {
		t.Errorf("persisted %q; want [4]", got)
	}
	if logs.FilterMessage("corrupt like set, moving aside").Len() != 1 {
		t.Error("expected the move to be logged")
	}
}

func TestLikeStore_ToggleRefusesWhenBackupFails(t *testing.T) {
	var writes []string
	kv := &mockKV{
		getFn: func(context.Context, string) (string, bool, error) { return "{not json", true, nil },
		setFn: func(_ context.Context, key, _ string) error {
			writes = append(writes, key)
			return errors.New("read-only")
		},
	}
	s := app.NewLikeStore(kv, app.LikeStoreOptions{})

	if _, err := s.ToggleQuestion(context.Background(), 1, 4); !errors.Is(err, app.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if diff := cmp.Diff([]string{"u/1/likedQuestions.corrupt"}, writes); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestLikeStore_ToggleKeepsReadableEntries(t *testing.T) {
	ctx := context.Background()
	kv := newMapKV()
	_ = kv.Set(ctx, "u/1/likedAnswers", `["10_1","abc",{"questionId":20,"answerId":4}]`)
	core, logs := observer.New(zap.WarnLevel)
	s := app.NewLikeStore(kv, app.LikeStoreOptions{Logger: zap.New(core)})

	if _, err := s.ToggleAnswer(ctx, 1, 30, 1); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	a := s.LoadLikedAnswers(ctx, 1)
	if !a.Has(10, 1) || !a.Has(20, 4) || !a.Has(30, 1) || len(a) != 3 {
		t.Errorf("unexpected answers %v", a.Sorted())
	}
	if logs.FilterMessage("dropped unreadable like entries").Len() == 0 {
		t.Error("expected the dropped entry to be logged")
	}
}
