package follow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

type fakeClient struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	started  chan struct{}
	follows  []int64
	unfollow []int64
}

func (f *fakeClient) wait(ctx context.Context) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeClient) Follow(ctx context.Context, id int64) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follows = append(f.follows, id)
	return f.err
}

func (f *fakeClient) Unfollow(ctx context.Context, id int64) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unfollow = append(f.unfollow, id)
	return f.err
}

func post(authorID int64, following domain.OptionalBool) domain.Post {
	return domain.Post{AuthorProfile: &domain.AuthorProfile{ID: authorID}, IsFollowing: following}
}

func TestUnknownUserDefaultsFalse(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if s.IsFollowing(404) || s.IsLoading(404) {
		t.Fatal("expected false for unknown user")
	}
	if e := s.Entry(404); e.UserID != 404 || e.IsFollowing || e.Loading {
		t.Fatalf("unexpected zero entry: %+v", e)
	}
}

func TestInitializeOverwritesLocalState(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.SetFollowState(1, true)
	s.SetLoading(2, true)

	s.Initialize([]domain.Post{
		post(1, domain.Bool(false)),
		post(2, domain.Bool(true)),
		post(3, domain.Bool(true)),
		post(4, domain.OptionalBool{}),
		{IsFollowing: domain.Bool(true)},
	})

	want := map[int64]bool{1: false, 2: true, 3: true}
	for id, v := range want {
		if got := s.IsFollowing(id); got != v {
			t.Errorf("user %d: expected %v, got %v", id, v, got)
		}
	}
	if _, ok := s.All()[4]; ok {
		t.Error("expected post without boolean flag to be skipped")
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", s.Len())
	}
}

func TestToggleSuccessKeepsFlip(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	syncer := NewSynchronizer(NewStore(), client, nil)

	got, err := syncer.Toggle(context.Background(), 5)
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if !got.IsFollowing || got.Loading {
		t.Fatalf("expected following and not loading, got %+v", got)
	}
	if len(client.follows) != 1 || client.follows[0] != 5 {
		t.Fatalf("expected follow call for 5, got %v", client.follows)
	}

	got, err = syncer.Toggle(context.Background(), 5)
	if err != nil {
		t.Fatalf("second Toggle failed: %v", err)
	}
	if got.IsFollowing || len(client.unfollow) != 1 {
		t.Fatalf("expected unfollow, got %+v calls=%v", got, client.unfollow)
	}
}

func TestToggleFailureRollsBack(t *testing.T) {
	t.Parallel()

	for _, initial := range []bool{false, true} {
		store := NewStore()
		store.SetFollowState(9, initial)
		syncer := NewSynchronizer(store, &fakeClient{err: errors.New("503")}, nil)

		got, err := syncer.Toggle(context.Background(), 9)
		if !errors.Is(err, ErrToggleFailed) {
			t.Fatalf("expected ErrToggleFailed, got %v", err)
		}
		if got.IsFollowing != initial || got.Loading {
			t.Fatalf("initial=%v: expected rollback, got %+v", initial, got)
		}
		if store.IsFollowing(9) != initial || store.IsLoading(9) {
			t.Fatalf("initial=%v: store not rolled back: %+v", initial, store.Entry(9))
		}
	}
}

func TestSecondToggleRejectedWhileLoading(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		err:     errors.New("network"),
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	store := NewStore()
	store.SetFollowState(42, false)
	syncer := NewSynchronizer(store, client, nil)

	done := make(chan error, 1)
	go func() {
		_, err := syncer.Toggle(context.Background(), 42)
		done <- err
	}()
	<-client.started

	if !store.IsFollowing(42) || !store.IsLoading(42) {
		t.Fatalf("expected optimistic following+loading, got %+v", store.Entry(42))
	}
	if _, err := syncer.Toggle(context.Background(), 42); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	close(client.gate)
	if err := <-done; !errors.Is(err, ErrToggleFailed) {
		t.Fatalf("expected ErrToggleFailed, got %v", err)
	}
	if store.IsFollowing(42) || store.IsLoading(42) {
		t.Fatalf("expected final false/false, got %+v", store.Entry(42))
	}
}

func TestSharedEntryAcrossCards(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Initialize([]domain.Post{
		{ID: 1, AuthorProfile: &domain.AuthorProfile{ID: 42}, IsFollowing: domain.Bool(false)},
		{ID: 2, AuthorProfile: &domain.AuthorProfile{ID: 42}, IsFollowing: domain.Bool(false)},
	})
	syncer := NewSynchronizer(store, &fakeClient{}, nil)

	if _, err := syncer.Toggle(context.Background(), 42); err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}

	cards := []domain.Post{{ID: 1, AuthorProfile: &domain.AuthorProfile{ID: 42}}, {ID: 2, AuthorProfile: &domain.AuthorProfile{ID: 42}}}
	for _, c := range cards {
		if !store.IsFollowing(c.AuthorID()) {
			t.Fatalf("card %d: expected following", c.ID)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expected one shared entry, got %d", store.Len())
	}
}

func TestReconciliationDuringToggleWins(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		err:     errors.New("timeout"),
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	store := NewStore()
	store.SetFollowState(7, false)
	syncer := NewSynchronizer(store, client, nil)

	done := make(chan error, 1)
	go func() {
		_, err := syncer.Toggle(context.Background(), 7)
		done <- err
	}()
	<-client.started

	// A fresh page reports the server already has the follow.
	store.Initialize([]domain.Post{post(7, domain.Bool(true))})
	close(client.gate)
	<-done

	if !store.IsFollowing(7) {
		t.Fatal("expected reconciled value to survive the failed toggle")
	}
	if store.IsLoading(7) {
		t.Fatal("expected loading cleared by the toggle")
	}
}

func TestToggleAfterClearIsDropped(t *testing.T) {
	t.Parallel()

	client := &fakeClient{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	store := NewStore()
	syncer := NewSynchronizer(store, client, nil)

	done := make(chan struct{})
	go func() {
		_, _ = syncer.Toggle(context.Background(), 3)
		close(done)
	}()
	<-client.started

	store.SessionChanged(domain.LoggedOut())
	close(client.gate)
	<-done

	if store.Len() != 0 {
		t.Fatalf("expected cleared map to stay empty, got %v", store.All())
	}
}

func TestRetainRelease(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.Initialize([]domain.Post{post(8, domain.Bool(true))})
	store.Retain(8)
	store.Retain(8)

	store.Release(8)
	if !store.IsFollowing(8) {
		t.Fatal("expected entry kept while a view still references it")
	}
	store.Release(8)
	if store.Len() != 0 {
		t.Fatal("expected entry removed after last release")
	}
	store.Release(8)
}

func TestChangeListener(t *testing.T) {
	t.Parallel()

	store := NewStore()
	var changes []Change
	store.OnChange(func(c Change) { changes = append(changes, c) })

	store.SetFollowState(1, true)
	store.Remove(1)
	store.SetFollowState(2, true)
	store.Clear()
	store.Clear()

	if len(changes) != 4 {
		t.Fatalf("expected 4 changes, got %d: %+v", len(changes), changes)
	}
	if !changes[3].Cleared || changes[1].Removed[0] != 1 {
		t.Fatalf("unexpected change sequence: %+v", changes)
	}
}

func TestReleaseFromBeforeClearIsIgnored(t *testing.T) {
	t.Parallel()

	store := NewStore()
	oldEpoch := store.Retain(5)
	store.Clear()

	newEpoch := store.Retain(5)
	if newEpoch == oldEpoch {
		t.Fatal("expected Clear to start a new epoch")
	}
	store.Initialize([]domain.Post{post(5, domain.Bool(true))})

	store.ReleaseAt(oldEpoch, 5)
	if !store.IsFollowing(5) || store.Len() != 1 {
		t.Fatalf("stale release removed the entry: %+v", store.Entry(5))
	}

	store.ReleaseAt(newEpoch, 5)
	if store.Len() != 0 {
		t.Fatal("expected entry removed after the current view released it")
	}
}

func TestChangesDeliveredInWriteOrder(t *testing.T) {
	t.Parallel()

	for range 20 {
		store := NewStore()
		var mu sync.Mutex
		var last domain.FollowEntry
		store.OnChange(func(c Change) {
			time.Sleep(50 * time.Microsecond)
			mu.Lock()
			if len(c.Entries) > 0 {
				last = c.Entries[0]
			}
			mu.Unlock()
		})

		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range 5 {
					store.SetFollowState(7, (i+j)%2 == 0)
				}
			}()
		}
		wg.Wait()

		mu.Lock()
		got := last
		mu.Unlock()
		if want := store.Entry(7); got != want {
			t.Fatalf("last delivered %+v, store holds %+v", got, want)
		}
	}
}
