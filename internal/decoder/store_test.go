package decoder

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStorePublishThenWait(t *testing.T) {
	t.Parallel()
	ps := NewPictureStore(4)
	pic := newTestPicture(t, 100)
	defer pic.Release()

	ps.Publish(pic)
	got, err := ps.WaitFor(context.Background(), 100)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if got != pic {
		t.Error("WaitFor returned a different picture")
	}
	// One ref for the caller, one for the publisher, one for the store.
	if got.Refs() != 3 {
		t.Errorf("refs: got %d, want 3", got.Refs())
	}
	got.Release()
}

func TestStoreWaitBeforePublish(t *testing.T) {
	t.Parallel()
	ps := NewPictureStore(4)
	pic := newTestPicture(t, 200)
	defer pic.Release()

	done := make(chan error, 1)
	go func() {
		got, err := ps.WaitFor(context.Background(), 200)
		if err == nil {
			got.Release()
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	ps.Publish(pic)
	if err := <-done; err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
}

func TestStoreWaitTimeout(t *testing.T) {
	t.Parallel()
	ps := NewPictureStore(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ps.WaitFor(ctx, 999); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitFor: got %v, want DeadlineExceeded", err)
	}
}

func TestStoreResetFailsWaiters(t *testing.T) {
	t.Parallel()
	ps := NewPictureStore(4)
	done := make(chan error, 1)
	go func() {
		_, err := ps.WaitFor(context.Background(), 300)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	gen := ps.Generation()
	ps.Reset()
	if err := <-done; !errors.Is(err, ErrStoreReset) {
		t.Fatalf("WaitFor after reset: got %v, want ErrStoreReset", err)
	}
	if ps.Generation() != gen+1 {
		t.Errorf("Generation: got %d, want %d", ps.Generation(), gen+1)
	}
	if ps.Len() != 0 {
		t.Errorf("Len after reset: got %d, want 0", ps.Len())
	}
}

func TestStoreResetReleasesWindow(t *testing.T) {
	t.Parallel()
	ps := NewPictureStore(4)
	pic := newTestPicture(t, 1)
	defer pic.Release()
	ps.Publish(pic)
	ps.Reset()
	if pic.Refs() != 1 {
		t.Errorf("refs after reset: got %d, want 1", pic.Refs())
	}
}

func TestStoreWindowEviction(t *testing.T) {
	t.Parallel()
	ps := NewPictureStore(2)
	a := newTestPicture(t, 1)
	b := newTestPicture(t, 2)
	c := newTestPicture(t, 3)
	defer a.Release()
	defer b.Release()
	defer c.Release()

	ps.Publish(a)
	ps.Publish(b)
	ps.Publish(c)
	if ps.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", ps.Len())
	}
	if a.Refs() != 1 {
		t.Errorf("evicted refs: got %d, want 1", a.Refs())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := ps.WaitFor(ctx, 1); err == nil {
		t.Fatal("evicted picture should no longer be available")
	}
}

func TestStoreRepublishSameTimestamp(t *testing.T) {
	t.Parallel()
	ps := NewPictureStore(4)
	a := newTestPicture(t, 5)
	b := newTestPicture(t, 5)
	defer a.Release()
	defer b.Release()

	ps.Publish(a)
	ps.Publish(b)
	if a.Refs() != 1 {
		t.Errorf("replaced refs: got %d, want 1", a.Refs())
	}
	got, err := ps.WaitFor(context.Background(), 5)
	if err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if got != b {
		t.Error("WaitFor returned the replaced picture")
	}
	got.Release()
}
