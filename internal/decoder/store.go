package decoder

import (
	"context"
	"sync"

	"github.com/zsiec/stereo/media"
)

// PictureStore publishes the base-view decoder's output for inter-view
// prediction. The dependent decoder waits on the specific timestamp it
// needs through a channel-per-waiter registration, so one slow picture
// never serializes unrelated frames. Reads are bounded-lifetime borrows:
// each fetched picture carries one reference the borrower must release.
//
// The store keeps a bounded window of recent pictures; older entries are
// evicted in publish order. A generation counter invalidates waiters and
// borrows across seeks.
type PictureStore struct {
	mu      sync.Mutex
	gen     uint64
	cap     int
	pics    map[int64]*media.Picture
	order   []int64
	waiters map[int64][]chan waitResult
}

type waitResult struct {
	pic *media.Picture
	err error
}

// NewPictureStore creates a store retaining at most capacity pictures.
func NewPictureStore(capacity int) *PictureStore {
	if capacity < 1 {
		capacity = 1
	}
	return &PictureStore{
		cap:     capacity,
		pics:    make(map[int64]*media.Picture),
		waiters: make(map[int64][]chan waitResult),
	}
}

// Generation returns the current seek generation.
func (ps *PictureStore) Generation() uint64 {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.gen
}

// Publish retains pic in the store window and completes any waits pending
// on its timestamp. Each completed waiter receives its own reference.
func (ps *PictureStore) Publish(pic *media.Picture) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if old, ok := ps.pics[pic.PTS]; ok {
		old.Release()
		ps.pics[pic.PTS] = pic.Retain()
	} else {
		ps.pics[pic.PTS] = pic.Retain()
		ps.order = append(ps.order, pic.PTS)
		for len(ps.order) > ps.cap {
			evictPTS := ps.order[0]
			ps.order = ps.order[1:]
			if p, ok := ps.pics[evictPTS]; ok {
				p.Release()
				delete(ps.pics, evictPTS)
			}
		}
	}

	for _, ch := range ps.waiters[pic.PTS] {
		ch <- waitResult{pic: pic.Retain()}
	}
	delete(ps.waiters, pic.PTS)
}

// WaitFor blocks until the picture for pts is available, the context ends,
// or the store is reset. On success the caller holds one reference and must
// Release it when done with the borrow.
func (ps *PictureStore) WaitFor(ctx context.Context, pts int64) (*media.Picture, error) {
	ps.mu.Lock()
	if pic, ok := ps.pics[pts]; ok {
		pic.Retain()
		ps.mu.Unlock()
		return pic, nil
	}
	ch := make(chan waitResult, 1)
	ps.waiters[pts] = append(ps.waiters[pts], ch)
	ps.mu.Unlock()

	select {
	case res := <-ch:
		return res.pic, res.err
	case <-ctx.Done():
		ps.unregister(pts, ch)
		// The publish may have raced the cancellation; drain so the
		// retained reference is not leaked.
		select {
		case res := <-ch:
			if res.pic != nil {
				return res.pic, nil
			}
		default:
		}
		return nil, ctx.Err()
	}
}

func (ps *PictureStore) unregister(pts int64, ch chan waitResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	list := ps.waiters[pts]
	for i, c := range list {
		if c == ch {
			ps.waiters[pts] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(ps.waiters[pts]) == 0 {
		delete(ps.waiters, pts)
	}
}

// Len returns the number of retained pictures.
func (ps *PictureStore) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.pics)
}

// Reset bumps the generation, releases the whole window, and fails every
// pending wait with ErrStoreReset. Called on seek and stop.
func (ps *PictureStore) Reset() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.gen++
	for pts, pic := range ps.pics {
		pic.Release()
		delete(ps.pics, pts)
	}
	ps.order = ps.order[:0]
	for pts, list := range ps.waiters {
		for _, ch := range list {
			ch <- waitResult{err: ErrStoreReset}
		}
		delete(ps.waiters, pts)
	}
}
