package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/openadcm/adcm/pkg/model"
)

// GlobalRoot is the lock key for ADCM-wide mutations: bundle loads, RBAC and global
// settings.
var GlobalRoot = model.NewRef(model.TypeADCM, 0)

// RootLocker serializes mutations per cluster or provider root.
type RootLocker struct {
	mu    sync.Mutex
	locks map[model.Ref]chan struct{}
}

// NewRootLocker creates an empty locker.
func NewRootLocker() *RootLocker {
	return &RootLocker{locks: make(map[model.Ref]chan struct{})}
}

func (l *RootLocker) slot(root model.Ref) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[root]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[root] = ch
	}
	return ch
}

// Lock acquires the advisory locks of the given roots in a fixed order and returns
// the release function. It gives up when ctx is done.
func (l *RootLocker) Lock(ctx context.Context, roots ...model.Ref) (func(), error) {
	uniq := make([]model.Ref, 0, len(roots))
	seen := make(map[model.Ref]bool)
	for _, r := range roots {
		if !seen[r] {
			seen[r] = true
			uniq = append(uniq, r)
		}
	}
	sort.Slice(uniq, func(i, j int) bool {
		if uniq[i].Type != uniq[j].Type {
			return uniq[i].Type < uniq[j].Type
		}
		return uniq[i].ID < uniq[j].ID
	})

	held := make([]chan struct{}, 0, len(uniq))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, r := range uniq {
		ch := l.slot(r)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
