package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openadcm/adcm/pkg/model"
)

func TestRootLocker_Serializes(t *testing.T) {
	l := NewRootLocker()
	c1 := model.NewRef(model.TypeCluster, 1)
	p1 := model.NewRef(model.TypeProvider, 1)

	release, err := l.Lock(context.Background(), c1, p1, c1)
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, p1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while held, got %v", err)
	}

	// unrelated roots are independent
	other, err := l.Lock(context.Background(), model.NewRef(model.TypeCluster, 2))
	if err != nil {
		t.Fatalf("lock of other root failed: %v", err)
	}
	other()

	release()
	again, err := l.Lock(context.Background(), p1, c1)
	if err != nil {
		t.Fatalf("lock after release failed: %v", err)
	}
	again()
}

func TestRootLocker_PartialAcquireReleased(t *testing.T) {
	l := NewRootLocker()
	c1 := model.NewRef(model.TypeCluster, 1)
	c2 := model.NewRef(model.TypeCluster, 2)

	hold, _ := l.Lock(context.Background(), c2)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, c1, c2); err == nil {
		t.Fatal("expected failure while c2 is held")
	}
	hold()

	// c1 must have been released by the failed attempt
	release, err := l.Lock(context.Background(), c1)
	if err != nil {
		t.Fatalf("c1 still held: %v", err)
	}
	release()
}
