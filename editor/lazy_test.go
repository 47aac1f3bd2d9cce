package editor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLazyWaiterHonoursContext(t *testing.T) {
	var l lazy[int]
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := l.get(context.Background(), func() (int, error) {
			close(started)
			<-release
			return 7, nil
		})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.get(ctx, func() (int, error) { return 0, errors.New("second load") }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("waiting caller err = %v, want context.DeadlineExceeded", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	v, err := l.get(context.Background(), func() (int, error) { return 0, errors.New("reloaded") })
	if err != nil || v != 7 {
		t.Fatalf("get = %d, %v; want the loaded value", v, err)
	}
}

func TestLazyRetriesAfterFailure(t *testing.T) {
	var l lazy[string]
	if _, err := l.get(context.Background(), func() (string, error) { return "", errors.New("boom") }); err == nil {
		t.Fatal("expected the load error")
	}
	if l.isLoaded() {
		t.Fatal("failed load was cached")
	}
	v, err := l.get(context.Background(), func() (string, error) { return "ok", nil })
	if err != nil || v != "ok" || !l.isLoaded() {
		t.Fatalf("get = %q, %v", v, err)
	}
}
