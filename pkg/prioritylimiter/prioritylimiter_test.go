package prioritylimiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEnterLeave(t *testing.T) {
	l := New(3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Enter(ctx, 1, "a"); err != nil {
			t.Fatal(err)
		}
	}
	if got := l.Active(); got != 2 {
		t.Fatalf("Active() = %d, want 2", got)
	}

	for want := 1; want >= 0; want-- {
		if err := l.Leave(); err != nil {
			t.Fatal(err)
		}
		if got := l.Active(); got != want {
			t.Fatalf("Active() = %d, want %d", got, want)
		}
	}

	if err := l.Leave(); err == nil {
		t.Error("Leave() on an empty limiter succeeded")
	}
}

func TestCancelled(t *testing.T) {
	l := New(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Enter(ctx, 1, "a"); err != context.Canceled {
		t.Fatalf("Enter() = %v, want context.Canceled", err)
	}

	// The slot of a cancelled caller is never held.
	if err := l.Enter(context.Background(), 1, "b"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "one active", func() bool { return l.Active() == 1 })
}

func TestCancelWaiting(t *testing.T) {
	l := New(1)
	if err := l.Enter(context.Background(), 1, "a"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() { errc <- l.Enter(ctx, 1, "b") }()
	waitFor(t, "one waiting", func() bool { return l.Waiting() == 1 })

	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("Enter() = %v, want context.Canceled", err)
	}
	waitFor(t, "no waiting", func() bool { return l.Waiting() == 0 })

	if err := l.Leave(); err != nil {
		t.Fatal(err)
	}
	if got := l.Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}

func TestOrder(t *testing.T) {
	tests := []struct {
		name     string
		priority func(i int) int
		key      func(i int) string
	}{
		{
			name:     "by priority",
			priority: func(i int) int { return i },
			key:      func(int) string { return "q" },
		},
		{
			name:     "by key on equal priority",
			priority: func(int) int { return 1 },
			key:      func(i int) string { return fmt.Sprint(i) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(1)
			if err := l.Enter(context.Background(), 0, "first"); err != nil {
				t.Fatal(err)
			}

			admitted := make(chan int)
			for i := 5; i > 0; i-- {
				go func(i int) {
					if err := l.Enter(context.Background(), tt.priority(i), tt.key(i)); err == nil {
						admitted <- i
					}
				}(i)
			}
			waitFor(t, "five waiting", func() bool { return l.Waiting() == 5 })

			var got []int
			for i := 0; i < 5; i++ {
				if err := l.Leave(); err != nil {
					t.Fatal(err)
				}
				got = append(got, <-admitted)
			}

			if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, got); diff != "" {
				t.Errorf("admission order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
