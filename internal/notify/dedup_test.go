package notify

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryWindowMarksAndRemembers(t *testing.T) {
	w := NewMemoryWindow(time.Minute, 16)

	seen, err := w.Seen(context.Background(), "e1")
	if err != nil || seen {
		t.Fatalf("first sighting: seen=%v err=%v", seen, err)
	}
	seen, err = w.Seen(context.Background(), "e1")
	if err != nil || !seen {
		t.Fatalf("second sighting: seen=%v err=%v", seen, err)
	}
	seen, _ = w.Seen(context.Background(), "e2")
	if seen {
		t.Fatal("distinct id reported as seen")
	}
}

func TestMemoryWindowTTLExpiry(t *testing.T) {
	w := NewMemoryWindow(time.Minute, 16)
	current := time.Unix(1000, 0)
	w.now = func() time.Time { return current }

	if seen, _ := w.Seen(context.Background(), "e1"); seen {
		t.Fatal("unexpected first sighting")
	}
	current = current.Add(30 * time.Second)
	if seen, _ := w.Seen(context.Background(), "e1"); !seen {
		t.Fatal("id inside the window should be seen")
	}
	current = current.Add(2 * time.Minute)
	if seen, _ := w.Seen(context.Background(), "e1"); seen {
		t.Fatal("id past the TTL should have been evicted")
	}
}

func TestMemoryWindowSizeBound(t *testing.T) {
	w := NewMemoryWindow(time.Hour, 3)
	for i := 0; i < 10; i++ {
		w.Seen(context.Background(), fmt.Sprintf("e%d", i))
	}
	if n := w.len(); n > 4 {
		t.Fatalf("window grew to %d entries, cap is 3", n)
	}
	// The earliest id was evicted to stay under the cap.
	if seen, _ := w.Seen(context.Background(), "e0"); seen {
		t.Fatal("evicted id still reported as seen")
	}
}
