package dedupe

import (
	"context"
	"testing"
	"time"
)

func TestMemorySeenAndExpiry(t *testing.T) {
	clock := time.Now()
	m := NewMemory()
	m.now = func() time.Time { return clock }
	defer m.Close()

	ctx := context.Background()

	seen, err := m.Seen(ctx, "whatsapp", "wamid.1")
	if err != nil || seen {
		t.Fatalf("Seen before Mark = %v, %v", seen, err)
	}

	if err := m.Mark(ctx, "whatsapp", "wamid.1", time.Hour); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if seen, _ := m.Seen(ctx, "whatsapp", "wamid.1"); !seen {
		t.Error("marked key not seen")
	}

	// Same external ID on a different channel is a different key.
	if seen, _ := m.Seen(ctx, "telegram", "wamid.1"); seen {
		t.Error("key leaked across channels")
	}

	clock = clock.Add(2 * time.Hour)
	if seen, _ := m.Seen(ctx, "whatsapp", "wamid.1"); seen {
		t.Error("expired key still seen")
	}
}
