package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFactory_Memory(t *testing.T) {
	c, err := New(Config{Type: TypeMemory}, testLogger(), nil)
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*MemoryCache); !ok {
		t.Errorf("expected *MemoryCache, got %T", c)
	}
}

func TestFactory_UnsupportedType(t *testing.T) {
	for _, typ := range []string{"", "memcached", "MEMORY"} {
		if _, err := New(Config{Type: typ}, testLogger(), nil); !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("type %q: expected ErrUnsupportedType, got %v", typ, err)
		}
	}
}

func TestFactory_BackendsAreInterchangeable(t *testing.T) {
	ctx := context.Background()

	backends := map[string]Cache{}

	mem, err := New(Config{Type: TypeMemory}, testLogger(), nil)
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	backends["memory"] = mem

	// A redis backend over an unreachable address with fallback enabled
	// still honors the shared contract.
	backends["redis"] = NewRedisCache(RedisCacheConfig{
		Addr:              unreachableAddr,
		EnableFallback:    true,
		DialTimeout:       100 * time.Millisecond,
		ReconnectInterval: time.Hour,
		Logger:            testLogger(),
	})

	for name, c := range backends {
		t.Run(name, func(t *testing.T) {
			defer c.Close()

			if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, err := c.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != "v" {
				t.Errorf("expected %q, got %v", "v", got)
			}
			if _, err := c.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
