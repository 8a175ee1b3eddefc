package cache

import (
	"sync"
	"testing"
	"time"
)

func TestTokenCache_Get(t *testing.T) {
	tests := []struct {
		name        string
		setupCache  func() *TokenCache
		expectedOk  bool
		expectedTok string
	}{
		{
			name: "empty cache",
			setupCache: func() *TokenCache {
				return NewTokenCache()
			},
			expectedOk:  false,
			expectedTok: "",
		},
		{
			name: "valid token",
			setupCache: func() *TokenCache {
				cache := NewTokenCache()
				cache.Set("APP_USR-access-token", 1*time.Hour)
				return cache
			},
			expectedOk:  true,
			expectedTok: "APP_USR-access-token",
		},
		{
			name: "expired token",
			setupCache: func() *TokenCache {
				cache := NewTokenCache()
				cache.Set("APP_USR-access-token", -1*time.Hour)
				return cache
			},
			expectedOk:  false,
			expectedTok: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := tt.setupCache()
			token, ok := cache.Get()

			if ok != tt.expectedOk {
				t.Errorf("expected ok=%v, got %v", tt.expectedOk, ok)
			}

			if token != tt.expectedTok {
				t.Errorf("expected token %q, got %q", tt.expectedTok, token)
			}
		})
	}
}

func TestTokenCache_Clear(t *testing.T) {
	cache := NewTokenCache()
	cache.Set("APP_USR-access-token", 1*time.Hour)

	cache.Clear()

	token, ok := cache.Get()
	if ok {
		t.Errorf("expected token to be cleared, but got %q", token)
	}
}

func TestTokenCache_TTLExpiration(t *testing.T) {
	cache := NewTokenCache()
	cache.Set("short-lived", 50*time.Millisecond)

	if _, ok := cache.Get(); !ok {
		t.Fatal("token should be valid immediately after setting")
	}

	time.Sleep(100 * time.Millisecond)

	token, ok := cache.Get()
	if ok {
		t.Errorf("expected token to be expired, but got %q", token)
	}
}

func TestTokenCache_ConcurrentAccess(t *testing.T) {
	cache := NewTokenCache()
	const numGoroutines = 100
	const numOps = 10

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				cache.Set("token", 1*time.Hour)
				cache.Get()
			}
		}()
	}

	wg.Wait()

	token, ok := cache.Get()
	if !ok {
		t.Error("expected token to be set after concurrent operations")
	}
	if token != "token" {
		t.Errorf("expected token 'token', got %q", token)
	}
}

func TestTokenCache_ConcurrentReadWrite(t *testing.T) {
	cache := NewTokenCache()
	const numReaders = 50
	const numWriters = 10

	var wg sync.WaitGroup

	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cache.Set("token", 1*time.Hour)
				time.Sleep(1 * time.Millisecond)
				cache.Clear()
			}
		}()
	}

	wg.Add(numReaders)
	for i := 0; i < numReaders; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cache.Get()
				time.Sleep(1 * time.Millisecond)
			}
		}()
	}

	wg.Wait()
}
