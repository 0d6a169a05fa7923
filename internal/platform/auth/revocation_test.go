package auth

import (
	"sync"
	"testing"
	"time"
)

func TestRevoke_and_IsRevoked(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()

	jti := "token-abc-123"
	store.Revoke(jti, time.Now().Add(time.Hour))

	if !store.IsRevoked(jti) {
		t.Errorf("expected JTI %q to be revoked", jti)
	}
	if store.IsRevoked("unknown-jti") {
		t.Error("expected unknown JTI to not be revoked")
	}
}

func TestCleanup_RemovesExpired(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()

	now := time.Now()
	store.Revoke("expired", now.Add(-time.Second))
	store.Revoke("live", now.Add(time.Hour))

	store.cleanup(now)

	if store.IsRevoked("expired") {
		t.Error("expected expired entry to be removed")
	}
	if !store.IsRevoked("live") {
		t.Error("expected live entry to remain")
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 entry, got %d", store.Count())
	}
}

func TestClose_Idempotent(t *testing.T) {
	store := NewTokenRevocationStore(0)
	store.Close()
	store.Close()
}

func TestConcurrentAccess(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			store.Revoke(string(rune('a'+n%26))+"-jti", time.Now().Add(time.Hour))
		}(i)
		go func() {
			defer wg.Done()
			_ = store.IsRevoked("a-jti")
		}()
	}
	wg.Wait()

	if store.Count() != 26 {
		t.Errorf("expected 26 distinct entries, got %d", store.Count())
	}
}
