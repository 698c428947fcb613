package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// testAPIKey must start with "msk_" and be >= 8 chars.
const testAPIKey = "msk_test_valid_key_1234567890abcdef"

// testHash returns a bcrypt hash of testAPIKey using MinCost (fast for tests).
func testHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to generate bcrypt hash: %v", err)
	}
	return string(hash)
}

// mockStore implements ClientStore for testing.
type mockStore struct {
	row       *clientRow
	err       error
	callCount atomic.Int32
}

func (m *mockStore) LookupByPrefix(_ context.Context, _ string) (*clientRow, error) {
	m.callCount.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.row, nil
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{"Bearer " + testAPIKey, testAPIKey, nil},
		{"bearer " + testAPIKey, testAPIKey, nil},
		{testAPIKey, testAPIKey, nil},
		{"", "", ErrMissingAPIKey},
		{"Bearer   ", "", ErrMissingAPIKey},
	}
	for _, tt := range tests {
		got, err := ExtractBearer(tt.header)
		if !errors.Is(err, tt.err) {
			t.Errorf("ExtractBearer(%q) err = %v, want %v", tt.header, err, tt.err)
		}
		if got != tt.want {
			t.Errorf("ExtractBearer(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestStaticAuthenticator(t *testing.T) {
	a := NewStaticAuthenticator(map[string]ClientContext{
		testAPIKey: {ClientID: "client_1", Role: "agent"},
	})

	client, err := a.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if client.ClientID != "client_1" || client.Role != "agent" {
		t.Fatalf("client = %+v", client)
	}

	if _, err := a.Authenticate(context.Background(), "msk_unknown_key"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
	if _, err := a.Authenticate(context.Background(), "wrong_prefix_key"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestCache_FreshHit(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)
	client := &ClientContext{ClientID: "client_1", Role: "agent"}

	cache.Set(testAPIKey, client)

	result := cache.Get(testAPIKey)
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Error("fresh entry should not need refresh")
	}
	if result.Client.ClientID != "client_1" {
		t.Errorf("expected client_1, got %s", result.Client.ClientID)
	}
}

func TestCache_Miss(t *testing.T) {
	cache := NewAuthCache(1 * time.Minute)

	result := cache.Get("msk_nonexistent")
	if result.Hit {
		t.Error("expected cache miss")
	}
	if result.Client != nil {
		t.Error("expected nil client on miss")
	}
}

func TestCache_StaleHit_ReturnsValueAndSignalsRefresh(t *testing.T) {
	cache := NewAuthCache(1 * time.Millisecond)
	client := &ClientContext{ClientID: "client_1"}

	cache.Set(testAPIKey, client)
	time.Sleep(5 * time.Millisecond)

	result := cache.Get(testAPIKey)
	if !result.Hit {
		t.Fatal("expected stale hit")
	}
	if !result.NeedsRefresh {
		t.Error("expired entry should signal refresh")
	}
	if result.Client.ClientID != "client_1" {
		t.Error("stale hit should still return the client")
	}

	// Only the first stale read wins the refresh slot.
	again := cache.Get(testAPIKey)
	if again.NeedsRefresh {
		t.Error("second stale read should not also trigger a refresh")
	}
}

func TestPostgresAuth_CacheMiss_ValidKey(t *testing.T) {
	store := &mockStore{
		row: &clientRow{ClientID: "client_abc", APIKeyHash: testHash(t), Role: "admin"},
	}
	cache := NewAuthCache(1 * time.Minute)
	a := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	client, err := a.Authenticate(context.Background(), testAPIKey)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if client.ClientID != "client_abc" || client.Role != "admin" {
		t.Fatalf("client = %+v", client)
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected 1 DB lookup, got %d", store.callCount.Load())
	}
}

func TestPostgresAuth_CacheHit_SkipsDB(t *testing.T) {
	store := &mockStore{
		row: &clientRow{ClientID: "client_abc", APIKeyHash: testHash(t), Role: "agent"},
	}
	cache := NewAuthCache(1 * time.Minute)
	a := newPostgresAuthenticatorWithStore(store, cache, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := a.Authenticate(context.Background(), testAPIKey); err != nil {
			t.Fatal(err)
		}
	}
	if store.callCount.Load() != 1 {
		t.Errorf("expected 1 DB lookup across 3 calls, got %d", store.callCount.Load())
	}
}

func TestPostgresAuth_WrongKey(t *testing.T) {
	store := &mockStore{
		row: &clientRow{ClientID: "client_abc", APIKeyHash: testHash(t)},
	}
	a := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	if _, err := a.Authenticate(context.Background(), "msk_some_other_key_entirely"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestPostgresAuth_ShortKey(t *testing.T) {
	a := newPostgresAuthenticatorWithStore(&mockStore{}, NewAuthCache(time.Minute), zap.NewNop())
	if _, err := a.Authenticate(context.Background(), "msk_x"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestPostgresAuth_DBErrorIsUnavailable(t *testing.T) {
	store := &mockStore{err: errors.New("connection refused")}
	a := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	_, err := a.Authenticate(context.Background(), testAPIKey)
	if !errors.Is(err, ErrAuthUnavailable) {
		t.Fatalf("err = %v, want ErrAuthUnavailable", err)
	}
}

func TestPostgresAuth_UnknownPrefixRejected(t *testing.T) {
	store := &mockStore{err: ErrInvalidAPIKey}
	a := newPostgresAuthenticatorWithStore(store, NewAuthCache(time.Minute), zap.NewNop())

	if _, err := a.Authenticate(context.Background(), testAPIKey); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
}
