package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the connection fails.
// Each test gets a unique namespace to ensure test isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		Namespace: fmt.Sprintf("oidctest:%s:", t.Name()),
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(store.Close)
	return store
}

func TestStore_SetGet(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	value := []byte{1, 0, 0, 0, 0, 0, 0, 0, 0xff}
	if err := store.Set(ctx, "oidc-request:abc", value, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Remove(ctx, "oidc-request:abc") })

	got, err := store.Get(ctx, "oidc-request:abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != string(value) {
		t.Errorf("Get() = %v, want %v", got, value)
	}
}

func TestStore_Get_Missing(t *testing.T) {
	store := testStore(t)

	_, err := store.Get(context.Background(), "oidc-request:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Expiry(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "oidc-request:short", []byte("x"), time.Now().Add(200*time.Millisecond)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(400 * time.Millisecond)

	if _, err := store.Get(ctx, "oidc-request:short"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestStore_Remove(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "oidc-request:abc", []byte("x"), time.Now().Add(time.Minute))
	if err := store.Remove(ctx, "oidc-request:abc"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := store.Get(ctx, "oidc-request:abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after Remove() error = %v, want ErrNotFound", err)
	}
	if err := store.Remove(ctx, "oidc-request:abc"); err != nil {
		t.Errorf("Remove() of missing key error = %v", err)
	}
}

func TestStore_InputLimits(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Minute)

	tests := []struct {
		name  string
		key   string
		value []byte
	}{
		{"empty key", "", []byte("x")},
		{"key too long", strings.Repeat("k", MaxKeyLength+1), []byte("x")},
		{"value too large", "oidc-request:big", make([]byte, MaxValueSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Set(ctx, tt.key, tt.value, expiresAt); err == nil {
				t.Error("Set() error = nil, want error")
			}
		})
	}
}

func TestStore_LargestPendingRequestFits(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	pending := storage.NewPendingRequests(store, storage.PendingRequestsConfig{Encryptor: enc})

	request := message.New(message.KindAuthorizationRequest)
	for i := 0; i < 3; i++ {
		request.Set(fmt.Sprintf("p%d", i), strings.Repeat("v", storage.MaxEncodedStringLength))
	}
	// "p3" takes three bytes, the value length prefix two.
	request.Set("p3", strings.Repeat("v", storage.MaxEncodedSize-storage.EncodedSize(request.Parameters())-5))
	if got := storage.EncodedSize(request.Parameters()); got != storage.MaxEncodedSize {
		t.Fatalf("EncodedSize() = %d, want %d", got, storage.MaxEncodedSize)
	}

	if err := pending.Save(ctx, "largest", request); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	t.Cleanup(func() { _ = pending.Delete(ctx, "largest") })

	params, err := pending.Load(ctx, "largest")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(params) != 4 {
		t.Errorf("Load() returned %d parameters, want 4", len(params))
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without address should return error")
	}
}
