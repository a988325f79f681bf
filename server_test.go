package oidc

import (
	"io"
	"log/slog"
	"testing"

	"github.com/giantswarm/oidc-engine/codec"
	"github.com/giantswarm/oidc-engine/internal/testutil"
	"github.com/giantswarm/oidc-engine/providers/mock"
	"github.com/giantswarm/oidc-engine/server"
	"github.com/giantswarm/oidc-engine/storage/memory"
)

func TestNewServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtCodec, err := codec.New(&codec.Options{Issuer: testutil.TestIssuer, SigningKey: testSigningKey}, logger)
	testutil.AssertNoError(t, err)

	tests := []struct {
		name           string
		config         *Config
		wantErr        bool
		wantEncryption bool
		wantAuditor    bool
	}{
		{
			name:   "nil config",
			config: nil,
		},
		{
			name:           "encryption and audit",
			config:         &Config{Security: SecurityConfig{EncryptionKey: make([]byte, 32), EnableAuditLogging: true}},
			wantEncryption: true,
			wantAuditor:    true,
		},
		{
			name:    "short encryption key",
			config:  &Config{Security: SecurityConfig{EncryptionKey: make([]byte, 16)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			defer store.Stop()

			if tt.config != nil {
				tt.config.Logger = logger
			}
			srv, err := NewServer(mock.NewMockProvider(), jwtCodec, store, &server.Config{Issuer: testutil.TestIssuer}, tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			testutil.AssertNoError(t, err)
			testutil.AssertEqual(t, srv.Encryptor.IsEnabled(), tt.wantEncryption)
			testutil.AssertEqual(t, srv.Auditor != nil, tt.wantAuditor)
		})
	}
}

func TestNewServer_InvalidEngineConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtCodec, err := codec.New(&codec.Options{Issuer: testutil.TestIssuer, SigningKey: testSigningKey}, logger)
	testutil.AssertNoError(t, err)
	store := memory.New()
	defer store.Stop()

	_, err = NewServer(mock.NewMockProvider(), jwtCodec, store, &server.Config{}, &Config{Logger: logger})
	if err == nil {
		t.Fatal("a missing issuer must be rejected")
	}
}
