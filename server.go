package oidc

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
	"github.com/giantswarm/oidc-engine/storage"
)

// NewServer creates a protocol engine and applies the security settings of
// config: encryption of pending requests at rest and audit logging.
func NewServer(
	provider providers.Provider,
	codec server.TokenCodec,
	store storage.PendingRequestStore,
	serverConfig *server.Config,
	config *Config,
) (*server.Server, error) {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv, err := server.New(provider, codec, store, serverConfig, logger)
	if err != nil {
		return nil, err
	}

	if len(config.Security.EncryptionKey) > 0 {
		enc, err := security.NewEncryptor(config.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		srv.SetEncryptor(enc)
		logger.Info("Pending request encryption at rest enabled (AES-256-GCM)")
	} else {
		logger.Warn("⚠️  SECURITY WARNING: Pending authorization requests are stored unencrypted",
			"risk", "Anyone with access to the store can read in-flight request parameters",
			"recommendation", "Set Security.EncryptionKey to a 32-byte key")
	}

	if config.Security.EnableAuditLogging {
		auditor := security.NewAuditor(logger, true)
		srv.SetAuditor(auditor)
	}

	return srv, nil
}
