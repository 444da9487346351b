package platform

import (
	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/pkg/errors"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/secrets"
)

// Factory builds platform clients from stored connections, decrypting
// their configuration on the way.
type Factory struct {
	codec secrets.Codec
	cfg   Config
	log   *logger.Logger
}

// NewFactory creates a client factory.
func NewFactory(codec secrets.Codec, cfg Config, log *logger.Logger) *Factory {
	return &Factory{codec: codec, cfg: cfg, log: log}
}

// ClientFor builds the client variant for a stored connection.
// Unknown platforms are rejected up front, before any credential handling.
func (f *Factory) ClientFor(conn *connection.Connection) (Client, error) {
	platformCfg, err := secrets.DecodeConfig(f.codec, conn.EncryptedConfig)
	if err != nil {
		return nil, err
	}
	return f.Build(conn.Platform, platformCfg)
}

// Build constructs a client for an already-decrypted configuration.
func (f *Factory) Build(p connection.Platform, cfg *secrets.PlatformConfig) (Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.ValidationError("platform configuration missing server URL")
	}

	switch p {
	case connection.PlatformJira:
		if cfg.Email == "" || cfg.APIToken == "" {
			return nil, errors.ValidationError("jira requires email and API token")
		}
		return NewJiraClient(cfg.ServerURL, BasicAuth{Email: cfg.Email, APIToken: cfg.APIToken}, f.cfg, f.log), nil
	case connection.PlatformTrofos:
		if cfg.APIToken == "" {
			return nil, errors.ValidationError("trofos requires an API token")
		}
		return NewTrofosClient(cfg.ServerURL, APIKey{Token: cfg.APIToken}, f.cfg, f.log), nil
	case connection.PlatformMonday:
		if cfg.APIToken == "" {
			return nil, errors.ValidationError("monday requires an API token")
		}
		return NewMondayClient(cfg.ServerURL, APIKey{Token: cfg.APIToken}, f.cfg, f.log), nil
	default:
		return nil, errors.UnsupportedPlatformError(string(p))
	}
}
