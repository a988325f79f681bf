// Package config loads the configuration of the bundled oidc-server binary.
//
// Sources are applied in order: a .env file (godotenv), a YAML file with
// ${VAR} expansion (yaml.v3), then OIDC_* environment variables
// (caarlos0/env). The result is checked with validator struct tags.
//
// Environment variables are grouped by section, for example OIDC_ISSUER,
// OIDC_TOKENS_SIGNING_KEY, OIDC_STORAGE_TYPE or OIDC_RATE_LIMIT_RATE.
// Clients and users are only read from the YAML file.
package config
