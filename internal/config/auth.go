package config

import (
	"os"

	pkgerrors "github.com/kata-ci/staticbuild/internal/errors"
)

// Environment variables carrying the registry credential pair. The secret
// store integration (CI) injects these; locally they come from .env.
const (
	EnvRegistryUsername = "REGISTRY_USERNAME"
	EnvRegistryPassword = "REGISTRY_PASSWORD"
)

// RegistryAuth is the credential pair passed through to build tasks that
// push images. The orchestrator never interprets it.
type RegistryAuth struct {
	Username string
	Password string
}

// Resolved reports whether both halves of the pair are present.
func (a RegistryAuth) Resolved() bool { return a.Username != "" && a.Password != "" }

// ResolveRegistryAuth reads the credential pair from the environment.
// Missing credentials are fatal: when a push is requested the pipeline must
// fail before any build time is spent.
func ResolveRegistryAuth() (RegistryAuth, error) {
	auth := RegistryAuth{
		Username: os.Getenv(EnvRegistryUsername),
		Password: os.Getenv(EnvRegistryPassword),
	}
	if auth.Username == "" {
		return RegistryAuth{}, pkgerrors.CredentialsMissing(EnvRegistryUsername)
	}
	if auth.Password == "" {
		return RegistryAuth{}, pkgerrors.CredentialsMissing(EnvRegistryPassword)
	}
	return auth, nil
}
