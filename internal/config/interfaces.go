package config

import "context"

// SecretProvider resolves secret references to plaintext values. The keys
// are provider-specific references (file paths for FileProvider).
type SecretProvider interface {
	// GetParametersBatch returns a map of key -> plaintext value for every
	// key it could resolve. Unresolvable keys are omitted.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
