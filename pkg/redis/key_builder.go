package redis

import "strings"

// Namespaces under the environment prefix. Client-scoped keys hold what the
// browser app used to keep in local and session storage.
const (
	NamespaceClient    = "client"
	NamespaceMigration = "migration:email"
)

var environmentPrefixes = map[string]string{
	"production":  "prod",
	"prod":        "prod",
	"staging":     "staging",
	"development": "staging",
	"dev":         "staging",
	"local":       "staging",
	"test":        "test",
}

// KeyBuilder joins key segments under an environment prefix
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder picks the prefix for environment. Unknown names map to prod
// so a misconfigured deployment never writes into staging keys.
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix, ok := environmentPrefixes[strings.ToLower(strings.TrimSpace(environment))]
	if !ok {
		prefix = "prod"
	}
	return &KeyBuilder{prefix: prefix}
}

// Prefix returns the environment prefix
func (kb *KeyBuilder) Prefix() string {
	return kb.prefix
}

func (kb *KeyBuilder) join(parts ...string) string {
	return kb.prefix + ":" + strings.Join(parts, ":")
}

// KeyClient builds a key in the namespace of one client (browser)
func (kb *KeyBuilder) KeyClient(clientID, name string) string {
	return kb.join(NamespaceClient, clientID, name)
}

// ClientKeys builds KeyClient for every name
func (kb *KeyBuilder) ClientKeys(clientID string, names ...string) []string {
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = kb.KeyClient(clientID, name)
	}
	return keys
}

// KeyMigration builds the global one-shot migration marker for an email hash
func (kb *KeyBuilder) KeyMigration(emailHash string) string {
	return kb.join(NamespaceMigration, emailHash)
}
