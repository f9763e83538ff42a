package postgres

import (
	"context"
	"fmt"

	"github.com/corgi-proxy/corgi/internal/store"
)

// ResolveToken implements identity.TokenStore: it looks up the alias
// mapped to a bearer token for a given upstream instance.
func (s *Store) ResolveToken(ctx context.Context, instance, token string) (alias string, ok bool) {
	err := s.db.QueryRowContext(ctx, `
		SELECT alias FROM token_mappings
		WHERE instance = $1 AND opaque_token = $2`, instance, token,
	).Scan(&alias)
	if err != nil {
		return "", false
	}
	return alias, true
}

// PutTokenMapping inserts or replaces a token mapping. Exposed for the
// identity-issuance boundary component; the proxy's request path never
// calls it.
func (s *Store) PutTokenMapping(m *store.TokenMapping) error {
	_, err := s.db.Exec(`
		INSERT INTO token_mappings (alias, instance, opaque_token, expiry, scopes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance, opaque_token) DO UPDATE SET
			alias = excluded.alias,
			expiry = excluded.expiry,
			scopes = excluded.scopes`,
		m.Alias, m.Instance, m.OpaqueToken, m.Expiry, m.Scopes,
	)
	if err != nil {
		return fmt.Errorf("postgres: put token mapping: %w", err)
	}
	return nil
}

// DeleteTokenMapping revokes a token mapping.
func (s *Store) DeleteTokenMapping(instance, token string) error {
	_, err := s.db.Exec(
		"DELETE FROM token_mappings WHERE instance = $1 AND opaque_token = $2", instance, token)
	if err != nil {
		return fmt.Errorf("postgres: delete token mapping: %w", err)
	}
	return nil
}
