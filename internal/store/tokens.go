package store

import (
	"context"
	"fmt"
	"time"
)

// TokenMapping is a boundary record: writes are owned by the
// out-of-scope identity-issuance component, the core only ever reads
// via ResolveToken.
type TokenMapping struct {
	Alias       string
	Instance    string
	OpaqueToken string
	Expiry      string
	Scopes      string
}

// ResolveToken implements identity.TokenStore: it looks up the alias
// mapped to a bearer token for a given upstream instance. Expired
// mappings are treated as not-found.
func (s *Store) ResolveToken(ctx context.Context, instance, token string) (alias string, ok bool) {
	var expiry string
	err := s.reader.QueryRow(`
		SELECT alias, COALESCE(expiry, '') FROM token_mappings
		WHERE instance = ? AND opaque_token = ?`, instance, token,
	).Scan(&alias, &expiry)
	if err != nil {
		return "", false
	}
	if expiry != "" {
		if until, perr := time.Parse(time.RFC3339, expiry); perr == nil && !time.Now().UTC().Before(until) {
			return "", false
		}
	}
	return alias, true
}

// PutTokenMapping inserts or replaces a token mapping. This is exposed for
// the identity-issuance boundary component (e.g. an admin CLI or
// out-of-band enrollment flow); the proxy's request path never calls it.
func (s *Store) PutTokenMapping(m *TokenMapping) error {
	_, err := s.writer.Exec(`
		INSERT INTO token_mappings (alias, instance, opaque_token, expiry, scopes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(instance, opaque_token) DO UPDATE SET
			alias = excluded.alias,
			expiry = excluded.expiry,
			scopes = excluded.scopes`,
		m.Alias, m.Instance, m.OpaqueToken, m.Expiry, m.Scopes,
	)
	if err != nil {
		return fmt.Errorf("store: put token mapping: %w", err)
	}
	return nil
}

// DeleteTokenMapping revokes a token mapping.
func (s *Store) DeleteTokenMapping(instance, token string) error {
	_, err := s.writer.Exec(`
		DELETE FROM token_mappings WHERE instance = ? AND opaque_token = ?`, instance, token)
	if err != nil {
		return fmt.Errorf("store: delete token mapping: %w", err)
	}
	return nil
}
