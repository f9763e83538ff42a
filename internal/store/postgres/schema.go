package postgres

// SQL schema constants mirroring internal/store's SQLite schema, adapted
// to PostgreSQL dialect: BIGSERIAL instead of AUTOINCREMENT, JSONB for
// structured fields (media_json, context_json, scopes) instead of TEXT,
// BYTEA instead of BLOB. Table and column names match exactly so the two
// backends are interchangeable from the caller's point of view.

const schemaPosts = `
CREATE TABLE IF NOT EXISTS posts (
    instance TEXT NOT NULL,
    post_id TEXT NOT NULL,
    author_handle TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    language_confidence DOUBLE PRECISION NOT NULL DEFAULT 0.0,
    favorites BIGINT NOT NULL DEFAULT 0,
    reblogs BIGINT NOT NULL DEFAULT 0,
    replies BIGINT NOT NULL DEFAULT 0,
    media_json JSONB NOT NULL DEFAULT '{}',
    discovery_source TEXT NOT NULL DEFAULT '',
    discovered_at TEXT NOT NULL,
    discovery_reason TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (instance, post_id)
);
CREATE INDEX IF NOT EXISTS idx_posts_discovered ON posts(discovered_at);
CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_handle);
CREATE INDEX IF NOT EXISTS idx_posts_language ON posts(language);
`

const schemaInteractions = `
CREATE TABLE IF NOT EXISTS interactions (
    id BIGSERIAL PRIMARY KEY,
    alias TEXT NOT NULL,
    instance TEXT NOT NULL,
    post_id TEXT NOT NULL,
    action TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    context_json JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_interactions_alias ON interactions(alias, timestamp);
CREATE INDEX IF NOT EXISTS idx_interactions_post ON interactions(instance, post_id);
CREATE INDEX IF NOT EXISTS idx_interactions_alias_post_action ON interactions(alias, instance, post_id, action);
`

const schemaRankings = `
CREATE TABLE IF NOT EXISTS rankings (
    alias TEXT NOT NULL,
    instance TEXT NOT NULL,
    post_id TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    reason_category TEXT NOT NULL DEFAULT '',
    reason_detail TEXT NOT NULL DEFAULT '',
    generated_at TEXT NOT NULL,
    PRIMARY KEY (alias, instance, post_id)
);
CREATE INDEX IF NOT EXISTS idx_rankings_alias_score ON rankings(alias, score DESC);
CREATE INDEX IF NOT EXISTS idx_rankings_generated ON rankings(alias, generated_at);
`

const schemaAuthorAffinity = `
CREATE TABLE IF NOT EXISTS author_affinity (
    alias TEXT NOT NULL,
    author_handle TEXT NOT NULL,
    positive_count BIGINT NOT NULL DEFAULT 0,
    total_count BIGINT NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL,
    dirty BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (alias, author_handle)
);
`

const schemaOptOutCache = `
CREATE TABLE IF NOT EXISTS opt_out_cache (
    author_handle TEXT PRIMARY KEY,
    opted_out BOOLEAN NOT NULL DEFAULT FALSE,
    fetched_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_optout_fetched ON opt_out_cache(fetched_at);
`

const schemaTokenMappings = `
CREATE TABLE IF NOT EXISTS token_mappings (
    alias TEXT NOT NULL,
    instance TEXT NOT NULL,
    opaque_token TEXT NOT NULL,
    expiry TEXT,
    scopes JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (instance, opaque_token)
);
CREATE INDEX IF NOT EXISTS idx_tokens_alias ON token_mappings(alias);
`

const schemaInstanceHealth = `
CREATE TABLE IF NOT EXISTS instance_health (
    instance TEXT PRIMARY KEY,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    last_success_at TEXT,
    cooldown_until TEXT
);
`

const schemaCache = `
CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    class TEXT NOT NULL DEFAULT '',
    status_code INTEGER NOT NULL DEFAULT 200,
    content_type TEXT NOT NULL DEFAULT 'application/json',
    response_body BYTEA NOT NULL,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaPosts,
	schemaInteractions,
	schemaRankings,
	schemaAuthorAffinity,
	schemaOptOutCache,
	schemaTokenMappings,
	schemaInstanceHealth,
	schemaCache,
	schemaMigrations,
}
