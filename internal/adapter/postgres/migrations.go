package postgres

// Each source owns one measurement table. The tables share a shape; only the
// metric keys inside the jsonb column differ per vendor. The dedup constraint
// on (entity_id, obs_date, obs_time) is what makes overlapping re-fetches
// safe, so it lives here and not in application logic.
const measurementTableSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    entity_id TEXT NOT NULL,
    obs_date TEXT NOT NULL,
    obs_time TEXT NOT NULL,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    metrics JSONB NOT NULL,
    observed_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT %[1]s_dedup_key UNIQUE (entity_id, obs_date, obs_time)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_entity_observed
    ON %[1]s (entity_id, observed_at DESC);
`

// Source-wide checkpoints store an empty entity string, so the key can stay
// a primary key instead of a nullable unique pair.
const checkpointTableSQL = `
CREATE TABLE IF NOT EXISTS checkpoints (
    source TEXT NOT NULL,
    entity TEXT NOT NULL DEFAULT '',
    last_confirmed TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (source, entity)
);
`
