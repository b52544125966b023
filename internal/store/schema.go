package store

// schema contains the SQL statements to create the dynlink dump database.
const schema = `
-- Types table
CREATE TABLE IF NOT EXISTS types (
    name       TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    super      TEXT,
    interfaces TEXT,
    enclosing  TEXT,
    strategy   TEXT,
    origin     TEXT NOT NULL DEFAULT 'model'
);

CREATE INDEX IF NOT EXISTS idx_types_kind ON types(kind);

-- Methods table
CREATE TABLE IF NOT EXISTS methods (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    owner    TEXT NOT NULL,
    name     TEXT NOT NULL,
    sig      TEXT NOT NULL,
    static   INTEGER NOT NULL DEFAULT 0,
    private  INTEGER NOT NULL DEFAULT 0,
    abstract INTEGER NOT NULL DEFAULT 0,
    strategy TEXT,
    FOREIGN KEY (owner) REFERENCES types(name)
);

CREATE INDEX IF NOT EXISTS idx_methods_owner ON methods(owner);
CREATE INDEX IF NOT EXISTS idx_methods_name ON methods(name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_methods_unique ON methods(owner, name, sig, static);

-- Generated implementations, one row per call site
CREATE TABLE IF NOT EXISTS implementations (
    site_id    TEXT PRIMARY KEY,
    impl       TEXT NOT NULL,
    interface  TEXT NOT NULL,
    method     TEXT NOT NULL,
    sig        TEXT NOT NULL,
    strategy   TEXT NOT NULL,
    source     TEXT,
    extra_args TEXT,
    caller     TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_implementations_impl ON implementations(impl);
CREATE INDEX IF NOT EXISTS idx_implementations_strategy ON implementations(strategy);

-- Resolution trace
CREATE TABLE IF NOT EXISTS resolutions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id    TEXT,
    method     TEXT NOT NULL,
    receiver   TEXT,
    arg_types  TEXT,
    kind       TEXT NOT NULL,
    mode       TEXT NOT NULL,
    selected   TEXT,
    attempts   INTEGER NOT NULL,
    outcome    TEXT NOT NULL,
    error      TEXT,
    elapsed_ns INTEGER NOT NULL,
    at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_site ON resolutions(site_id);
CREATE INDEX IF NOT EXISTS idx_resolutions_outcome ON resolutions(outcome);

-- Metadata table for dump info
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT
);
`
