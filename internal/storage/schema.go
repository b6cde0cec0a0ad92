package storage

const schema = `
-- Committees mirrored from the external directory
CREATE TABLE IF NOT EXISTS committees (
    name TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    podling INTEGER NOT NULL DEFAULT 0,
    members TEXT NOT NULL DEFAULT '[]',
    committers TEXT NOT NULL DEFAULT '[]',
    release_managers TEXT NOT NULL DEFAULT '[]',
    parent TEXT DEFAULT ''
);

-- Projects: named release lines under a committee
CREATE TABLE IF NOT EXISTS projects (
    name TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    committee TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    super_project TEXT DEFAULT '',
    categories TEXT NOT NULL DEFAULT '[]',
    languages TEXT NOT NULL DEFAULT '[]',
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (committee) REFERENCES committees(name)
);

CREATE INDEX IF NOT EXISTS idx_projects_committee ON projects(committee);

-- Per-project release policy (optional, inherited from super_project)
CREATE TABLE IF NOT EXISTS release_policies (
    project TEXT PRIMARY KEY,
    source_artifact_globs TEXT NOT NULL DEFAULT '[]',
    binary_artifact_globs TEXT NOT NULL DEFAULT '[]',
    min_vote_duration_hours INTEGER NOT NULL DEFAULT 72,
    license_check_mode TEXT NOT NULL DEFAULT 'LIGHTWEIGHT',
    strict_checking INTEGER NOT NULL DEFAULT 0,
    mailto_addresses TEXT NOT NULL DEFAULT '[]',
    workflow_hooks TEXT NOT NULL DEFAULT '[]',
    vote_template TEXT NOT NULL DEFAULT '',
    announce_template TEXT NOT NULL DEFAULT '',
    preserve_download_files INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (project) REFERENCES projects(name) ON DELETE CASCADE
);

-- Releases: one row per (project, version)
CREATE TABLE IF NOT EXISTS releases (
    name TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    version TEXT NOT NULL,
    phase TEXT NOT NULL DEFAULT 'CANDIDATE_DRAFT',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    released_at DATETIME,
    vote_started_at DATETIME,
    vote_ends_at DATETIME,
    vote_duration_hours INTEGER NOT NULL DEFAULT 0,
    vote_thread_id TEXT NOT NULL DEFAULT '',
    podling_thread_id TEXT NOT NULL DEFAULT '',
    vote_manual INTEGER NOT NULL DEFAULT 0,
    vote_resolution TEXT NOT NULL DEFAULT '',
    UNIQUE (project, version),
    FOREIGN KEY (project) REFERENCES projects(name)
);

CREATE INDEX IF NOT EXISTS idx_releases_project ON releases(project);
CREATE INDEX IF NOT EXISTS idx_releases_phase ON releases(phase);

-- Revisions: immutable snapshots, dense sequence per release
CREATE TABLE IF NOT EXISTS revisions (
    release TEXT NOT NULL,
    seq INTEGER NOT NULL,
    number TEXT NOT NULL,
    author TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    phase TEXT NOT NULL,
    parent TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (release, seq),
    UNIQUE (release, number),
    FOREIGN KEY (release) REFERENCES releases(name) ON DELETE CASCADE
);

-- Per-release revision number allocator, bumped under a write lock
CREATE TABLE IF NOT EXISTS revision_counters (
    release TEXT PRIMARY KEY,
    last_allocated_number INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (release) REFERENCES releases(name) ON DELETE CASCADE
);

-- Durable task queue
CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    args TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'QUEUED',
    user_id TEXT NOT NULL DEFAULT '',
    pid INTEGER NOT NULL DEFAULT 0,
    added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    started DATETIME,
    completed DATETIME,
    scheduled_at DATETIME,
    project TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL DEFAULT '',
    revision TEXT NOT NULL DEFAULT '',
    primary_rel_path TEXT NOT NULL DEFAULT '',
    result TEXT,
    error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_added ON tasks(status, added);
CREATE INDEX IF NOT EXISTS idx_tasks_target ON tasks(project, version, revision);

-- Check results: append-only within a revision
CREATE TABLE IF NOT EXISTS check_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    checker TEXT NOT NULL,
    release TEXT NOT NULL,
    revision TEXT NOT NULL,
    primary_path TEXT NOT NULL DEFAULT '',
    member_path TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    data TEXT,
    input_hash TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (release) REFERENCES releases(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_check_results_revision ON check_results(release, revision);
CREATE INDEX IF NOT EXISTS idx_check_results_cache ON check_results(checker, input_hash, primary_path);

-- Committee-scoped glob ignore rules, applied at display time
CREATE TABLE IF NOT EXISTS check_result_ignores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    committee TEXT NOT NULL,
    release_glob TEXT NOT NULL DEFAULT '*',
    checker_glob TEXT NOT NULL DEFAULT '*',
    primary_glob TEXT NOT NULL DEFAULT '*',
    member_glob TEXT NOT NULL DEFAULT '*',
    status_glob TEXT NOT NULL DEFAULT '*',
    message_glob TEXT NOT NULL DEFAULT '*',
    revision_glob TEXT NOT NULL DEFAULT '*',
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (committee) REFERENCES committees(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_ignores_committee ON check_result_ignores(committee);

-- Credential records
CREATE TABLE IF NOT EXISTS public_signing_keys (
    fingerprint TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    key_text TEXT NOT NULL DEFAULT '',
    committees TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ssh_keys (
    fingerprint TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    key_text TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS workflow_ssh_keys (
    fingerprint TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    key_text TEXT NOT NULL DEFAULT '',
    project TEXT NOT NULL,
    expires INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (project) REFERENCES projects(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS personal_access_tokens (
    token_hash TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_used DATETIME
);

-- External publication records
CREATE TABLE IF NOT EXISTS distributions (
    release TEXT NOT NULL,
    platform TEXT NOT NULL,
    owner_namespace TEXT NOT NULL DEFAULT '',
    package TEXT NOT NULL,
    version TEXT NOT NULL,
    staging INTEGER NOT NULL DEFAULT 0,
    upload_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    api_url TEXT NOT NULL DEFAULT '',
    web_url TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (release, platform, owner_namespace, package, version),
    FOREIGN KEY (release) REFERENCES releases(name)
);

-- Miscellaneous (namespace, key) -> value configuration
CREATE TABLE IF NOT EXISTS text_values (
    namespace TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (namespace, key)
);

-- Schema version bookkeeping for migrations
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
