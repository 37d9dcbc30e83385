package sqlite

const schema = `
-- Task queue table
CREATE TABLE IF NOT EXISTS task (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL UNIQUE,
    prompt TEXT NOT NULL,
    extra_args TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'processing', 'completed')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    image_path TEXT,
    -- A completed task must reference its artifact; anything else must not.
    CHECK (
        (status = 'completed' AND image_path IS NOT NULL) OR
        (status != 'completed' AND image_path IS NULL)
    )
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_task_task_id ON task(task_id);
-- Claim query: oldest pending row first.
CREATE INDEX IF NOT EXISTS idx_task_status_created ON task(status, created_at);
`

// legacyImageDataProbe detects databases that predate sidecar artifact
// storage and still carry the inline image_data BLOB column. Used by
// HasLegacyImageData; the schema above never creates the column.
const legacyImageDataProbe = `
SELECT COUNT(*) FROM pragma_table_info('task') WHERE name = 'image_data'
`
