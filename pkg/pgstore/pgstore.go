// Package pgstore is the relational Data Store: Postgres with pgvector for
// the fallback similarity scan, backing every persisted entity the pipelines
// share (runs, documents, chunks, stage results, wiki pages, checklist
// results). It is the single shared mutable resource the concurrency model
// grants transactional write access to.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/constructionrag/ragcore/engine/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DataStore is the pgx-pool-backed relational store.
type DataStore struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the schema described in the
// persisted-layout contract exists.
func Open(ctx context.Context, dsn string, maxConns int32) (*DataStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	store := &DataStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the pool.
func (s *DataStore) Close() { s.pool.Close() }

const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS indexing_runs (
	id              UUID PRIMARY KEY,
	access_level    TEXT NOT NULL,
	upload_kind     TEXT NOT NULL,
	owner_user_id   TEXT NOT NULL DEFAULT '',
	project_ref     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	config_snapshot JSONB NOT NULL,
	error_message   TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS documents (
	id            UUID PRIMARY KEY,
	filename      TEXT NOT NULL,
	blob_key      TEXT NOT NULL,
	page_count    INT NOT NULL DEFAULT 0,
	byte_size     BIGINT NOT NULL DEFAULT 0,
	owner_user_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS indexing_run_documents (
	indexing_run_id UUID NOT NULL REFERENCES indexing_runs(id) ON DELETE CASCADE,
	document_id     UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	PRIMARY KEY (indexing_run_id, document_id)
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id                UUID PRIMARY KEY,
	document_id       UUID NOT NULL,
	indexing_run_id   UUID NOT NULL,
	ordinal           INT NOT NULL,
	content           TEXT NOT NULL,
	page_number       INT NOT NULL DEFAULT 0,
	element_category  TEXT NOT NULL DEFAULT '',
	source_filename   TEXT NOT NULL DEFAULT '',
	section_title     TEXT NOT NULL DEFAULT '',
	has_numbers       BOOLEAN NOT NULL DEFAULT false,
	complexity        TEXT NOT NULL DEFAULT 'simple',
	merged_from       JSONB NOT NULL DEFAULT '[]',
	enrichment_meta   JSONB NOT NULL DEFAULT '{}',
	embedding_1024    vector(1024),
	UNIQUE (indexing_run_id, document_id, ordinal)
);

CREATE INDEX IF NOT EXISTS document_chunks_run_idx ON document_chunks (indexing_run_id);

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema() AND indexname = 'document_chunks_embedding_hnsw_idx'
	) THEN
		EXECUTE 'CREATE INDEX document_chunks_embedding_hnsw_idx ON document_chunks USING hnsw (embedding_1024 vector_cosine_ops)';
	END IF;
END
$$;

CREATE TABLE IF NOT EXISTS stage_results (
	indexing_run_id UUID NOT NULL,
	document_id     TEXT NOT NULL DEFAULT '',
	stage           TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	ended_at        TIMESTAMPTZ NOT NULL,
	summary         JSONB NOT NULL DEFAULT '{}',
	samples         JSONB NOT NULL DEFAULT '[]',
	data            JSONB NOT NULL DEFAULT '{}',
	error_message   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (indexing_run_id, document_id, stage)
);

CREATE TABLE IF NOT EXISTS wiki_generation_runs (
	id                UUID PRIMARY KEY,
	indexing_run_id   UUID NOT NULL REFERENCES indexing_runs(id) ON DELETE CASCADE,
	status            TEXT NOT NULL,
	storage_prefix    TEXT NOT NULL DEFAULT '',
	pages_metadata    JSONB NOT NULL DEFAULT '[]',
	error_message     TEXT NOT NULL DEFAULT '',
	started_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS checklist_analysis_runs (
	id                 UUID PRIMARY KEY,
	indexing_run_id    UUID NOT NULL REFERENCES indexing_runs(id) ON DELETE CASCADE,
	checklist_content  TEXT NOT NULL,
	model_name         TEXT NOT NULL DEFAULT '',
	access_level       TEXT NOT NULL,
	status             TEXT NOT NULL,
	progress_current   INT NOT NULL DEFAULT 0,
	progress_total     INT NOT NULL DEFAULT 0,
	raw_analysis       TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS checklist_results (
	checklist_run_id UUID NOT NULL REFERENCES checklist_analysis_runs(id) ON DELETE CASCADE,
	item_number      INT NOT NULL,
	item_name        TEXT NOT NULL,
	status           TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	primary_source   JSONB,
	all_sources      JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (checklist_run_id, item_number)
);
`

func (s *DataStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil && strings.Contains(err.Error(), "hnsw") {
		// HNSW construction can fail against an ancient pgvector build; the
		// scan fallback in Retrieval Core does not depend on the index.
		err = nil
	}
	return err
}

// --- indexing.Store implementation -----------------------------------------

// SaveStageResult upserts one stage's outcome. Commutative: the primary key
// is (run, document, stage), so retries of the same stage simply overwrite.
func (s *DataStore) SaveStageResult(ctx context.Context, res domain.StageResult) error {
	documentID, _ := res.Summary["document_id"].(string)
	summary, err := json.Marshal(res.Summary)
	if err != nil {
		return fmt.Errorf("pgstore: marshal stage summary: %w", err)
	}
	samples, err := json.Marshal(res.Samples)
	if err != nil {
		return fmt.Errorf("pgstore: marshal stage samples: %w", err)
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Errorf("pgstore: marshal stage data: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO stage_results (indexing_run_id, document_id, stage, status, started_at, ended_at, summary, samples, data, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (indexing_run_id, document_id, stage) DO UPDATE SET
			status = EXCLUDED.status, started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at,
			summary = EXCLUDED.summary, samples = EXCLUDED.samples, data = EXCLUDED.data,
			error_message = EXCLUDED.error_message`,
		res.RunID, documentID, string(res.Stage), string(res.Status), res.StartedAt, res.EndedAt,
		summary, samples, data, res.ErrorMessage)
	if err != nil {
		return fmt.Errorf("pgstore: save stage result: %w", err)
	}
	return nil
}

// LoadStageResult reads back a persisted StageResult. Its Data field is
// decoded as a raw map, not the stage's original typed output, since the
// relational store only ever round-trips JSON: callers that need typed
// reuse (the orchestrator's stage cache) pass a concrete type by marshaling
// through the same codec and asserting the shape back.
func (s *DataStore) LoadStageResult(ctx context.Context, runID string, stage domain.StageName, documentID string) (domain.StageResult, bool, error) {
	var res domain.StageResult
	var summary, samples, data []byte
	row := s.pool.QueryRow(ctx, `
		SELECT status, started_at, ended_at, summary, samples, data, error_message
		FROM stage_results WHERE indexing_run_id = $1 AND document_id = $2 AND stage = $3`,
		runID, documentID, string(stage))

	var status, errMsg string
	var startedAt, endedAt time.Time
	if err := row.Scan(&status, &startedAt, &endedAt, &summary, &samples, &data, &errMsg); err != nil {
		if err == pgx.ErrNoRows {
			return domain.StageResult{}, false, nil
		}
		return domain.StageResult{}, false, fmt.Errorf("pgstore: load stage result: %w", err)
	}

	res = domain.StageResult{
		RunID: runID, Stage: stage, Status: domain.RunStatus(status),
		StartedAt: startedAt, EndedAt: endedAt, Duration: endedAt.Sub(startedAt), ErrorMessage: errMsg,
	}
	_ = json.Unmarshal(summary, &res.Summary)
	var rawData map[string]any
	_ = json.Unmarshal(data, &rawData)
	res.Data = rawData
	return res, true, nil
}

// SaveChunks persists a batch of embedded chunks, keyed uniquely by
// (run, document, ordinal) so retries cannot duplicate rows.
func (s *DataStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin save chunks: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		mergedFrom, _ := json.Marshal(c.MergedFrom)
		enrichment, _ := json.Marshal(c.EnrichmentMeta)

		var vec *pgvector.Vector
		if c.Embedding != nil {
			v := pgvector.NewVector(c.Embedding)
			vec = &v
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (id, document_id, indexing_run_id, ordinal, content, page_number,
				element_category, source_filename, section_title, has_numbers, complexity, merged_from,
				enrichment_meta, embedding_1024)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (indexing_run_id, document_id, ordinal) DO UPDATE SET
				content = EXCLUDED.content, embedding_1024 = EXCLUDED.embedding_1024,
				enrichment_meta = EXCLUDED.enrichment_meta`,
			id, c.DocumentID, c.IndexingRunID, c.Ordinal, c.Content, c.PageNumber,
			string(c.ElementCategory), c.SourceFilename, c.SectionTitle, c.HasNumbers, string(c.Complexity),
			mergedFrom, enrichment, vec)
		if err != nil {
			return fmt.Errorf("pgstore: insert chunk %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit save chunks: %w", err)
	}
	return nil
}

// ChunksForRun returns every chunk of a run, including ones with a null
// embedding (callers filter those out for retrieval purposes themselves).
func (s *DataStore) ChunksForRun(ctx context.Context, runID string) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, indexing_run_id, ordinal, content, page_number, element_category,
			source_filename, section_title, has_numbers, complexity, merged_from, enrichment_meta, embedding_1024
		FROM document_chunks WHERE indexing_run_id = $1 ORDER BY document_id, ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query chunks for run: %w", err)
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var category, complexity string
		var mergedFrom, enrichment []byte
		var vec *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.IndexingRunID, &c.Ordinal, &c.Content, &c.PageNumber,
			&category, &c.SourceFilename, &c.SectionTitle, &c.HasNumbers, &complexity, &mergedFrom, &enrichment, &vec); err != nil {
			return nil, fmt.Errorf("pgstore: scan chunk: %w", err)
		}
		c.ElementCategory = domain.ElementCategory(category)
		c.Complexity = domain.TextComplexity(complexity)
		_ = json.Unmarshal(mergedFrom, &c.MergedFrom)
		_ = json.Unmarshal(enrichment, &c.EnrichmentMeta)
		if vec != nil {
			c.Embedding = vec.Slice()
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateRunStatus transitions an indexing run's status and error message.
func (s *DataStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE indexing_runs SET status = $2, error_message = $3, completed_at = $4 WHERE id = $1`,
		runID, string(status), errMsg, completedAt)
	if err != nil {
		return fmt.Errorf("pgstore: update run status: %w", err)
	}
	return nil
}

// --- run & document lifecycle ----------------------------------------------

// CreateIndexingRun inserts a new run row with status "pending".
func (s *DataStore) CreateIndexingRun(ctx context.Context, run domain.IndexingRun) error {
	cfg, err := json.Marshal(run.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("pgstore: marshal config snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO indexing_runs (id, access_level, upload_kind, owner_user_id, project_ref, status, config_snapshot, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		run.ID, string(run.AccessLevel), string(run.UploadKind), run.OwnerUserID, run.ProjectRef,
		string(domain.StatusPending), cfg, run.StartedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create indexing run: %w", err)
	}
	return nil
}

// GetIndexingRun reads back one run by id.
func (s *DataStore) GetIndexingRun(ctx context.Context, runID string) (domain.IndexingRun, error) {
	var run domain.IndexingRun
	var accessLevel, uploadKind, status string
	var cfg []byte
	row := s.pool.QueryRow(ctx, `
		SELECT id, access_level, upload_kind, owner_user_id, project_ref, status, config_snapshot,
			error_message, started_at, completed_at
		FROM indexing_runs WHERE id = $1`, runID)
	if err := row.Scan(&run.ID, &accessLevel, &uploadKind, &run.OwnerUserID, &run.ProjectRef, &status,
		&cfg, &run.ErrorMessage, &run.StartedAt, &run.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.IndexingRun{}, domain.NewError(domain.KindNotFound, "pgstore.get_indexing_run", domain.ErrRunNotFound)
		}
		return domain.IndexingRun{}, fmt.Errorf("pgstore: get indexing run: %w", err)
	}
	run.AccessLevel = domain.AccessLevel(accessLevel)
	run.UploadKind = domain.UploadKind(uploadKind)
	run.Status = domain.RunStatus(status)
	_ = json.Unmarshal(cfg, &run.ConfigSnapshot)
	return run, nil
}

// SaveDocument upserts a document row and links it to a run.
func (s *DataStore) SaveDocument(ctx context.Context, runID string, doc domain.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, blob_key, page_count, byte_size, owner_user_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET filename = EXCLUDED.filename, blob_key = EXCLUDED.blob_key,
			page_count = EXCLUDED.page_count, byte_size = EXCLUDED.byte_size`,
		doc.ID, doc.Filename, doc.BlobKey, doc.PageCount, doc.ByteSize, doc.OwnerUserID)
	if err != nil {
		return fmt.Errorf("pgstore: save document: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO indexing_run_documents (indexing_run_id, document_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, runID, doc.ID)
	if err != nil {
		return fmt.Errorf("pgstore: link document to run: %w", err)
	}
	return nil
}

// DocumentsForRun returns every document linked to a run.
func (s *DataStore) DocumentsForRun(ctx context.Context, runID string) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.filename, d.blob_key, d.page_count, d.byte_size, d.owner_user_id
		FROM documents d
		JOIN indexing_run_documents rd ON rd.document_id = d.id
		WHERE rd.indexing_run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: documents for run: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.BlobKey, &d.PageCount, &d.ByteSize, &d.OwnerUserID); err != nil {
			return nil, fmt.Errorf("pgstore: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
