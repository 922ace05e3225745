package pgx

const insertVersionSQL = `
INSERT INTO kg_versions (version, document_id, document_version, committed_at, changed_nodes, changed_edges, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

const upsertNodesSQL = `
INSERT INTO kg_nodes (id, type, label, aliases, attributes, confidence, state, created_in, updated_in)
SELECT n.id, n.type, n.label,
       ARRAY(SELECT jsonb_array_elements_text(n.aliases::jsonb)),
       n.attributes::jsonb, n.confidence, n.state, n.created_in, $9::bigint
FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::float8[], $7::text[], $8::bigint[])
     AS n(id, type, label, aliases, attributes, confidence, state, created_in)
ON CONFLICT (id) DO UPDATE
SET label      = EXCLUDED.label,
    aliases    = EXCLUDED.aliases,
    attributes = EXCLUDED.attributes,
    confidence = EXCLUDED.confidence,
    state      = EXCLUDED.state,
    updated_in = EXCLUDED.updated_in;
`

const upsertEdgesSQL = `
INSERT INTO kg_edges (id, source_id, target_id, relation, confidence, state, created_in, updated_in)
SELECT e.id, e.source_id, e.target_id, e.relation, e.confidence, e.state, e.created_in, $8::bigint
FROM UNNEST($1::text[], $2::text[], $3::text[], $4::text[], $5::float8[], $6::text[], $7::bigint[])
     AS e(id, source_id, target_id, relation, confidence, state, created_in)
ON CONFLICT (id) DO UPDATE
SET confidence = EXCLUDED.confidence,
    state      = EXCLUDED.state,
    updated_in = EXCLUDED.updated_in;
`

const insertRevisionsSQL = `
INSERT INTO kg_revisions (item_kind, item_id, version, state, data)
SELECT $1::text, r.item_id, $3::bigint, r.state, r.data::jsonb
FROM UNNEST($2::text[], $4::text[], $5::text[]) AS r(item_id, state, data);
`

const deleteProvenanceSQL = `
DELETE FROM kg_provenance
WHERE item_kind = $1 AND item_id = ANY($2::text[]);
`

const insertProvenanceSQL = `
INSERT INTO kg_provenance (item_kind, item_id, document_id, document_version, confidence, evidence)
SELECT $1::text, p.item_id, p.document_id, p.document_version, p.confidence, p.evidence::jsonb
FROM UNNEST($2::text[], $3::text[], $4::bigint[], $5::float8[], $6::text[])
     AS p(item_id, document_id, document_version, confidence, evidence);
`

const selectPayloadsSQL = `
SELECT version, payload FROM kg_versions ORDER BY version;
`
