package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mailio/go-mailio-datawallet/types"
)

// PostgresRepository implements Repository on a JSONB table per database name.
// Revisions are stored in their own column and exposed as "N-pg" in the _rev field.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	dbName string
	table  string
}

func NewPostgresRepository(ctx context.Context, pool *pgxpool.Pool, dbName string) (Repository, error) {
	r := &PostgresRepository{
		pool:   pool,
		dbName: dbName,
		table:  pgx.Identifier{dbName}.Sanitize(),
	}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure %s schema: %w", dbName, err)
	}
	return r, nil
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	idx := pgx.Identifier{"idx_" + r.dbName + "_doc"}.Sanitize()
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			rev        INTEGER NOT NULL,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (doc jsonb_path_ops);
	`, r.table, idx, r.table))
	return err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (interface{}, error) {
	var rev int
	var doc []byte
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT rev, doc FROM %s WHERE id = $1`, r.table), id).Scan(&rev, &doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return withRevision(doc, id, rev)
}

// Find uses jsonb containment for equality and an array containment test for $in.
// A limit of 0 returns every match.
func (r *PostgresRepository) Find(ctx context.Context, selector map[string]interface{}, limit int) ([]interface{}, error) {
	where, args, err := selectorQuery(selector)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, rev, doc FROM %s WHERE %s ORDER BY id`, r.table, where)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []interface{}{}
	for rows.Next() {
		var id string
		var rev int
		var doc []byte
		if err := rows.Scan(&id, &rev, &doc); err != nil {
			return nil, err
		}
		full, err := withRevision(doc, id, rev)
		if err != nil {
			return nil, err
		}
		out = append(out, full)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Save(ctx context.Context, docID string, data interface{}) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: document must be a json object", types.ErrBadRequest)
	}
	revStr, _ := doc["_rev"].(string)
	delete(doc, "_rev")
	doc["_id"] = docID
	stored, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}

	if revStr == "" {
		tag, err := r.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, rev, doc) VALUES ($1, 1, $2::jsonb) ON CONFLICT (id) DO NOTHING`, r.table), docID, stored)
		if err != nil {
			return "", err
		}
		if tag.RowsAffected() == 0 {
			return "", types.ErrConflict
		}
		return formatRevision(1), nil
	}

	rev, err := parseRevision(revStr)
	if err != nil {
		return "", types.ErrConflict
	}
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET rev = rev + 1, doc = $3::jsonb, updated_at = NOW() WHERE id = $1 AND rev = $2`, r.table), docID, rev, stored)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", types.ErrConflict
	}
	return formatRevision(rev + 1), nil
}

func (r *PostgresRepository) GetDBName() string {
	return r.dbName
}

func (r *PostgresRepository) GetClient() interface{} {
	return r.pool
}

func formatRevision(rev int) string {
	return strconv.Itoa(rev) + "-pg"
}

func parseRevision(rev string) (int, error) {
	n, _, _ := strings.Cut(rev, "-")
	return strconv.Atoi(n)
}

func withRevision(doc []byte, id string, rev int) (json.RawMessage, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, err
	}
	m["_id"] = id
	m["_rev"] = formatRevision(rev)
	out, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// selectorQuery builds the WHERE clause and its arguments. Equality fields (and $eq) become one
// containment document, every $in field adds `$n::jsonb @> jsonb_build_array(doc #> $m::text[])`.
func selectorQuery(selector map[string]interface{}) (string, []interface{}, error) {
	equality := map[string]interface{}{}
	inFields := []string{}
	for field, value := range selector {
		if op, ok := value.(map[string]interface{}); ok {
			if _, hasIn := op["$in"]; hasIn {
				if len(op) != 1 {
					return "", nil, fmt.Errorf("%w: unsupported selector operator on %s", types.ErrBadRequest, field)
				}
				inFields = append(inFields, field)
				continue
			}
		}
		equality[field] = value
	}
	sort.Strings(inFields)

	containment, err := containmentDocument(equality)
	if err != nil {
		return "", nil, err
	}
	clauses := []string{"doc @> $1::jsonb"}
	args := []interface{}{containment}
	for _, field := range inFields {
		list, err := json.Marshal(selector[field].(map[string]interface{})["$in"])
		if err != nil {
			return "", nil, err
		}
		var values []interface{}
		if uErr := json.Unmarshal(list, &values); uErr != nil || values == nil {
			return "", nil, fmt.Errorf("%w: $in on %s requires a list", types.ErrBadRequest, field)
		}
		args = append(args, string(list), strings.Split(field, "."))
		clauses = append(clauses, fmt.Sprintf("$%d::jsonb @> jsonb_build_array(doc #> $%d::text[])", len(args)-1, len(args)))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// containmentDocument converts {"a.b": 1, "c": 2} into {"a": {"b": 1}, "c": 2}
func containmentDocument(selector map[string]interface{}) (string, error) {
	root := map[string]interface{}{}
	for field, value := range selector {
		if op, ok := value.(map[string]interface{}); ok {
			eq, hasEq := op["$eq"]
			if !hasEq || len(op) != 1 {
				return "", fmt.Errorf("%w: unsupported selector operator on %s", types.ErrBadRequest, field)
			}
			value = eq
		}
		parts := strings.Split(field, ".")
		current := root
		for _, p := range parts[:len(parts)-1] {
			next, ok := current[p].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				current[p] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = value
	}
	b, err := json.Marshal(root)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
