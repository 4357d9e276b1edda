package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOwner struct {
	Wallet string `json:"wallet"`
}

type testDoc struct {
	types.BaseDocument
	Status  string    `json:"status"`
	Owner   testOwner `json:"owner"`
	Counter int       `json:"counter"`
}

func TestMemoryRevisions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository("test")

	doc := &testDoc{Status: "Received"}
	rev, err := repo.Save(ctx, "t1", doc)
	require.NoError(t, err)
	assert.NotEmpty(t, rev)

	// creating again without revision conflicts
	_, err = repo.Save(ctx, "t1", &testDoc{Status: "Received"})
	assert.ErrorIs(t, err, types.ErrConflict)

	raw, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	var loaded testDoc
	require.NoError(t, MapToObject(raw, &loaded))
	assert.Equal(t, "t1", loaded.ID)
	assert.Equal(t, rev, loaded.Rev)

	loaded.Status = "Validating"
	rev2, err := repo.Save(ctx, "t1", &loaded)
	require.NoError(t, err)
	assert.NotEqual(t, rev, rev2)

	// stale revision
	loaded.Status = "Creating"
	_, err = repo.Save(ctx, "t1", &loaded)
	assert.ErrorIs(t, err, types.ErrConflict)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// revision on a missing document
	_, err = repo.Save(ctx, "t2", &testDoc{BaseDocument: types.BaseDocument{Rev: "1-x"}})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestMemoryFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository("test")
	for i, s := range []string{"PendingAuthorization", "Completed", "PendingAuthorization"} {
		d := &testDoc{Status: s, Counter: i}
		d.Owner.Wallet = "0xabc"
		if i == 2 {
			d.Owner.Wallet = "0xdef"
		}
		_, err := repo.Save(ctx, string(rune('a'+i)), d)
		require.NoError(t, err)
	}

	docs, err := repo.Find(ctx, map[string]interface{}{"status": "PendingAuthorization"}, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = repo.Find(ctx, map[string]interface{}{"status": "PendingAuthorization", "owner.wallet": "0xdef"}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	var d testDoc
	require.NoError(t, MapToObject(docs[0], &d))
	assert.Equal(t, 2, d.Counter)

	docs, err = repo.Find(ctx, map[string]interface{}{"counter": map[string]interface{}{"$in": []int{0, 1}}}, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = repo.Find(ctx, map[string]interface{}{"status": "PendingAuthorization"}, 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestMemoryConcurrentUpdatesDetectConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository("test")
	_, err := repo.Save(ctx, "c", &testDoc{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	raw, _ := repo.GetByID(ctx, "c")
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var d testDoc
			MapToObject(raw, &d)
			d.Counter++
			if _, err := repo.Save(ctx, "c", &d); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	// all writers used the same revision, only one can win
	assert.Equal(t, 1, successes)
}

func TestPostgresHelpers(t *testing.T) {
	doc, err := containmentDocument(map[string]interface{}{"status": "Completed", "owner.wallet": "0xabc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Completed","owner":{"wallet":"0xabc"}}`, doc)

	_, err = containmentDocument(map[string]interface{}{"counter": map[string]interface{}{"$gt": 1}})
	assert.ErrorIs(t, err, types.ErrBadRequest)

	rev, err := parseRevision("12-pg")
	require.NoError(t, err)
	assert.Equal(t, 12, rev)
	assert.Equal(t, "13-pg", formatRevision(13))

	full, err := withRevision([]byte(`{"status":"Received"}`), "t1", 3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"t1","_rev":"3-pg","status":"Received"}`, string(full))
}

func TestPostgresSelectorQuery(t *testing.T) {
	where, args, err := selectorQuery(map[string]interface{}{
		"status": map[string]interface{}{"$in": []interface{}{"Received", "Processing"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc @> $1::jsonb AND $2::jsonb @> jsonb_build_array(doc #> $3::text[])", where)
	require.Len(t, args, 3)
	assert.JSONEq(t, `{}`, args[0].(string))
	assert.JSONEq(t, `["Received","Processing"]`, args[1].(string))
	assert.Equal(t, []string{"status"}, args[2])

	where, args, err = selectorQuery(map[string]interface{}{
		"ownerWallet":  "0xabc",
		"summary.kind": map[string]interface{}{"$in": []interface{}{"email"}},
		"status":       map[string]interface{}{"$in": []interface{}{"Completed"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc @> $1::jsonb AND $2::jsonb @> jsonb_build_array(doc #> $3::text[]) AND $4::jsonb @> jsonb_build_array(doc #> $5::text[])", where)
	assert.JSONEq(t, `{"ownerWallet":"0xabc"}`, args[0].(string))
	assert.Equal(t, []string{"status"}, args[2])
	assert.Equal(t, []string{"summary", "kind"}, args[4])

	_, args, err = selectorQuery(map[string]interface{}{"status": map[string]interface{}{"$in": []string{"Failed"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `["Failed"]`, args[1].(string))

	_, _, err = selectorQuery(map[string]interface{}{"status": map[string]interface{}{"$in": "Received"}})
	assert.ErrorIs(t, err, types.ErrBadRequest)
	_, _, err = selectorQuery(map[string]interface{}{"counter": map[string]interface{}{"$gt": 1}})
	assert.ErrorIs(t, err, types.ErrBadRequest)
}
