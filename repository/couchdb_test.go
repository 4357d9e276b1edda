package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var url = "http://localhost:5689"

func InitMockDatabase(dbName string) (Repository, error) {
	httpmock.Activate()

	mr, mErr := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	if mErr != nil {
		return nil, mErr
	}
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s", url, dbName), mr)
	httpmock.RegisterResponder("HEAD", fmt.Sprintf("%s/%s", url, dbName), httpmock.NewStringResponder(404, ""))

	db, err := NewCouchDBRepository(url, dbName, "test", "test", true)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func deactivateMock() {
	httpmock.DeactivateAndReset()
}

func TestInitNewDatabase(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	if err != nil {
		t.Fatal(err)
	}
	if db == nil {
		t.Fatal("db is nil")
	}
	assert.Equal(t, "test", db.GetDBName())
	assert.Equal(t, 1, httpmock.GetCallCountInfo()["PUT "+url+"/test"])
}

func TestGetByID(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	require.NoError(t, err)

	mk, _ := httpmock.NewJsonResponder(200, types.BaseDocument{ID: "doc1", Rev: "1-abc"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "test", "doc1"), mk)

	res, err := db.GetByID(context.Background(), "doc1")
	if err != nil {
		t.Fatal(err)
	}
	var doc types.BaseDocument
	require.NoError(t, MapToObject(res, &doc))
	assert.Equal(t, "doc1", doc.ID)
	assert.Equal(t, "1-abc", doc.Rev)
}

func TestGetByIDNotFound(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	require.NoError(t, err)

	nf, _ := httpmock.NewJsonResponder(404, types.CouchDBError{Error: "not_found", Reason: "missing"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "test", "missing"), nf)

	_, err = db.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSaveReturnsRevision(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	require.NoError(t, err)

	ok, _ := httpmock.NewJsonResponder(201, types.OK{IsOK: true, ID: "doc1", Rev: "1-abc"})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "test", "doc1"), ok)

	rev, err := db.Save(context.Background(), "doc1", &types.BaseDocument{ID: "doc1"})
	require.NoError(t, err)
	assert.Equal(t, "1-abc", rev)
}

func TestSaveConflict(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	require.NoError(t, err)

	conflict, _ := httpmock.NewJsonResponder(409, types.CouchDBError{Error: "conflict", Reason: "Document update conflict."})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "test", "doc1"), conflict)

	_, err = db.Save(context.Background(), "doc1", &types.BaseDocument{ID: "doc1", Rev: "1-old"})
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestFind(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	require.NoError(t, err)

	found, _ := httpmock.NewJsonResponder(200, map[string]interface{}{
		"docs": []map[string]interface{}{
			{"_id": "a", "_rev": "1-a", "status": "PendingAuthorization"},
			{"_id": "b", "_rev": "2-b", "status": "PendingAuthorization"},
		},
	})
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", url, "test"), found)

	docs, err := db.Find(context.Background(), map[string]interface{}{"status": "PendingAuthorization"}, 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	var second types.BaseDocument
	require.NoError(t, MapToObject(docs[1], &second))
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, "2-b", second.Rev)
}

func TestFindAllPages(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	require.NoError(t, err)

	bookmarks := []string{}
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", url, "test"), func(req *http.Request) (*http.Response, error) {
		var body map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			return nil, err
		}
		bookmark, _ := body["bookmark"].(string)
		bookmarks = append(bookmarks, bookmark)
		docs := []map[string]interface{}{}
		count := findPageSize
		if bookmark == "page-2" {
			count = 3
		}
		for i := 0; i < count; i++ {
			docs = append(docs, map[string]interface{}{"_id": fmt.Sprintf("%s-%d", bookmark, i)})
		}
		next := "page-2"
		if bookmark == "page-2" {
			next = "page-3"
		}
		return httpmock.NewJsonResponse(200, map[string]interface{}{"docs": docs, "bookmark": next})
	})

	docs, err := db.Find(context.Background(), map[string]interface{}{"status": map[string]interface{}{"$in": []string{"Received"}}}, 0)
	require.NoError(t, err)
	assert.Len(t, docs, findPageSize+3)
	assert.Equal(t, []string{"", "page-2"}, bookmarks)

	// an explicit limit is a single request
	bookmarks = nil
	docs, err = db.Find(context.Background(), map[string]interface{}{"status": "Received"}, 5)
	require.NoError(t, err)
	assert.Len(t, docs, findPageSize)
	assert.Equal(t, []string{""}, bookmarks)
}

func TestSelector(t *testing.T) {
	selector := NewCouchDBSelector()
	_, err := selector.ChooseDB(ProcessingTask)
	assert.ErrorIs(t, err, types.ErrNotFound)

	selector.AddDB(NewMemoryRepository(ProcessingTask))
	selector.AddDB(NewMemoryRepository(Registration))
	db, err := selector.ChooseDB(Registration)
	require.NoError(t, err)
	assert.Equal(t, Registration, db.GetDBName())
	_, err = selector.ChooseDB(Whitelist)
	assert.ErrorIs(t, err, types.ErrNotFound)
}
