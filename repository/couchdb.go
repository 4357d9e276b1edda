package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/mailio/go-mailio-datawallet/types"
)

// page size of an unlimited Find
const findPageSize = 100

// implements Repository interface using CouchDB
type CouchDBRepository struct {
	client *resty.Client
	dbName string
}

func NewCouchDBRepository(url, DBName string, username string, password string, mock bool) (Repository, error) {
	cl := resty.New().SetBaseURL(url).SetTimeout(time.Second * 10)
	cl.SetHeader("Content-Type", "application/json")
	cl.SetHeader("Accept", "application/json")
	cl.SetHeader("User-Agent", "go-mailio-datawallet/1.0.0")
	cl.SetBasicAuth(username, password)

	if mock {
		httpmock.ActivateNonDefault(cl.GetClient())
	}

	existstRes, exsistsErr := cl.R().Head(DBName)
	if exsistsErr != nil {
		return nil, fmt.Errorf("failed to check if database exists: %s", exsistsErr.Error())
	}
	if existstRes.StatusCode() == 200 {
		return &CouchDBRepository{cl, DBName}, nil
	}

	var ok types.OK
	var dbErr2 types.CouchDBError
	// create DB since it doesn't exist
	_, pErr := cl.R().SetResult(&ok).SetError(&dbErr2).Put(DBName)
	if pErr != nil {
		return nil, fmt.Errorf("failed to create database %s: %w", DBName, pErr)
	}
	if dbErr2.Error != "" && dbErr2.Error != "file_exists" {
		return nil, fmt.Errorf("failed to create database %s: %s", DBName, dbErr2.Error)
	}
	if !ok.IsOK && dbErr2.Error == "" {
		return nil, fmt.Errorf("failed to create database %s", DBName)
	}
	return &CouchDBRepository{cl, DBName}, nil
}

// GetByID returns a document by its ID (as *resty.Response, use MapToObject)
func (c *CouchDBRepository) GetByID(ctx context.Context, id string) (interface{}, error) {
	response, err := c.client.R().SetContext(ctx).Get(fmt.Sprintf("%s/%s", c.dbName, id))
	if err != nil {
		return nil, err
	}
	if response.IsError() {
		return nil, handleError(response)
	}

	return response, nil
}

// Find returns documents matching the mango selector (as json.RawMessage, use MapToObject).
// A limit of 0 returns every match, fetched in pages of findPageSize.
func (c *CouchDBRepository) Find(ctx context.Context, selector map[string]interface{}, limit int) ([]interface{}, error) {
	pageSize := limit
	if limit <= 0 {
		pageSize = findPageSize
	}
	documents := []interface{}{}
	bookmark := ""
	for {
		body := map[string]interface{}{
			"selector": selector,
			"limit":    pageSize,
		}
		if bookmark != "" {
			body["bookmark"] = bookmark
		}
		var result types.CouchDBFindResponse
		response, err := c.client.R().SetContext(ctx).SetBody(body).SetResult(&result).Post(fmt.Sprintf("%s/_find", c.dbName))
		if err != nil {
			return nil, err
		}
		if response.IsError() {
			return nil, handleError(response)
		}
		for _, doc := range result.Docs {
			documents = append(documents, doc)
		}
		if limit > 0 || len(result.Docs) < pageSize || result.Bookmark == "" || result.Bookmark == bookmark {
			return documents, nil
		}
		bookmark = result.Bookmark
	}
}

// Save creates a new doc or updates an existing one (requires _rev) and returns the new revision
func (c *CouchDBRepository) Save(ctx context.Context, docID string, data interface{}) (string, error) {
	var ok types.OK

	response, err := c.client.R().SetContext(ctx).SetBody(data).SetResult(&ok).Put(fmt.Sprintf("%s/%s", c.dbName, docID))
	if err != nil {
		return "", err
	}
	if response.IsError() {
		return "", handleError(response)
	}
	if ok.Rev == "" {
		// some proxies strip the body, revision is also in the ETag header
		var etag string
		if h := response.Header().Get("ETag"); h != "" {
			json.Unmarshal([]byte(h), &etag)
		}
		return etag, nil
	}
	return ok.Rev, nil
}

// return name of the database
func (c *CouchDBRepository) GetDBName() string {
	return c.dbName
}

// returns a resty client
func (c *CouchDBRepository) GetClient() interface{} {
	return c.client
}
