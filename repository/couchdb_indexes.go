package repository

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// CreateIndex creates a mango json index on the given fields (no-op for non CouchDB repositories)
func CreateIndex(repo Repository, name string, fields ...string) error {
	c, ok := repo.GetClient().(*resty.Client)
	if !ok {
		return nil
	}
	indexFields := []map[string]interface{}{}
	for _, f := range fields {
		indexFields = append(indexFields, map[string]interface{}{f: "asc"})
	}
	indexPayload := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": indexFields,
		},
		"name": name,
		"ddoc": name,
		"type": "json",
	}
	resp, rErr := c.R().SetBody(indexPayload).Post(fmt.Sprintf("%s/%s", repo.GetDBName(), "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		outErr := handleError(resp)
		return outErr
	}
	return nil
}

// CreateDataWalletIndexes creates the indexes used by the Find queries of the services
func CreateDataWalletIndexes(selector *CouchDBSelector) error {
	indexes := []struct {
		db     string
		name   string
		fields []string
	}{
		{ProcessingTask, "task-status-index", []string{"status"}},
		{ProcessingTask, "task-message-index", []string{"messageId"}},
		{Registration, "registration-email-index", []string{"emailAddress"}},
		{Registration, "registration-wallet-index", []string{"walletAddress"}},
		{Whitelist, "whitelist-owner-entry-index", []string{"ownerWallet", "entry"}},
		{AuthorizationRequests, "authorization-task-index", []string{"taskId"}},
	}
	for _, idx := range indexes {
		repo, err := selector.ChooseDB(idx.db)
		if err != nil {
			return err
		}
		if err := CreateIndex(repo, idx.name, idx.fields...); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}
	return nil
}
