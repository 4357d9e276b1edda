package types

import "encoding/json"

type OK struct {
	IsOK bool   `json:"ok"`
	ID   string `json:"id,omitempty"`
	Rev  string `json:"rev,omitempty"`
}

type CouchDBError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BaseDocument is embedded in every stored document
type BaseDocument struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"` // revision, required when updating an existing document
}

// CouchDBFindResponse is the response of the _find endpoint
type CouchDBFindResponse struct {
	Docs     []json.RawMessage `json:"docs"`
	Bookmark string            `json:"bookmark,omitempty"`
	Warning  string            `json:"warning,omitempty"`
}
