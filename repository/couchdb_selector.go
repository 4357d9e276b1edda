package repository

import "github.com/mailio/go-mailio-datawallet/types"

const (
	// database names
	ProcessingTask        = "processing_tasks"
	InboundEmail          = "inbound_emails"
	Registration          = "registrations"
	Whitelist             = "whitelist"
	AuthorizationRequests = "authorization_requests"
)

// AllDatabases lists every database the server requires
var AllDatabases = []string{ProcessingTask, InboundEmail, Registration, Whitelist, AuthorizationRequests}

type CouchDBSelector struct {
	dbs []Repository
}

func NewCouchDBSelector() *CouchDBSelector {
	return &CouchDBSelector{}
}

// adds a database to the databse selector
func (c *CouchDBSelector) AddDB(db Repository) {
	c.dbs = append(c.dbs, db)
}

// returns the required database
func (c *CouchDBSelector) ChooseDB(dbName string) (Repository, error) {
	if len(c.dbs) == 0 {
		return nil, types.ErrNotFound
	}
	for i, r := range c.dbs {
		if r.GetDBName() == dbName {
			return c.dbs[i], nil
		}
	}
	return nil, types.ErrNotFound
}

