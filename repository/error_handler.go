package repository

import (
	"encoding/json"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
)

func handleError(reqErr *resty.Response) error {
	if reqErr.StatusCode() == 404 {
		return types.ErrNotFound
	}
	if reqErr.StatusCode() == 409 {
		return types.ErrConflict
	}
	if reqErr.IsError() {
		var dbErr types.CouchDBError
		uErr := json.Unmarshal(reqErr.Body(), &dbErr)
		if uErr != nil {
			level.Error(global.Logger).Log("msg", "failed to unmarshal response", "error", uErr)
			return fmt.Errorf("%w: status %d", types.ErrBadRequest, reqErr.StatusCode())
		}
		if dbErr.Error != "" {
			return fmt.Errorf("%w: %s %s", types.ErrBadRequest, dbErr.Error, dbErr.Reason)
		}
		return types.ErrBadRequest
	}
	return nil
}
