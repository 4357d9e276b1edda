package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-resty/resty/v2"
)

/**
* Object Mapper (from a repository response to object)
* supports resty responses (CouchDB) and raw json (Find results, Postgres and memory repositories)
**/

func MapToObject(resp interface{}, obj interface{}) error {
	// Check if obj is a pointer to a struct
	val := reflect.ValueOf(obj)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return errors.New("obj is not a pointer to a struct")
	}

	var data []byte
	switch response := resp.(type) {
	case *resty.Response:
		data = response.Body()
	case json.RawMessage:
		data = response
	case []byte:
		data = response
	default:
		return errors.New("resp is not a supported repository response")
	}

	err := json.Unmarshal(data, obj)
	if err != nil {
		return fmt.Errorf("%s cannot be mapped to the given object", string(data))
	}
	return nil
}
