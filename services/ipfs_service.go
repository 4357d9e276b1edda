package services

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
)

// response of the kubo /api/v0/add endpoint
type ipfsAddResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type ipfsErrorResponse struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
}

// IpfsService is a ContentStore backed by the HTTP RPC API of an IPFS (kubo) node
type IpfsService struct {
	client *resty.Client
	pin    bool
}

func NewIpfsService(conf global.IpfsConfig) *IpfsService {
	timeout := time.Duration(conf.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().SetBaseURL(conf.ApiUrl).SetTimeout(timeout)
	return &IpfsService{client: client, pin: conf.Pin}
}

// GetClient exposes the http client (mocking)
func (is *IpfsService) GetClient() *resty.Client {
	return is.client
}

// Put adds content to IPFS and returns its ipfs:// reference (CID v1)
func (is *IpfsService) Put(ctx context.Context, name string, content []byte) (string, error) {
	var added ipfsAddResponse
	var ipfsErr ipfsErrorResponse
	response, err := is.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"pin":         strconv.FormatBool(is.pin),
			"cid-version": "1",
		}).
		SetFileReader("file", name, bytes.NewReader(content)).
		SetResult(&added).
		SetError(&ipfsErr).
		Post("/api/v0/add")
	if err != nil {
		global.Logger.Log("error", "ipfs add failed", "name", name, "err", err)
		return "", fmt.Errorf("%w: %s", types.ErrStorageFailure, err.Error())
	}
	if response.IsError() {
		global.Logger.Log("error", "ipfs add rejected", "name", name, "status", response.StatusCode(), "message", ipfsErr.Message)
		return "", fmt.Errorf("%w: ipfs responded %d %s", types.ErrStorageFailure, response.StatusCode(), ipfsErr.Message)
	}
	if added.Hash == "" {
		return "", fmt.Errorf("%w: ipfs returned no cid", types.ErrStorageFailure)
	}
	return "ipfs://" + added.Hash, nil
}
