package services

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/mailio/go-mailio-datawallet/global"
	"github.com/mailio/go-mailio-datawallet/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ipfsUrl = "http://ipfs.test:5001"

func newMockIpfs() *IpfsService {
	is := NewIpfsService(global.IpfsConfig{ApiUrl: ipfsUrl, Pin: true})
	httpmock.ActivateNonDefault(is.GetClient().GetClient())
	return is
}

func TestIpfsPut(t *testing.T) {
	is := newMockIpfs()
	defer httpmock.DeactivateAndReset()

	responder, err := httpmock.NewJsonResponder(200, ipfsAddResponse{Name: "0xabc", Hash: "bafkreigh2akiscaildc", Size: "11"})
	require.NoError(t, err)
	httpmock.RegisterResponder("POST", ipfsUrl+"/api/v0/add", responder)

	ref, err := is.Put(context.Background(), "0xabc", []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://bafkreigh2akiscaildc", ref)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestIpfsPutNodeError(t *testing.T) {
	is := newMockIpfs()
	defer httpmock.DeactivateAndReset()

	responder, err := httpmock.NewJsonResponder(500, ipfsErrorResponse{Message: "repo full", Code: 0})
	require.NoError(t, err)
	httpmock.RegisterResponder("POST", ipfsUrl+"/api/v0/add", responder)

	_, err = is.Put(context.Background(), "0xabc", []byte("hello world"))
	assert.ErrorIs(t, err, types.ErrStorageFailure)
	assert.Contains(t, err.Error(), "repo full")
	assert.True(t, types.IsTransient(err))
}

func TestIpfsPutMissingCid(t *testing.T) {
	is := newMockIpfs()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", ipfsUrl+"/api/v0/add", httpmock.NewStringResponder(200, `{}`))

	_, err := is.Put(context.Background(), "0xabc", []byte("hello world"))
	assert.ErrorIs(t, err, types.ErrStorageFailure)
}
