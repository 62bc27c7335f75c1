/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kentakayama/netmap-over-http/internal/client"
	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/domain/service"
	"github.com/kentakayama/netmap-over-http/internal/infra/memory"
	"github.com/kentakayama/netmap-over-http/internal/keys"
	"github.com/kentakayama/netmap-over-http/internal/netmap"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"
	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	repos    service.Repositories
	operator *keys.KeyPair
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	operator, err := keys.Generate(cose.AlgorithmEdDSA)
	require.Nil(t, err)

	repos := memory.NewStore().Repositories()
	cfg := config.Default()
	cfg.NetworkMapKeyPath = "unused"
	srv := newServer(cfg, repos, operator, zaptest.NewLogger(t))

	ts := httptest.NewServer(srv.handler)
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, http: ts, repos: repos, operator: operator}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.Nil(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return resp, body
}

func (e *testEnv) publish(t *testing.T, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.http.URL+pathPublish, contentType, bytes.NewReader(body))
	require.Nil(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return resp, out
}

func signedNodeInfo(t *testing.T, name string) (*keys.KeyPair, *netmap.SignedNodeInfo) {
	t.Helper()
	key, err := keys.Generate(cose.AlgorithmES256)
	require.Nil(t, err)
	info := model.NodeInfo{
		Addresses:       []string{"localhost:10002"},
		LegalIdentities: []model.Identity{key.Identity(name)},
		PlatformVersion: 4,
		Serial:          1,
	}
	a, err := signed.Sign(info, key)
	require.Nil(t, err)
	return key, a
}

func encode(t *testing.T, a interface{ Encode() ([]byte, error) }) []byte {
	t.Helper()
	b, err := a.Encode()
	require.Nil(t, err)
	return b
}

func TestPublishNodeInfo_OK(t *testing.T) {
	e := newTestEnv(t)
	_, a := signedNodeInfo(t, "O=Bank A,L=London,C=GB")

	resp, body := e.publish(t, contentTypeCBOR, encode(t, a))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeTextPlain, resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, a.Hash().String(), string(body))

	resp, body = e.get(t, prefixNodeInfo+a.Hash().String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeCBOR, resp.Header.Get("Content-Type"))
	got, err := signed.Decode[model.NodeInfo](body)
	require.Nil(t, err)
	assert.Equal(t, a.Hash(), got.Hash())
}

func TestPublishNodeInfo_NG(t *testing.T) {
	e := newTestEnv(t)
	_, a := signedNodeInfo(t, "O=Bank A,L=London,C=GB")
	raw := encode(t, a)

	resp, _ := e.publish(t, "application/json", raw)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, _ = e.publish(t, contentTypeCBOR, []byte{0xff, 0x00})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.publish(t, contentTypeCBOR, make([]byte, maxRequestBodyBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	// signature from a key that is not a legal identity
	other, err := keys.Generate(cose.AlgorithmES256)
	require.Nil(t, err)
	forged, err := signed.SignBytes(a.Raw, other)
	require.Nil(t, err)
	resp, _ = e.publish(t, contentTypeCBOR, encode(t, forged))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.get(t, prefixNodeInfo+a.Hash().String())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.get(t, pathPublish)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestGetNetworkMap(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	resp, _ := e.get(t, pathNetworkMap)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, e.srv.signOnce(ctx))

	params := model.NetworkParameters{
		MinimumPlatformVersion: 1,
		MaxMessageSize:         10485760,
		MaxTransactionSize:     524288000,
		ModifiedTime:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Epoch:                  1,
	}
	maps := netmap.NewNetworkMapStorage(e.repos, logger)
	paramsHash, err := maps.SaveNetworkParameters(ctx, params, nil)
	require.Nil(t, err)
	require.Nil(t, maps.SignNetworkParameters(ctx, paramsHash, e.operator))

	key, a := signedNodeInfo(t, "O=Bank A,L=London,C=GB")
	requests := netmap.NewRequestStorage(e.repos, nil, logger)
	id, err := requests.SaveRequest(ctx, "O=Bank A,L=London,C=GB", key.Public())
	require.Nil(t, err)
	require.Nil(t, requests.MarkRequestTicketCreated(ctx, id))
	require.Nil(t, requests.ApproveRequest(ctx, id, "ops"))
	require.Nil(t, requests.PutCertificatePath(ctx, id, model.CertPath{[]byte("leaf")}))
	resp, _ = e.publish(t, contentTypeCBOR, encode(t, a))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.True(t, e.srv.signOnce(ctx))
	assert.False(t, e.srv.signOnce(ctx))

	resp, body := e.get(t, pathNetworkMap)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m, err := signed.Decode[model.NetworkMap](body)
	require.Nil(t, err)
	got, err := m.VerifiedWith(netmap.OperatorIdentity(e.operator.Public()))
	require.Nil(t, err)
	assert.Equal(t, []model.SecureHash{a.Hash()}, got.NodeInfoHashes)
	assert.Equal(t, paramsHash, got.NetworkParametersHash)

	resp, body = e.get(t, prefixNetworkParams+paramsHash.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p, err := signed.Decode[model.NetworkParameters](body)
	require.Nil(t, err)
	_, err = p.VerifiedWith(netmap.OperatorIdentity(e.operator.Public()))
	assert.Nil(t, err)
}

func TestLookup_NG(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.get(t, prefixNodeInfo+"not-a-hash")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.get(t, prefixNetworkParams+model.SecureHash{1}.String())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.get(t, "/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, e.http.URL+pathNetworkMap, nil)
	require.Nil(t, err)
	r, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)
}

func TestShutdown_WithoutServe(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Nil(t, e.srv.Shutdown(ctx))
	assert.Nil(t, e.srv.Shutdown(ctx))
}

func TestClientRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	c, err := client.New(config.ClientConfig{BaseURL: e.http.URL}, e.operator.Public(), logger)
	require.Nil(t, err)

	_, err = c.GetNetworkMap(ctx)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	maps := netmap.NewNetworkMapStorage(e.repos, logger)
	paramsHash, err := maps.SaveNetworkParameters(ctx, model.NetworkParameters{
		MinimumPlatformVersion: 1,
		MaxMessageSize:         10485760,
		MaxTransactionSize:     524288000,
		ModifiedTime:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Epoch:                  1,
	}, nil)
	require.Nil(t, err)
	require.Nil(t, maps.SignNetworkParameters(ctx, paramsHash, e.operator))

	key, a := signedNodeInfo(t, "O=Bank B,L=Paris,C=FR")
	hash, err := c.PublishNodeInfo(ctx, a)
	require.Nil(t, err)
	assert.Equal(t, a.Hash(), hash)

	requests := netmap.NewRequestStorage(e.repos, nil, logger)
	id, err := requests.SaveRequest(ctx, "O=Bank B,L=Paris,C=FR", key.Public())
	require.Nil(t, err)
	require.Nil(t, requests.MarkRequestTicketCreated(ctx, id))
	require.Nil(t, requests.ApproveRequest(ctx, id, "ops"))
	require.Nil(t, requests.PutCertificatePath(ctx, id, model.CertPath{[]byte("leaf")}))
	require.True(t, e.srv.signOnce(ctx))

	m, err := c.GetNetworkMap(ctx)
	require.Nil(t, err)
	require.Equal(t, []model.SecureHash{hash}, m.NodeInfoHashes)

	info, err := c.GetNodeInfo(ctx, m.NodeInfoHashes[0])
	require.Nil(t, err)
	assert.Equal(t, "O=Bank B,L=Paris,C=FR", info.LegalIdentities[0].Name)

	params, err := c.GetNetworkParameters(ctx, m.NetworkParametersHash)
	require.Nil(t, err)
	assert.Equal(t, 1, params.Epoch)

	// a node info signed by a key that is not its legal identity is refused
	other, err := keys.Generate(cose.AlgorithmES256)
	require.Nil(t, err)
	forged, err := signed.SignBytes(a.Raw, other)
	require.Nil(t, err)
	_, err = c.PublishNodeInfo(ctx, forged)
	var statusErr *client.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
}
