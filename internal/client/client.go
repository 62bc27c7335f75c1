/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package client is the node side of the network map HTTP protocol.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kentakayama/netmap-over-http/internal/config"
	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"go.uber.org/zap"
)

const (
	maxResponseBytes = 16 << 20
	userAgent        = "netmap-over-http/client"
	contentTypeCBOR  = "application/cbor"
)

var ErrHashMismatch = errors.New("downloaded artifact does not match the requested hash")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

// Client downloads and verifies artifacts from a network map server and publishes node infos to it.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	trusted    model.Identity
	logger     *zap.Logger
}

// New returns a client that trusts network maps and parameters signed by trusted.
func New(cfg config.ClientConfig, trusted model.PublicKey, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: network map URL is required", config.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse network map URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultClientTimeout
	}

	transport := &http.Transport{}
	if base.Scheme == "https" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureTLS}
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		trusted: model.Identity{Name: "network map", OwningKey: trusted},
		logger:  logger,
	}, nil
}

// PublishNodeInfo submits a signed node info and returns the hash the server stored it under.
func (c *Client) PublishNodeInfo(ctx context.Context, a *signed.Artifact[model.NodeInfo]) (model.SecureHash, error) {
	body, err := a.Encode()
	if err != nil {
		return model.SecureHash{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/network-map/publish", body)
	if err != nil {
		return model.SecureHash{}, fmt.Errorf("publish node info: %w", err)
	}
	hash, err := model.ParseSecureHash(strings.TrimSpace(string(resp)))
	if err != nil {
		return model.SecureHash{}, fmt.Errorf("parse published hash: %w", err)
	}
	if hash != a.Hash() {
		return model.SecureHash{}, fmt.Errorf("%w: sent %s, server stored %s", ErrHashMismatch, a.Hash(), hash)
	}
	c.logger.Info("published node info", zap.Stringer("hash", hash))
	return hash, nil
}

// GetNetworkMap downloads the current network map and checks the operator signature.
// It returns domain.ErrNotFound before the first publication.
func (c *Client) GetNetworkMap(ctx context.Context) (*model.NetworkMap, error) {
	body, err := c.do(ctx, http.MethodGet, "/network-map", nil)
	if err != nil {
		return nil, fmt.Errorf("download network map: %w", err)
	}
	a, err := signed.Decode[model.NetworkMap](body)
	if err != nil {
		return nil, err
	}
	m, err := a.VerifiedWith(c.trusted)
	if err != nil {
		return nil, fmt.Errorf("network map: %w", err)
	}
	c.logger.Debug("downloaded network map",
		zap.Stringer("hash", a.Hash()),
		zap.Int("nodes", len(m.NodeInfoHashes)),
	)
	return m, nil
}

// GetNodeInfo downloads a node info and verifies it against its own legal identities.
func (c *Client) GetNodeInfo(ctx context.Context, hash model.SecureHash) (*model.NodeInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/network-map/node-info/"+hash.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("download node info: %w", err)
	}
	a, err := signed.Decode[model.NodeInfo](body)
	if err != nil {
		return nil, err
	}
	if a.Hash() != hash {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, hash)
	}
	return signed.Verify(a)
}

// GetNetworkParameters downloads a parameters version and checks the operator signature.
func (c *Client) GetNetworkParameters(ctx context.Context, hash model.SecureHash) (*model.NetworkParameters, error) {
	body, err := c.do(ctx, http.MethodGet, "/network-map/network-parameters/"+hash.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("download network parameters: %w", err)
	}
	a, err := signed.Decode[model.NetworkParameters](body)
	if err != nil {
		return nil, err
	}
	if a.Hash() != hash {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, hash)
	}
	p, err := a.VerifiedWith(c.trusted)
	if err != nil {
		return nil, fmt.Errorf("network parameters: %w", err)
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	target, err := c.baseURL.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("build URL: %w", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeCBOR)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(msg)),
		}
	}

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return out, nil
}

