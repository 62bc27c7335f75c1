/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kentakayama/netmap-over-http/internal/domain"
	"github.com/kentakayama/netmap-over-http/internal/domain/model"
	"github.com/kentakayama/netmap-over-http/internal/netmap"
	"github.com/kentakayama/netmap-over-http/internal/signed"
	"go.uber.org/zap"
)

const (
	maxRequestBodyBytes = 1 << 20 // node infos are a few KiB

	contentTypeCBOR      = "application/cbor"
	contentTypeTextPlain = "text/plain"

	pathNetworkMap      = "/network-map"
	pathPublish         = "/network-map/publish"
	prefixNodeInfo      = "/network-map/node-info/"
	prefixNetworkParams = "/network-map/network-parameters/"
)

type handler struct {
	nodes  *netmap.NodeInfoStorage
	maps   *netmap.NetworkMapStorage
	logger *zap.Logger
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
}

func newHandler(nodes *netmap.NodeInfoStorage, maps *netmap.NetworkMapStorage, logger *zap.Logger) *handler {
	return &handler{
		nodes:  nodes,
		maps:   maps,
		logger: logger,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == pathPublish:
		if r.Method != http.MethodPost {
			h.methodNotAllowed(w, http.MethodPost)
			return
		}
		h.publishNodeInfo(w, r)
	case r.Method != http.MethodGet:
		h.methodNotAllowed(w, http.MethodGet)
	case r.URL.Path == pathNetworkMap:
		h.getNetworkMap(w, r)
	case strings.HasPrefix(r.URL.Path, prefixNodeInfo):
		h.getNodeInfo(w, r, strings.TrimPrefix(r.URL.Path, prefixNodeInfo))
	case strings.HasPrefix(r.URL.Path, prefixNetworkParams):
		h.getNetworkParameters(w, r, strings.TrimPrefix(r.URL.Path, prefixNetworkParams))
	default:
		http.NotFound(w, r)
	}
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// publishNodeInfo accepts a signed node info. It is stored only if every legal identity signed it.
func (h *handler) publishNodeInfo(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), contentTypeCBOR) {
		h.logger.Info("content type mismatch", zap.String("expected", contentTypeCBOR), zap.String("actual", r.Header.Get("Content-Type")))
		http.Error(w, "This endpoint only accepts Content-Type: "+contentTypeCBOR, http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Info("request body too large", zap.Int64("limit", tooLarge.Limit))
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Info("failed reading request body", zap.Error(err))
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if err := r.Body.Close(); err != nil {
		h.logger.Info("failed closing request body", zap.Error(err))
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	a, err := signed.Decode[model.NodeInfo](body)
	if err != nil {
		h.logger.Info("malformed signed node info", zap.Error(err))
		http.Error(w, "malformed signed node info", http.StatusBadRequest)
		return
	}
	if _, err := signed.Verify(a); err != nil {
		h.logger.Warn("rejected node info", zap.Stringer("hash", a.Hash()), zap.Error(err))
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	hash, err := h.nodes.PutNodeInfo(r.Context(), a)
	if err != nil {
		if errors.Is(err, netmap.ErrNoPrimaryIdentity) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to store node info", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeResponse(w, responseSpec{
		status:      http.StatusOK,
		body:        []byte(hash.String()),
		contentType: contentTypeTextPlain,
	})
}

func (h *handler) getNetworkMap(w http.ResponseWriter, r *http.Request) {
	a, err := h.maps.GetCurrentNetworkMap(r.Context())
	if err != nil {
		h.logger.Error("failed to load current network map", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.NotFound(w, r)
		return
	}
	h.writeArtifact(w, a.Encode)
}

func (h *handler) getNodeInfo(w http.ResponseWriter, r *http.Request, encodedHash string) {
	hash, ok := h.parseHash(w, encodedHash)
	if !ok {
		return
	}
	a, err := h.nodes.GetNodeInfo(r.Context(), hash)
	if !h.checkLookup(w, r, err) {
		return
	}
	h.writeArtifact(w, a.Encode)
}

func (h *handler) getNetworkParameters(w http.ResponseWriter, r *http.Request, encodedHash string) {
	hash, ok := h.parseHash(w, encodedHash)
	if !ok {
		return
	}
	a, err := h.maps.GetNetworkParameters(r.Context(), hash)
	if !h.checkLookup(w, r, err) {
		return
	}
	h.writeArtifact(w, a.Encode)
}

func (h *handler) parseHash(w http.ResponseWriter, s string) (model.SecureHash, bool) {
	hash, err := model.ParseSecureHash(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return model.SecureHash{}, false
	}
	return hash, true
}

func (h *handler) checkLookup(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrNotFound) {
		http.NotFound(w, r)
		return false
	}
	h.logger.Error("lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	return false
}

func (h *handler) writeArtifact(w http.ResponseWriter, encode func() ([]byte, error)) {
	body, err := encode()
	if err != nil {
		h.logger.Error("failed to encode artifact", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeResponse(w, responseSpec{
		status:      http.StatusOK,
		body:        body,
		contentType: contentTypeCBOR,
	})
}

func (h *handler) writeResponse(w http.ResponseWriter, spec responseSpec) {
	if len(spec.body) > 0 {
		for k, v := range defaultHeaders {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			h.logger.Info("failed writing response body", zap.Error(err))
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":           "no-store",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}
