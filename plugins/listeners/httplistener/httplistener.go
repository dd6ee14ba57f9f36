// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package httplistener implements an HTTP transport for the harness API.
package httplistener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab/harness/pkg/api"
	"github.com/devicelab/harness/pkg/logging"
	"github.com/devicelab/harness/pkg/request"
	"github.com/devicelab/harness/pkg/types"
)

var log = logging.GetLogger("plugin/listeners/httplistener")

// HTTPListener implements the api.Listener interface over HTTP with JSON
// request and response bodies.
type HTTPListener struct {
	listenAddr string
	gatherer   prometheus.Gatherer
}

// New returns an HTTP listener bound to the given address. gatherer may be
// nil, in which case no /metrics endpoint is exposed.
func New(listenAddr string, gatherer prometheus.Gatherer) *HTTPListener {
	return &HTTPListener{listenAddr: listenAddr, gatherer: gatherer}
}

// HTTPAPIResponse wraps the content of an api.Response for HTTP clients,
// replacing the numeric response type with its mnemonic string.
type HTTPAPIResponse struct {
	ServerID string
	Type     string
	Data     interface{}
	Error    *string
}

// NewHTTPAPIResponse returns an HTTPAPIResponse from an api.Response
// object.
func NewHTTPAPIResponse(r *api.Response) *HTTPAPIResponse {
	rtype, ok := api.ResponseTypeToName[r.Type]
	if !ok {
		rtype = fmt.Sprintf("unknown (%d)", r.Type)
	}
	var errStr *string
	if r.Err != nil {
		e := r.Err.Error()
		errStr = &e
	}
	return &HTTPAPIResponse{
		ServerID: r.ServerID,
		Type:     rtype,
		Data:     r.Data,
		Error:    errStr,
	}
}

// HTTPAPIError is returned when an API method fails.
type HTTPAPIError struct {
	Msg string
}

type apiHandler struct {
	api *api.API
}

func (h *apiHandler) reply(w http.ResponseWriter, status int, body interface{}) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(body); err != nil {
		log.Errorf("Cannot marshal HTTP API response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buffer.Bytes()); err != nil {
		log.Debugf("Cannot write to client socket: %v", err)
	}
}

func (h *apiHandler) replyError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	h.reply(w, status, HTTPAPIError{Msg: fmt.Sprintf(format, args...)})
}

func (h *apiHandler) newRequest(w http.ResponseWriter, r *http.Request) {
	var req request.NewMultiCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.replyError(w, http.StatusBadRequest, "Cannot decode request body: %v", err)
		return
	}
	resp, err := h.api.NewRequest(r.Context(), &req)
	if err != nil {
		h.replyError(w, http.StatusBadRequest, "NewRequest failed: %v", err)
		return
	}
	h.reply(w, http.StatusOK, NewHTTPAPIResponse(&resp))
}

func (h *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		h.replyError(w, http.StatusBadRequest, "Status failed: %v", err)
		return
	}
	resp, err := h.api.Status(r.Context(), id)
	if err != nil {
		h.replyError(w, http.StatusBadRequest, "Status failed: %v", err)
		return
	}
	h.reply(w, http.StatusOK, NewHTTPAPIResponse(&resp))
}

func (h *apiHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		h.replyError(w, http.StatusBadRequest, "Cancel failed: %v", err)
		return
	}
	resp, err := h.api.Cancel(r.Context(), id)
	if err != nil {
		h.replyError(w, http.StatusBadRequest, "Cancel failed: %v", err)
		return
	}
	h.reply(w, http.StatusOK, NewHTTPAPIResponse(&resp))
}

func (h *apiHandler) version(w http.ResponseWriter, r *http.Request) {
	resp := h.api.Version()
	h.reply(w, http.StatusOK, NewHTTPAPIResponse(&resp))
}

func requestID(r *http.Request) (types.RequestID, error) {
	id := mux.Vars(r)["id"]
	if strings.TrimSpace(id) == "" {
		return "", errors.New("request ID cannot be empty")
	}
	return types.RequestID(id), nil
}

func listenWithCancellation(ctx context.Context, s *http.Server) error {
	errCh := make(chan error, 1)
	// Start the listener asynchronously and report errors and completion
	// via the channel.
	go func() {
		errCh <- s.ListenAndServe()
	}()
	log.Infof("Started HTTP API listener on %s", s.Addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Debugf("Received server shut down request")
		return s.Close()
	}
}

// Serve implements the api.Listener.Serve interface method.
func (h *HTTPListener) Serve(ctx context.Context, a *api.API) error {
	if a == nil {
		return errors.New("API object is nil")
	}
	handler := &apiHandler{api: a}
	router := mux.NewRouter()
	router.HandleFunc("/request", handler.newRequest).Methods(http.MethodPost)
	router.HandleFunc("/request/{id}", handler.status).Methods(http.MethodGet)
	router.HandleFunc("/request/{id}/cancel", handler.cancel).Methods(http.MethodPost)
	router.HandleFunc("/version", handler.version).Methods(http.MethodGet)
	if h.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	s := http.Server{
		Addr:         h.listenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := listenWithCancellation(ctx, &s); err != nil {
		return fmt.Errorf("HTTP listener failed: %v", err)
	}
	return nil
}
