// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package controlapi serves the local HTTP API a desktop shell uses to
// drive the agent.
package controlapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendux/syncagent/core/license"
	"github.com/attendux/syncagent/internal/agent"
	"github.com/attendux/syncagent/internal/settings"
	"github.com/attendux/syncagent/internal/syncengine"
)

var logger = loggo.GetLogger("attendux.controlapi")

// Controller is the part of the agent exposed over the API.
type Controller interface {
	Status() agent.Status
	Connect(licenseKey string) error
	RefreshDevices() error
	SyncNow() error
	StartAutoSync(intervalMinutes int) error
	StopAutoSync() error
	Settings() settings.Settings
	UpdatePreferences(agent.Preferences) error
	LastReport() (syncengine.Report, bool)
}

// ConnectRequest is the body of POST /license.
type ConnectRequest struct {
	LicenseKey string `json:"license_key"`
}

// AutoSyncRequest is the body of POST /autosync. A zero interval means
// the saved one.
type AutoSyncRequest struct {
	IntervalMinutes int `json:"interval_minutes"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	controller Controller
}

// NewHandler returns the API routes. Metrics are served from gatherer.
func NewHandler(controller Controller, gatherer prometheus.Gatherer) http.Handler {
	h := &handler{controller: controller}
	r := mux.NewRouter()
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/license", h.connect).Methods(http.MethodPost)
	r.HandleFunc("/devices/refresh", h.refreshDevices).Methods(http.MethodPost)
	r.HandleFunc("/sync", h.syncNow).Methods(http.MethodPost)
	r.HandleFunc("/autosync", h.startAutoSync).Methods(http.MethodPost)
	r.HandleFunc("/autosync", h.stopAutoSync).Methods(http.MethodDelete)
	r.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	r.HandleFunc("/settings", h.patchSettings).Methods(http.MethodPatch)
	r.HandleFunc("/report", h.report).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func (h *handler) status(w http.ResponseWriter, req *http.Request) {
	sendStatusAndJSON(w, http.StatusOK, h.controller.Status())
}

func (h *handler) connect(w http.ResponseWriter, req *http.Request) {
	var args ConnectRequest
	if err := decodeBody(req, &args); err != nil {
		sendError(w, req, err)
		return
	}
	if err := h.controller.Connect(args.LicenseKey); err != nil {
		sendError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) refreshDevices(w http.ResponseWriter, req *http.Request) {
	if err := h.controller.RefreshDevices(); err != nil {
		sendError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) syncNow(w http.ResponseWriter, req *http.Request) {
	if err := h.controller.SyncNow(); err != nil {
		sendError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) startAutoSync(w http.ResponseWriter, req *http.Request) {
	var args AutoSyncRequest
	if req.ContentLength != 0 {
		if err := decodeBody(req, &args); err != nil {
			sendError(w, req, err)
			return
		}
	}
	interval := args.IntervalMinutes
	if interval == 0 {
		interval = h.controller.Settings().SyncInterval
	}
	if err := h.controller.StartAutoSync(interval); err != nil {
		sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, h.controller.Status().AutoSync)
}

func (h *handler) stopAutoSync(w http.ResponseWriter, req *http.Request) {
	if err := h.controller.StopAutoSync(); err != nil {
		sendError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getSettings(w http.ResponseWriter, req *http.Request) {
	sendStatusAndJSON(w, http.StatusOK, h.controller.Settings())
}

func (h *handler) patchSettings(w http.ResponseWriter, req *http.Request) {
	var prefs agent.Preferences
	if err := decodeBody(req, &prefs); err != nil {
		sendError(w, req, err)
		return
	}
	if err := h.controller.UpdatePreferences(prefs); err != nil {
		sendError(w, req, err)
		return
	}
	sendStatusAndJSON(w, http.StatusOK, h.controller.Settings())
}

func (h *handler) report(w http.ResponseWriter, req *http.Request) {
	report, ok := h.controller.LastReport()
	if !ok {
		sendError(w, req, errors.NotFoundf("sync report"))
		return
	}
	sendStatusAndJSON(w, http.StatusOK, report)
}

func decodeBody(req *http.Request, v any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.BadRequestf("cannot decode request body: %v", err)
	}
	return nil
}

// errorStatus maps agent errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, errors.BadRequest),
		errors.Is(err, errors.NotValid),
		errors.Is(err, license.ErrEmptyLicenseKey):
		return http.StatusBadRequest
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	case errors.Is(err, syncengine.ErrSyncInProgress),
		errors.Is(err, errors.AlreadyExists):
		return http.StatusConflict
	case errors.Is(err, agent.ErrNotConnected),
		errors.Is(err, agent.ErrNoDevices):
		return http.StatusPreconditionFailed
	case errors.Is(err, agent.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func sendError(w http.ResponseWriter, req *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("returning error from %s %s: %s", req.Method, req.URL, errors.Details(err))
	} else {
		logger.Debugf("returning error from %s %s: %v", req.Method, req.URL, err)
	}
	sendStatusAndJSON(w, status, ErrorResponse{Error: err.Error()})
}

func sendStatusAndJSON(w http.ResponseWriter, status int, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		logger.Errorf("cannot marshal JSON result %#v: %v", response, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Debugf("writing response: %v", err)
	}
}
