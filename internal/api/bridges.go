package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/switchboard-core/internal/bridge"
)

// bridgeStatusResponse is the body of the status and start endpoints.
type bridgeStatusResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

// serviceParam returns the validated {service} URL parameter, writing a 400
// and returning false when it is not a valid service name.
func serviceParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	service := chi.URLParam(r, "service")
	if err := bridge.ValidateService(service); err != nil {
		writeBridgeError(w, err)
		return "", false
	}
	return service, true
}

// handleStartBridge begins supervising the service. It returns immediately;
// the current status in the response is usually still "disconnected".
func (s *Server) handleStartBridge(w http.ResponseWriter, r *http.Request) {
	service, ok := serviceParam(w, r)
	if !ok {
		return
	}

	if err := s.bridges.Start(r.Context(), service); err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, bridgeStatusResponse{
		Service: service,
		Status:  s.bridges.Status(service),
	})
}

// handleSendBridge forwards one command to the live worker.
//
// The body is either {"message": "<text>"}, whose text is sent as is, or
// any other JSON object, which is sent compacted onto one line.
func (s *Server) handleSendBridge(w http.ResponseWriter, r *http.Request) {
	service, ok := serviceParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	message, err := commandFromBody(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.bridges.Send(service, message); err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"service": service,
		"sent":    true,
	})
}

type commandError string

func (e commandError) Error() string { return string(e) }

const (
	errBodyNotObject  commandError = "body must be a JSON object"
	errEmptyMessage   commandError = "message must not be empty"
	errMessageNotText commandError = "message must be a string"
)

// commandFromBody extracts the line to send from a send request body.
func commandFromBody(body []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return "", errBodyNotObject
	}

	if raw, ok := fields["message"]; ok && len(fields) == 1 {
		var message *string
		if err := json.Unmarshal(raw, &message); err != nil || message == nil {
			return "", errMessageNotText
		}
		if *message == "" {
			return "", errEmptyMessage
		}
		return *message, nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", errBodyNotObject
	}
	return compact.String(), nil
}

func (s *Server) handleBridgeStatus(w http.ResponseWriter, r *http.Request) {
	service, ok := serviceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, bridgeStatusResponse{
		Service: service,
		Status:  s.bridges.Status(service),
	})
}

func (s *Server) handleListBridges(w http.ResponseWriter, r *http.Request) {
	bridges := s.bridges.List(r.Context())
	if bridges == nil {
		bridges = []bridge.ServiceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bridges": bridges,
		"count":   len(bridges),
	})
}

// autostartRequest is the body of the autostart endpoint.
type autostartRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleBridgeAutostart turns autostart on or off for a service that has
// been started at least once.
func (s *Server) handleBridgeAutostart(w http.ResponseWriter, r *http.Request) {
	service, ok := serviceParam(w, r)
	if !ok {
		return
	}

	var req autostartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeBadRequest(w, `body must be {"enabled": true|false}`)
		return
	}

	if err := s.bridges.SetAutostart(r.Context(), service, *req.Enabled); err != nil {
		writeBridgeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":   service,
		"autostart": *req.Enabled,
	})
}
