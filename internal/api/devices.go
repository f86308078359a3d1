package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-lifx/internal/bridges/lifx"
	"github.com/nerrad567/gray-logic-lifx/internal/device"
)

// deviceResponse is a served device with its stored registry record.
type deviceResponse struct {
	lifx.DeviceStatus
	Registry *device.Device `json:"registry,omitempty"`
}

// serialParam parses the {serial} URL parameter. It writes a 400 and
// reports false when the serial is malformed.
func serialParam(w http.ResponseWriter, r *http.Request) (lifx.Serial, bool) {
	raw := chi.URLParam(r, "serial")
	serial, err := lifx.ParseSerial(raw)
	if err != nil || serial.IsWildcard() {
		writeBadRequest(w, "invalid serial")
		return lifx.Serial{}, false
	}
	return serial, true
}

// handleListDevices returns every device the bridge serves.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	status, err := s.bridge.Device(serial)
	if err != nil {
		writeBridgeError(w, err)
		return
	}

	resp := deviceResponse{DeviceStatus: status}
	if s.registry != nil {
		stored, err := s.registry.GetDevice(r.Context(), serial.String())
		switch {
		case err == nil:
			resp.Registry = stored
		case !errors.Is(err, device.ErrDeviceNotFound):
			s.logger.Warn("registry lookup failed", "serial", serial.String(), "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetDiagnostics returns the troubleshooting view of one device.
func (s *Server) handleGetDiagnostics(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	diag, err := s.bridge.Diagnostics(serial)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

// handleIdentify pulses a device. It blocks until the pulse sequence ends.
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	if err := s.bridge.Identify(r.Context(), serial); err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"serial": serial.String(),
		"status": "identified",
	})
}

// handleRefresh runs a poll cycle and returns the resulting status.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	serial, ok := serialParam(w, r)
	if !ok {
		return
	}

	if err := s.bridge.Refresh(r.Context(), serial); err != nil {
		writeBridgeError(w, err)
		return
	}

	status, err := s.bridge.Device(serial)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleListKnownDevices returns discovery's view of the network.
func (s *Server) handleListKnownDevices(w http.ResponseWriter, _ *http.Request) {
	known := s.bridge.KnownDevices()
	if known == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "discovery is disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": known,
		"count":   len(known),
	})
}
