package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/device"
)

// createDeviceRequest is the body for POST /devices. Only the fields an
// operator chooses are accepted; identity is discovered on connect.
type createDeviceRequest struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Username string `json:"username"`
}

// handleListDevices returns all devices.
//
// Query parameters:
//   - platform: filter by platform tag (XboxOne, IoTRaspberryPi3, ...)
//   - status: filter by last connection status (Connected, Failed, ...)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	q := r.URL.Query()
	platform, status := q.Get("platform"), q.Get("status")
	if platform != "" || status != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if platform != "" && !strings.EqualFold(d.Platform, platform) {
				continue
			}
			if status != "" && !strings.EqualFold(d.LastStatus, status) {
				continue
			}
			filtered = append(filtered, d)
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID or name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateDevice registers a new device.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{Name: req.Name, Address: req.Address, Username: req.Username}
	if err := s.registry.CreateDevice(r.Context(), dev); err != nil {
		switch {
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
		default:
			s.logger.Error("creating device", "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	s.audit.Device(r.Context(), audit.ActionRegister, dev.ID, callerName(r.Context()),
		map[string]any{"name": dev.Name, "address": dev.Address})
	writeJSON(w, http.StatusCreated, dev)
}

// handleDeleteDevice removes a device by ID or name.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveDevice(w, r)
	if !ok {
		return
	}

	if err := s.registry.DeleteDevice(r.Context(), dev.ID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	s.audit.Device(r.Context(), audit.ActionRemove, dev.ID, callerName(r.Context()),
		map[string]any{"name": dev.Name})
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceStats returns inventory statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.GetStats())
}

// handleConnectDevice runs the connect sequence against the device and
// returns the updated inventory record. Progress is broadcast on the
// connection.status channel while the request is in flight.
func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveLive(w, r)
	if !ok {
		return
	}

	updated, err := s.controller.Connect(r.Context(), dev.ID)
	s.audit.Device(r.Context(), audit.ActionConnect, dev.ID, callerName(r.Context()), outcome(err))
	if err != nil {
		s.logger.Warn("connect failed", "device", dev.Name, "error", err)
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleRestartDevice asks the device to reboot.
func (s *Server) handleRestartDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveLive(w, r)
	if !ok {
		return
	}

	err := s.controller.Restart(r.Context(), dev.ID)
	s.audit.Device(r.Context(), audit.ActionRestart, dev.ID, callerName(r.Context()), outcome(err))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": dev.ID, "action": audit.ActionRestart})
}

// handleShutdownDevice asks the device to power off.
func (s *Server) handleShutdownDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveLive(w, r)
	if !ok {
		return
	}

	err := s.controller.Shutdown(r.Context(), dev.ID)
	s.audit.Device(r.Context(), audit.ActionShutdown, dev.ID, callerName(r.Context()), outcome(err))
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": dev.ID, "action": audit.ActionShutdown})
}

// handleDeviceSysPerf fetches one performance sample from the device.
func (s *Server) handleDeviceSysPerf(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.resolveLive(w, r)
	if !ok {
		return
	}

	perf, err := s.controller.SystemPerformance(r.Context(), dev.ID)
	if err != nil {
		writeDeviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": dev.ID,
		"sample":    perf,
		"fields":    perf.Fields(),
	})
}

// resolveDevice looks up the {id} URL parameter, writing 404 on failure.
func (s *Server) resolveDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	dev, err := s.registry.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

// resolveLive is resolveDevice for endpoints that need the controller.
func (s *Server) resolveLive(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	if s.controller == nil {
		writeUnavailable(w, "device operations are not available")
		return nil, false
	}
	return s.resolveDevice(w, r)
}

func outcome(err error) map[string]any {
	if err != nil {
		return map[string]any{"succeeded": false, "error": err.Error()}
	}
	return map[string]any{"succeeded": true}
}
