package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"kiosk/internal/domain"
	"kiosk/internal/service"
)

// ReaderService is the card reader surface exposed over the local API.
type ReaderService interface {
	Snapshot() service.ReaderSnapshot
	StartMonitoring() error
	StopMonitoring()
	ConnectToReader(ctx context.Context) service.ConnectResult
	StartPairing(ctx context.Context) error
	StopPairing()
	Forget(serialNumber string) error
}

// ReaderHandler handles HTTP requests for card readers.
type ReaderHandler struct {
	readers ReaderService
}

// NewReaderHandler creates a new ReaderHandler.
func NewReaderHandler(readers ReaderService) *ReaderHandler {
	return &ReaderHandler{readers: readers}
}

// DeviceResponse describes one reader known to the SDK.
type DeviceResponse struct {
	SerialNumber string   `json:"serial_number"`
	Model        string   `json:"model"`
	State        string   `json:"state"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	IsCharging   *bool    `json:"is_charging,omitempty"`
}

// ConnectionResponse is the aggregate connection status.
type ConnectionResponse struct {
	Kind           string   `json:"kind"`
	Message        string   `json:"message"`
	SelectedReader string   `json:"selected_reader,omitempty"`
	ReaderState    string   `json:"reader_state,omitempty"`
	InputMethods   []string `json:"input_methods,omitempty"`
}

// ReadersResponse is the HTTP response for GET /v1/readers.
type ReadersResponse struct {
	Monitoring       bool               `json:"monitoring"`
	Pairing          bool               `json:"pairing"`
	Status           ConnectionResponse `json:"status"`
	Devices          []DeviceResponse   `json:"devices"`
	LastPairingError string             `json:"last_pairing_error,omitempty"`
}

// ConnectResponse is the HTTP response for POST /v1/readers/connect.
type ConnectResponse struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Status  ConnectionResponse `json:"status"`
}

func toConnectionResponse(s domain.ConnectionStatus) ConnectionResponse {
	resp := ConnectionResponse{
		Kind:           string(s.Kind),
		Message:        s.Message(),
		SelectedReader: s.SelectedReader,
		ReaderState:    string(s.ReaderState),
	}
	for _, m := range s.InputMethods.List() {
		resp.InputMethods = append(resp.InputMethods, string(m))
	}
	return resp
}

func toDeviceResponses(devices []domain.ReaderDevice) []DeviceResponse {
	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceResponse{
			SerialNumber: d.SerialNumber,
			Model:        string(d.Model),
			State:        string(d.State),
			BatteryLevel: d.BatteryLevel,
			IsCharging:   d.IsCharging,
		})
	}
	return out
}

func (h *ReaderHandler) snapshot() ReadersResponse {
	s := h.readers.Snapshot()
	return ReadersResponse{
		Monitoring:       s.Monitoring,
		Pairing:          s.Pairing,
		Status:           toConnectionResponse(s.Status),
		Devices:          toDeviceResponses(s.Devices),
		LastPairingError: s.LastPairingError,
	}
}

// GetAll handles GET /v1/readers
func (h *ReaderHandler) GetAll(c *gin.Context) {
	respondJSON(c, http.StatusOK, h.snapshot())
}

// StartMonitoring handles POST /v1/readers/monitoring
func (h *ReaderHandler) StartMonitoring(c *gin.Context) {
	if err := h.readers.StartMonitoring(); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, h.snapshot())
}

// StopMonitoring handles DELETE /v1/readers/monitoring
func (h *ReaderHandler) StopMonitoring(c *gin.Context) {
	h.readers.StopMonitoring()
	respondJSON(c, http.StatusOK, h.snapshot())
}

// Connect handles POST /v1/readers/connect. Missing preconditions come back
// as a result code, not an error status.
func (h *ReaderHandler) Connect(c *gin.Context) {
	result := h.readers.ConnectToReader(c.Request.Context())
	respondJSON(c, http.StatusOK, ConnectResponse{
		Code:    string(result.Code),
		Message: result.Message,
		Status:  toConnectionResponse(result.Status),
	})
}

// StartPairing handles POST /v1/readers/pairing
func (h *ReaderHandler) StartPairing(c *gin.Context) {
	if err := h.readers.StartPairing(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusAccepted, h.snapshot())
}

// StopPairing handles DELETE /v1/readers/pairing
func (h *ReaderHandler) StopPairing(c *gin.Context) {
	h.readers.StopPairing()
	respondJSON(c, http.StatusOK, h.snapshot())
}

// Forget handles DELETE /v1/readers/:serial
func (h *ReaderHandler) Forget(c *gin.Context) {
	if err := h.readers.Forget(c.Param("serial")); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, h.snapshot())
}
