package api

import (
	"errors"
	"net/http"

	"github.com/Malowking/mcp-sentinel/internal/catalog"
	"go.uber.org/zap"
)

// handleRegisterService adds a tool service to the catalog.
func (d *Dependencies) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req RegisterServiceReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "invalid JSON body"})
		return
	}
	if req.Name == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name and url are required"})
		return
	}
	switch catalog.Layer(req.Layer) {
	case catalog.LayerCore, catalog.LayerDomain, catalog.LayerHighRisk, "":
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "layer must be core, domain, or high_risk"})
		return
	}

	err := d.Registry.Register(r.Context(), catalog.RegisterParams{
		Name:        req.Name,
		URL:         req.URL,
		Description: req.Description,
		Tools:       req.Tools,
		Layer:       catalog.Layer(req.Layer),
		Domain:      req.Domain,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrDuplicateService):
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: "service already registered"})
		case errors.Is(err, catalog.ErrCapacityExceeded):
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: "service capacity exceeded"})
		default:
			d.Logger.Error("service registration failed", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		}
		return
	}

	svc, err := d.Registry.Get(req.Name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "registration readback failed"})
		return
	}
	writeJSON(w, http.StatusCreated, serviceResp(svc))
}

// handleListServices returns the catalog in registration order.
func (d *Dependencies) handleListServices(w http.ResponseWriter, r *http.Request) {
	layer := catalog.Layer(r.URL.Query().Get("layer"))
	activeOnly := r.URL.Query().Get("active") == "true"

	services := d.Registry.List(layer, activeOnly)
	resp := ServiceListResp{Services: make([]ServiceResp, 0, len(services)), Total: len(services)}
	for _, svc := range services {
		resp.Services = append(resp.Services, serviceResp(svc))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleServiceStatus returns the full state of one service, tools included.
func (d *Dependencies) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	svc, err := d.Registry.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "service not found"})
		return
	}
	writeJSON(w, http.StatusOK, ServiceStatusResp{ServiceResp: serviceResp(svc), Tools: svc.Tools})
}

// handleDeactivateService soft-removes a service from routing.
func (d *Dependencies) handleDeactivateService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := d.Registry.Deactivate(r.Context(), name); err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "service not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated", "service": name})
}
