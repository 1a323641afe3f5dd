package controllers

import (
	"net/http"

	"github.com/rzbill/keywatch/internal/runtime"
	"github.com/rzbill/keywatch/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	watches *WatchesController
}

// NewControllerRegistry initializes all controllers over rt.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt, logger),
		watches: NewWatchesController(rt, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.watches.RegisterRoutes(mux)
}
