package bundles

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
)

// Handler exposes bundle availability over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes mounts the bundle endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{bundleID}/availability", h.Availability)
	r.Post("/{bundleID}/recompute", h.Recompute)
	return r
}

type availabilityResponse struct {
	BundleID          string `json:"bundleId"`
	AvailableQuantity int    `json:"availableQuantity"`
}

func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleID")
	qty, err := h.service.Availability(r.Context(), bundleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, availabilityResponse{BundleID: bundleID, AvailableQuantity: qty})
}

func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleID")
	qty, err := h.service.Recompute(r.Context(), bundleID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, availabilityResponse{BundleID: bundleID, AvailableQuantity: qty})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrBundleNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error("bundle request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
