package refunds

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-pos/meridian-pos/internal/inventory"
	"github.com/meridian-pos/meridian-pos/internal/platform/httpx"
	"github.com/meridian-pos/meridian-pos/internal/sales/transactions"
)

// Handler exposes the refund engine over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes mounts the refund endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/{refundID}", h.Get)
	r.Post("/{refundID}/approve", h.Approve)
	r.Post("/{refundID}/reject", h.Reject)
	r.Post("/{refundID}/process", h.Process)
	r.Post("/{refundID}/complete", h.Complete)
	r.Post("/{refundID}/cancel", h.Cancel)
	r.Get("/eligibility/{transactionID}", h.Eligibility)
	r.Get("/transaction/{transactionID}", h.ListByTransaction)
	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRefundRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	refund, err := h.service.Create(r.Context(), req.toInput())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, refund)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	refund, err := h.service.Get(r.Context(), chi.URLParam(r, "refundID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, refund)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(id string, req ActionRequest) (*Refund, error) {
		return h.service.Approve(r.Context(), id, req.Actor)
	})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(id string, req ActionRequest) (*Refund, error) {
		return h.service.Reject(r.Context(), id, req.Actor, req.Reason)
	})
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(id string, req ActionRequest) (*Refund, error) {
		return h.service.Process(r.Context(), id, req.Actor)
	})
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(id string, req ActionRequest) (*Refund, error) {
		return h.service.Complete(r.Context(), id, req.Actor, req.SettlementRef)
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(id string, req ActionRequest) (*Refund, error) {
		return h.service.Cancel(r.Context(), id, req.Actor)
	})
}

func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	eligibility, err := h.service.CalculateEligibility(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, eligibility)
}

func (h *Handler) ListByTransaction(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.service.ListByTransaction(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if refunds == nil {
		refunds = []Refund{}
	}
	httpx.JSON(w, http.StatusOK, refunds)
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, fn func(string, ActionRequest) (*Refund, error)) {
	var req ActionRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	refund, err := fn(chi.URLParam(r, "refundID"), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, refund)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var notRefundable *NotRefundableError
	var duplicate *DuplicateRefundError
	var badQuantity *InvalidRefundQuantityError
	var badTransition *InvalidTransitionError
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.Is(err, ErrRefundNotFound), errors.Is(err, transactions.ErrTransactionNotFound),
		errors.Is(err, inventory.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &notRefundable):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Not Refundable", notRefundable.Error())
	case errors.As(err, &duplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate Refund", duplicate.Error())
	case errors.As(err, &badQuantity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Refund Quantity", badQuantity.Error())
	case errors.As(err, &badTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", badTransition.Error())
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", stockErr.Error())
	default:
		h.logger.Error("refund request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
