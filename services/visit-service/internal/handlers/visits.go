package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/visitbook/libs/auth"
	"github.com/md-rashed-zaman/visitbook/libs/httpx"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

const idempotencyHeader = "Idempotency-Key"

type VisitHandler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func NewVisitHandler(svc *booking.Service, logger *slog.Logger) *VisitHandler {
	return &VisitHandler{svc: svc, logger: logger}
}

// Register mounts the visit routes. public wraps visitor routes, admin wraps
// the back-office routes.
func (h *VisitHandler) Register(mux *http.ServeMux, public, admin func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/visits", public(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/v1/visits", public(http.HandlerFunc(h.ListByUser)))
	mux.Handle("GET /api/v1/visits/{id}", public(http.HandlerFunc(h.Get)))
	mux.Handle("POST /api/v1/visits/{id}/cancel", public(http.HandlerFunc(h.Cancel)))
	mux.Handle("POST /api/v1/visits/{id}/reschedule", public(http.HandlerFunc(h.Reschedule)))
	mux.Handle("GET /api/v1/listings/{listing_id}/slots", public(http.HandlerFunc(h.AvailableSlots)))

	mux.Handle("GET /api/v1/admin/visits", admin(http.HandlerFunc(h.AdminList)))
	mux.Handle("PATCH /api/v1/admin/visits/{id}/status", admin(http.HandlerFunc(h.AdminUpdateStatus)))
	mux.Handle("GET /api/v1/admin/visits/{id}/history", admin(http.HandlerFunc(h.AdminHistory)))
}

type createVisitRequest struct {
	ListingID      string       `json:"listing_id"`
	SlotID         string       `json:"slot_id"`
	UserID         string       `json:"user_id"`
	IdempotencyKey string       `json:"idempotency_key"`
	Channel        string       `json:"channel"`
	AgentID        string       `json:"agent_id"`
	Contact        *contactBody `json:"contact"`
}

type cancelVisitRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

type rescheduleVisitRequest struct {
	SlotID    string `json:"slot_id"`
	ListingID string `json:"listing_id"`
	Reason    string `json:"reason"`
	ActorID   string `json:"actor_id"`
}

type cancelVisitResponse struct {
	Visit        visitResponse `json:"visit"`
	ReleasedSlot *slotResponse `json:"released_slot"`
}

type rescheduleVisitResponse struct {
	Visit        visitResponse `json:"visit"`
	PreviousSlot *slotResponse `json:"previous_slot"`
	NextSlot     *slotResponse `json:"next_slot"`
}

type userVisitsResponse struct {
	Upcoming []visitResponse `json:"upcoming"`
	Past     []visitResponse `json:"past"`
	Canceled []visitResponse `json:"canceled"`
}

// decodeOptional accepts an empty body as the zero request.
func decodeOptional(r *http.Request, v any) error {
	err := httpx.DecodeJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// actorFor resolves who is acting. Verified claims win over the body.
func actorFor(r *http.Request, bodyActorID string) booking.Actor {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		if isStaff(claims.Role) {
			return booking.Actor{Type: model.ActorAdmin, ID: claims.Sub}
		}
		return booking.Actor{Type: model.ActorUser, ID: claims.Sub}
	}
	return booking.Actor{Type: model.ActorUser, ID: strings.TrimSpace(bodyActorID)}
}

func isStaff(role string) bool {
	return role == "admin" || role == "ops"
}

func (h *VisitHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createVisitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeValidation(w, "invalid json body")
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if header := strings.TrimSpace(r.Header.Get(idempotencyHeader)); header != "" {
		if key != "" && key != header {
			writeValidation(w, "Idempotency-Key header does not match idempotency_key")
			return
		}
		key = header
	}

	channel, ok := model.ParseChannel(strings.TrimSpace(req.Channel))
	if !ok {
		writeValidation(w, "channel must be web or whatsapp")
		return
	}

	in := booking.CreateVisitInput{
		ListingID:      req.ListingID,
		SlotID:         req.SlotID,
		UserID:         req.UserID,
		IdempotencyKey: key,
		Channel:        channel,
		AgentID:        req.AgentID,
	}
	if c := req.Contact; c != nil {
		in.Contact = &model.Contact{Name: c.Name, Phone: c.Phone, Email: c.Email}
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		if strings.TrimSpace(in.UserID) == "" && !isStaff(claims.Role) {
			in.UserID = claims.Sub
		}
		if strings.TrimSpace(in.AgentID) == "" {
			in.AgentID = claims.AgentID
		}
	}

	res, err := h.svc.CreateVisit(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	status := http.StatusCreated
	if res.Idempotent {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, toVisitResponse(res.Visit))
}

func (h *VisitHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok && !isStaff(claims.Role) {
			userID = claims.Sub
		}
	}
	if userID == "" {
		writeValidation(w, "user_id is required")
		return
	}
	visits, err := h.svc.GetVisitsByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, userVisitsResponse{
		Upcoming: toVisitList(visits.Upcoming),
		Past:     toVisitList(visits.Past),
		Canceled: toVisitList(visits.Canceled),
	})
}

func (h *VisitHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetVisit(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toVisitWithSlotResponse(v))
}

func (h *VisitHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelVisitRequest
	if err := decodeOptional(r, &req); err != nil {
		writeValidation(w, "invalid json body")
		return
	}
	res, err := h.svc.CancelVisit(r.Context(), booking.CancelVisitInput{
		VisitID: r.PathValue("id"),
		Reason:  req.Reason,
		Actor:   actorFor(r, req.ActorID),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cancelVisitResponse{
		Visit:        toVisitResponse(res.Visit),
		ReleasedSlot: toSlotResponse(res.ReleasedSlot),
	})
}

func (h *VisitHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleVisitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeValidation(w, "invalid json body")
		return
	}
	res, err := h.svc.RescheduleVisit(r.Context(), booking.RescheduleVisitInput{
		VisitID:   r.PathValue("id"),
		NewSlotID: req.SlotID,
		ListingID: req.ListingID,
		Reason:    req.Reason,
		Actor:     actorFor(r, req.ActorID),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rescheduleVisitResponse{
		Visit:        toVisitResponse(res.Visit),
		PreviousSlot: toSlotResponse(res.PreviousSlot),
		NextSlot:     toSlotResponse(res.NextSlot),
	})
}

func (h *VisitHandler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.svc.AvailableSlots(r.Context(), r.PathValue("listing_id"), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]*slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"slots": out})
}
