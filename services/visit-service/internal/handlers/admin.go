package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/visitbook/libs/httpx"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type listVisitsResponse struct {
	Items []visitResponse `json:"items"`
	Meta  listMeta        `json:"meta"`
}

// parseBound accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseBound(raw string, endOfDay bool) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}

func parsePositive(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *VisitHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.VisitFilter{
		AgentID:   strings.TrimSpace(q.Get("agent_id")),
		ListingID: strings.TrimSpace(q.Get("listing_id")),
		UserID:    strings.TrimSpace(q.Get("user_id")),
		Search:    strings.TrimSpace(q.Get("search")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := model.ParseStatus(raw)
		if !ok {
			writeValidation(w, "unknown status")
			return
		}
		filter.Status = status
	}
	var ok bool
	if filter.DateFrom, ok = parseBound(q.Get("date_from"), false); !ok {
		writeValidation(w, "invalid date_from")
		return
	}
	if filter.DateTo, ok = parseBound(q.Get("date_to"), true); !ok {
		writeValidation(w, "invalid date_to")
		return
	}
	page, ok := parsePositive(q.Get("page"))
	if !ok {
		writeValidation(w, "invalid page")
		return
	}
	pageSize, ok := parsePositive(q.Get("page_size"))
	if !ok {
		writeValidation(w, "invalid page_size")
		return
	}

	res, err := h.svc.ListVisits(r.Context(), filter, page, pageSize)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listVisitsResponse{
		Items: toVisitList(res.Items),
		Meta: listMeta{
			Page:       res.Page,
			PageSize:   res.PageSize,
			Total:      res.Total,
			TotalPages: res.TotalPages,
		},
	})
}

func (h *VisitHandler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeValidation(w, "invalid json body")
		return
	}
	v, err := h.svc.UpdateVisitStatus(r.Context(), booking.UpdateStatusInput{
		VisitID: r.PathValue("id"),
		Status:  model.VisitStatus(strings.TrimSpace(req.Status)),
		Reason:  req.Reason,
		Actor:   actorFor(r, ""),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toVisitResponse(v))
}

func (h *VisitHandler) AdminHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.VisitHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toHistoryResponse(entries)})
}
