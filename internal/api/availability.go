package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/telederm-scheduling/internal/appointment"
	"github.com/hackgods/telederm-scheduling/internal/schedule"
	"github.com/hackgods/telederm-scheduling/pkg/logging"
)

func availabilityHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := providerIDParam(w, r)
		if !ok {
			return
		}

		raw := r.URL.Query().Get("date")
		date, err := schedule.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), providerID, date)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ProviderID: providerID,
			Date:       raw,
			Slots:      slots.Strings(),
		})
	}
}

func weeklyTemplateHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := providerIDParam(w, r)
		if !ok || !canManageProvider(w, r, providerID) {
			return
		}

		tmpl, err := svc.GetWeeklyTemplate(r.Context(), providerID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := WeeklyTemplateResponse{
			ProviderID:  providerID,
			WeeklySlots: make(map[string][]string, len(schedule.Week)),
		}
		for _, day := range schedule.Week {
			resp.WeeklySlots[day.String()] = tmpl.For(day).Strings()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setWeeklySlotsHandler(svc Scheduler, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, ok := providerIDParam(w, r)
		if !ok || !canManageProvider(w, r, providerID) {
			return
		}

		day, err := schedule.ParseWeekday(chi.URLParam(r, "weekday"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_weekday", err.Error())
			return
		}

		var req WeeklySlotsRequest
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slots, err := svc.SetWeeklySlots(r.Context(), providerID, day, req.Slots)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, WeeklySlotsResponse{
			ProviderID: providerID,
			Weekday:    day.String(),
			Slots:      slots.Strings(),
		})
	}
}

func providerIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// canManageProvider allows the provider themself or an admin.
func canManageProvider(w http.ResponseWriter, r *http.Request, providerID uuid.UUID) bool {
	actor, _ := ActorFromContext(r.Context())
	if actor.IsAdmin() || (actor.Role == string(appointment.RoleDoctor) && actor.ID == providerID) {
		return true
	}
	writeError(w, http.StatusForbidden, "forbidden", "only the provider can manage this template")
	return false
}
