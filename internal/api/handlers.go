package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/homefix/appointment-scheduling/internal/appointment"
	"github.com/homefix/appointment-scheduling/internal/availability"
	redisclient "github.com/homefix/appointment-scheduling/internal/redis"
	"github.com/homefix/appointment-scheduling/internal/risk"
)

// Identity is taken from headers: authentication belongs to the gateway in
// front of this service.
func actorFromRequest(r *http.Request) (uuid.UUID, appointment.ActorRole, error) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return uuid.Nil, "", errors.New("X-Actor-ID header must be a valid UUID")
	}
	role := appointment.ActorRole(r.Header.Get("X-Actor-Role"))
	switch role {
	case appointment.RoleClient, appointment.RoleProvider, appointment.RoleAdmin, "":
	default:
		return uuid.Nil, "", errors.New("X-Actor-Role must be client, provider or admin")
	}
	return id, role, nil
}

func appointmentID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func getSlotsHandler(resolver *availability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_from", "from must be RFC 3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be RFC 3339")
			return
		}

		slots, err := resolver.GetAvailableSlots(r.Context(), providerID, from, to)
		if err != nil {
			switch {
			case errors.Is(err, availability.ErrInvalidRange):
				writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
			case errors.Is(err, availability.ErrRangeTooLarge):
				writeError(w, http.StatusBadRequest, "range_too_large", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{Start: s.Start, End: s.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		requestID, err := uuid.Parse(req.RequestID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_id", "request_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		appt, err := svc.Create(r.Context(), appointment.CreateParams{
			RequestID:   requestID,
			ClientID:    actorID,
			ProviderID:  providerID,
			WindowStart: req.WindowStart,
			WindowEnd:   req.WindowEnd,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetByID(r.Context(), id, actorID, role)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getHistoryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		history, err := svc.GetHistory(r.Context(), id, actorID, role)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		resp := make([]HistoryResponse, 0, len(history))
		for _, h := range history {
			resp = append(resp, toHistoryResponse(h))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// transition wraps the repeated decode-id-then-call shape shared by the
// simple lifecycle endpoints.
func transition(fn func(r *http.Request, id, actorID uuid.UUID, role appointment.ActorRole) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := fn(r, id, actorID, role)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, _ appointment.ActorRole) (*appointment.Appointment, error) {
		return svc.Confirm(r.Context(), id, actorID)
	})
}

func rejectAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, _ appointment.ActorRole) (*appointment.Appointment, error) {
		var req ReasonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.Reject(r.Context(), id, actorID, req.Reason)
	})
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, role appointment.ActorRole) (*appointment.Appointment, error) {
		var req ReasonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.Cancel(r.Context(), id, actorID, role, req.Reason)
	})
}

func requestRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, _ appointment.ActorRole) (*appointment.Appointment, error) {
		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.RequestReschedule(r.Context(), id, actorID, req.WindowStart, req.WindowEnd, req.Reason)
	})
}

func respondRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, _ appointment.ActorRole) (*appointment.Appointment, error) {
		var req RescheduleResponseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.RespondReschedule(r.Context(), id, actorID, req.Accept)
	})
}

func markArrivedHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, role appointment.ActorRole) (*appointment.Appointment, error) {
		var req ArrivalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.MarkArrived(r.Context(), id, actorID, role, appointment.ArrivalParams{
			Latitude:       req.Latitude,
			Longitude:      req.Longitude,
			AccuracyMeters: req.AccuracyMeters,
			ManualReason:   req.ManualReason,
		})
	})
}

func startAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, role appointment.ActorRole) (*appointment.Appointment, error) {
		var req StartRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, appointment.ErrValidation
			}
		}
		return svc.Start(r.Context(), id, actorID, role, req.OverrideReason)
	})
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, role appointment.ActorRole) (*appointment.Appointment, error) {
		return svc.Complete(r.Context(), id, actorID, role)
	})
}

func markNoShowHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, role appointment.ActorRole) (*appointment.Appointment, error) {
		var req ReasonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.MarkNoShow(r.Context(), id, actorID, role, req.Reason)
	})
}

func updateOperationalStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, role appointment.ActorRole) (*appointment.Appointment, error) {
		var req OperationalStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.UpdateOperationalStatus(r.Context(), id, actorID, role, appointment.OperationalStatus(req.Status), req.Reason)
	})
}

func confirmPresenceHandler(svc *appointment.Service) http.HandlerFunc {
	return transition(func(r *http.Request, id, actorID uuid.UUID, _ appointment.ActorRole) (*appointment.Appointment, error) {
		var req PresenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, appointment.ErrValidation
		}
		return svc.ConfirmPresence(r.Context(), id, actorID, req.Confirmed, req.Reason)
	})
}

func listRiskQueueHandler(queue *risk.QueueManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, role, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
		if role != appointment.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "risk queue is admin only")
			return
		}

		items, err := queue.ListOpen(r.Context(), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		resp := make([]QueueItemResponse, 0, len(items))
		for _, item := range items {
			resp = append(resp, toQueueItemResponse(item))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func resolveRiskQueueItemHandler(queue *risk.QueueManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, role, err := actorFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
			return
		}
		if role != appointment.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "risk queue is admin only")
			return
		}
		id, err := appointmentID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req ResolveQueueItemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		item, err := queue.ResolveManually(r.Context(), id, actorID, req.Note)
		if err != nil {
			switch {
			case errors.Is(err, risk.ErrQueueItemNotFound):
				writeError(w, http.StatusNotFound, "queue_item_not_found", err.Error())
			case errors.Is(err, appointment.ErrValidation):
				writeError(w, http.StatusBadRequest, "validation_error", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			}
			return
		}
		writeJSON(w, http.StatusOK, toQueueItemResponse(*item))
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrProviderNotAssigned):
		writeError(w, http.StatusConflict, "provider_not_assigned", err.Error())
	case errors.Is(err, appointment.ErrWindowConflict):
		writeError(w, http.StatusConflict, "window_conflict", err.Error())
	case errors.Is(err, appointment.ErrConflict),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "concurrent_update", "appointment is being modified, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
