package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/service"
	"github.com/pribylovaa/exam-auth/internal/transport/http/apierrors"
	"github.com/pribylovaa/exam-auth/internal/transport/http/middleware"
)

func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrMissingToken)
		return
	}

	acc, err := h.svc.Profile(r.Context(), p.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{Success: true, User: toUserDTO(acc)})
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrMissingToken)
		return
	}

	var in updateProfileRequest
	if err := decodeStrict(r, &in, false); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	acc, err := h.svc.UpdateProfile(r.Context(), p.UserID, models.ProfileUpdate{
		Name:     in.Name,
		Username: in.Username,
		Phone:    in.Phone,
	})
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{Success: true, Message: "Profile updated", User: toUserDTO(acc)})
}

// ForceLogout - административное завершение всех сессий пользователя.
func (h *Handlers) ForceLogout(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteError(w, r, &service.ValidationError{Msg: "Invalid user id"})
		return
	}

	n, err := h.svc.ForceLogout(r.Context(), id)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, revokeResponse{Success: true, Revoked: n})
}
