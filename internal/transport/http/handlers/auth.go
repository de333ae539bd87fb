package handlers

import (
	"net/http"

	"github.com/pribylovaa/exam-auth/internal/service"
	"github.com/pribylovaa/exam-auth/internal/transport/http/apierrors"
)

func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var in signupRequest
	if err := decodeStrict(r, &in, false); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.svc.Signup(r.Context(), service.SignupInput{
		Name:     in.Name,
		Email:    in.Email,
		Username: in.Username,
		Phone:    in.Phone,
		Password: in.Password,
	}, clientInfo(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, authBody("User registered successfully", res))
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in, false); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.svc.Login(r.Context(), in.identifier(), in.Password, clientInfo(r))
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authBody("Login successful", res))
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(r, &in, true); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Success:     true,
		AccessToken: pair.AccessToken,
		ExpiresAt:   pair.AccessExpiresAt,
	})
}

// Logout всегда отвечает 200: даже нечитаемое тело означает «выйти».
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	_ = decodeStrict(r, &in, true)

	h.svc.Logout(r.Context(), in.RefreshToken)

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if err := decodeStrict(r, &in, false); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), in.Email, in.Password); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Password reset successfully"})
}

func authBody(msg string, res *service.AuthResult) authResponse {
	return authResponse{
		Success: true,
		Message: msg,
		User:    toUserDTO(res.Account),
		Session: sessionDTO{
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
			ExpiresAt:    res.Tokens.AccessExpiresAt,
		},
	}
}
