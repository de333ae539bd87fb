package handlers

import (
	"net/http"

	"github.com/pribylovaa/exam-auth/internal/models"
	"github.com/pribylovaa/exam-auth/internal/transport/http/apierrors"
)

func (h *Handlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r, models.PurposeOTP, "OTP sent to your email.")
}

func (h *Handlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	h.verifyCode(w, r, models.PurposeOTP, "OTP verified successfully.")
}

func (h *Handlers) SendVerificationCode(w http.ResponseWriter, r *http.Request) {
	h.sendCode(w, r, models.PurposeVerification, "Verification code sent to your email.")
}

func (h *Handlers) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	h.verifyCode(w, r, models.PurposeVerification, "Email verified successfully.")
}

// sendCode отвечает 200 и при неудачной доставке письма: код сохранён.
// Сам код в ответ не попадает.
func (h *Handlers) sendCode(w http.ResponseWriter, r *http.Request, purpose models.CodePurpose, msg string) {
	var in sendCodeRequest
	if err := decodeStrict(r, &in, false); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	pending, err := h.svc.SendCode(r.Context(), purpose, in.Email, in.Name)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, codeSentResponse{Success: true, Message: msg, ExpiresAt: pending.ExpiresAt})
}

func (h *Handlers) verifyCode(w http.ResponseWriter, r *http.Request, purpose models.CodePurpose, msg string) {
	var in verifyCodeRequest
	if err := decodeStrict(r, &in, false); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.svc.VerifyCode(r.Context(), purpose, in.Email, in.code()); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: msg})
}
