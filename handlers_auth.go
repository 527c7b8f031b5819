package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const (
	purposePasswordReset     = "password_reset"
	purposeEmailVerification = "email_verification"

	refreshTokenTTL = 30 * 24 * time.Hour
	resetTokenTTL   = 30 * time.Minute
	verifyTokenTTL  = 24 * time.Hour
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"max=200"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	User         PublicUser `json:"user"`
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	// set on signup only; there is no mail delivery, the caller forwards it
	VerificationToken string `json:"verification_token,omitempty"`
}

// issueSession mints the access JWT and a persisted refresh token for a user.
func (a *App) issueSession(user *User, asAdmin bool) (*sessionResponse, error) {
	access, err := a.codec.Issue(strconv.FormatInt(user.ID, 10), asAdmin, 0)
	if err != nil {
		return nil, err
	}
	ref, err := genToken(32)
	if err != nil {
		return nil, err
	}
	if err := a.DB.CreateRefreshToken(ref, user.ID, time.Now().Add(refreshTokenTTL).Unix()); err != nil {
		return nil, err
	}
	return &sessionResponse{
		User:         user.Public(),
		AccessToken:  access,
		RefreshToken: ref,
		TokenType:    "bearer",
	}, nil
}

func (a *App) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := checkStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	settings, err := a.DB.GetAdminSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if !settings.EnableRegistration {
		writeError(w, http.StatusForbidden, "REGISTRATION_DISABLED", "Registration is currently disabled")
		return
	}

	existing, err := a.DB.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "USER_EXISTS", "User already exists with this email")
		return
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}

	user, err := a.DB.CreateUser(req.Email, hashed, req.FullName, false)
	if err != nil {
		if err == ErrDuplicateEmail {
			writeError(w, http.StatusConflict, "USER_EXISTS", "User already exists with this email")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}

	a.dispatcher.Dispatch(r.Context(), streamSignups, SignupEvent{
		UserID:    user.ID,
		Email:     user.Email,
		Timestamp: time.Now().Unix(),
	})

	session, err := a.issueSession(user, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session")
		return
	}
	if vt, err := a.codec.IssuePurpose(strconv.FormatInt(user.ID, 10), purposeEmailVerification, verifyTokenTTL); err == nil {
		session.VerificationToken = vt
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	user, err := a.DB.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	// Same answer for unknown email and wrong password
	if user == nil || !comparePassword(user.Password, req.Password) {
		writeAuthError(w, ErrInvalidCredentials)
		return
	}
	if user.IsBlocked {
		writeError(w, http.StatusForbidden, "ACCOUNT_BLOCKED", "This account has been blocked")
		return
	}

	session, err := a.issueSession(user, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}

	row, err := a.DB.GetRefreshToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if row == nil {
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		return
	}
	if row.Revoked {
		// Reuse of a rotated token: assume theft, cut every session
		if err := a.DB.RevokeAllRefreshTokensForUser(row.UserID); err != nil {
			logger.WithError(err).Error("revoke tokens after reuse")
		}
		writeError(w, http.StatusUnauthorized, "TOKEN_REUSE_DETECTED", "Token reuse detected - all tokens revoked")
		return
	}
	if row.ExpiresAt < time.Now().Unix() {
		writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token has expired")
		return
	}

	user, err := a.DB.GetUserByID(row.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "USER_NOT_FOUND", "User not found")
		return
	}
	if user.IsBlocked {
		writeError(w, http.StatusForbidden, "ACCOUNT_BLOCKED", "This account has been blocked")
		return
	}

	// rotate
	if err := a.DB.RevokeRefreshToken(req.RefreshToken); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	session, err := a.issueSession(user, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}
	// Access JWTs stay valid until expiry; only the refresh token is revocable
	if err := a.DB.RevokeRefreshToken(req.RefreshToken); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Refresh token not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (a *App) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := checkStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	resp := map[string]string{"message": "Password reset instructions sent to " + req.Email}

	// Same message whether or not the account exists
	user, err := a.DB.GetUserByEmail(req.Email)
	if err == nil && user != nil {
		token, err := a.codec.IssuePurpose(strconv.FormatInt(user.ID, 10), purposePasswordReset, resetTokenTTL)
		if err == nil {
			resp["reset_token"] = token
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token" validate:"required"`
		NewPassword string `json:"new_password" validate:"required,min=8"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if err := checkStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	claims, err := a.codec.Decode(req.Token)
	if err != nil || claims.Purpose != purposePasswordReset || claims.UserID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token")
		return
	}
	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token")
		return
	}

	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	if err := a.DB.UpdatePassword(userID, hashed); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password")
		return
	}
	// Old sessions should not survive a password reset
	if err := a.DB.RevokeAllRefreshTokensForUser(userID); err != nil {
		logger.WithError(err).Error("revoke tokens after password reset")
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset successfully"})
}

func (a *App) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	claims, err := a.codec.Decode(req.Token)
	if err != nil || claims.Purpose != purposeEmailVerification {
		writeError(w, http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}
