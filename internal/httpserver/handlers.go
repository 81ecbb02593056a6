package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"myaccountapp/account-client/internal/auth"
	"myaccountapp/account-client/internal/profile"
	"myaccountapp/account-client/internal/session"
	"myaccountapp/account-client/internal/validate"
)

const maxBodyBytes = 16 << 10

type stateView struct {
	Phase            session.Phase     `json:"phase"`
	IsLoading        bool              `json:"is_loading"`
	NetworkAvailable bool              `json:"network_available"`
	Session          *auth.SessionView `json:"session,omitempty"`
	Profile          *profile.Profile  `json:"profile,omitempty"`
}

func viewOf(s session.State) stateView {
	v := stateView{
		Phase:            s.Phase(),
		IsLoading:        s.IsLoading,
		NetworkAvailable: s.NetworkAvailable,
		Profile:          s.Profile,
	}
	if s.Session != nil {
		sv := s.Session.View()
		v.Session = &sv
	}
	return v
}

func registerSessionHandlers(r chi.Router, deps Deps, limiter *RateLimiter) {
	log := deps.Logger.With("component", "httpserver")
	c := deps.Coordinator

	r.Get("/v1/session", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, viewOf(c.Snapshot()))
	})

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())

		r.Post("/v1/session/sign-in", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			if err := validate.SignIn(req.Email, req.Password); err != nil {
				writeValidationError(w, err)
				return
			}
			email := strings.TrimSpace(req.Email)
			sess, err := c.SignIn(r.Context(), email, req.Password)
			auditOp(deps.Audit, log, r, "sign_in", sess.UserID, err)
			if err != nil {
				writeOperationError(w, log, err)
				return
			}
			writeJSON(w, http.StatusOK, viewOf(c.Snapshot()))
		})

		r.Post("/v1/session/register", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				DisplayName string `json:"display_name"`
				Email       string `json:"email"`
				Password    string `json:"password"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			reg, err := validate.NewRegistration(req.DisplayName, req.Email, req.Password)
			if err != nil {
				writeValidationError(w, err)
				return
			}
			sess, err := c.Register(r.Context(), reg.DisplayName, reg.Email, reg.Password)
			auditOp(deps.Audit, log, r, "register", sess.UserID, err)
			if err != nil {
				writeOperationError(w, log, err)
				return
			}
			writeJSON(w, http.StatusCreated, viewOf(c.Snapshot()))
		})

		r.Post("/v1/session/password-reset", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Email string `json:"email"`
			}
			if !decodeBody(w, r, &req) {
				return
			}
			if err := validate.Email(req.Email); err != nil {
				writeValidationError(w, err)
				return
			}
			err := c.ResetPassword(r.Context(), strings.TrimSpace(req.Email))
			auditOp(deps.Audit, log, r, "reset_password", "", err)
			if err != nil {
				writeOperationError(w, log, err)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})

	r.Post("/v1/session/sign-out", func(w http.ResponseWriter, r *http.Request) {
		subject := subjectOf(c.Snapshot())
		c.SignOut(r.Context())
		auditOp(deps.Audit, log, r, "sign_out", subject, nil)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/v1/profile/refresh", func(w http.ResponseWriter, r *http.Request) {
		err := c.FetchProfile(r.Context())
		if err != nil {
			writeOperationError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(c.Snapshot()))
	})

	r.Delete("/v1/account", func(w http.ResponseWriter, r *http.Request) {
		subject := subjectOf(c.Snapshot())
		err := c.DeleteAccount(r.Context())
		auditOp(deps.Audit, log, r, "delete_account", subject, err)
		if err != nil {
			writeOperationError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func subjectOf(s session.State) string {
	if s.Session == nil {
		return ""
	}
	return s.Session.UserID
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var vErr *validate.Error
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": vErr.Error(),
			"field": vErr.Field,
		})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// writeOperationError maps coordinator failures onto HTTP responses.
func writeOperationError(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		inUse    *session.EmailInUseError
		fetchErr *session.ProfileFetchError
		storeErr *session.StoreError
		authErr  *auth.Error
	)
	switch {
	case errors.Is(err, session.ErrNetworkUnavailable):
		writeError(w, http.StatusServiceUnavailable, "network unavailable")
	case errors.Is(err, session.ErrOperationInProgress):
		writeError(w, http.StatusConflict, "another account operation is in progress")
	case errors.Is(err, session.ErrSuperseded):
		writeError(w, http.StatusConflict, "superseded by a later session change")
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusUnauthorized, "no active session")
	case errors.As(err, &inUse):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":    "email already in use",
			"email":    inUse.Email,
			"redirect": "sign-in",
		})
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, "profile fetch failed")
	case errors.As(err, &storeErr):
		log.Error("profile store failure", "op", storeErr.Op, "error", storeErr.Err)
		writeError(w, http.StatusBadGateway, "profile store failure")
	case errors.As(err, &authErr):
		writeJSON(w, authStatus(authErr.Code), map[string]string{
			"error": authErr.Message,
			"code":  string(authErr.Code),
		})
	default:
		log.Error("account operation failed", "error", err)
		writeError(w, http.StatusBadGateway, "identity backend request failed")
	}
}

func authStatus(code auth.Code) int {
	switch code {
	case auth.CodeWrongCredential, auth.CodeIdentityNotFound, auth.CodeSessionExpired:
		return http.StatusUnauthorized
	case auth.CodeIdentityDisabled:
		return http.StatusForbidden
	case auth.CodeMalformedEmail, auth.CodeWeakCredential:
		return http.StatusBadRequest
	case auth.CodeRateLimited:
		return http.StatusTooManyRequests
	case auth.CodeEmailRegistered:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
