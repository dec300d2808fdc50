package transport

import (
	"net/http"

	"github.com/pitabwire/dastyar/model"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin answers a failed login with 401 and the same message for an
// unknown email and a wrong password.
func handleLogin(accounts *Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteRequestError(w, r, err)
			return
		}
		state := accounts.Login(r.Context(), req.Email, req.Password)
		if !state.Success {
			WriteJSON(w, http.StatusUnauthorized, state)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleLogout(accounts *Accounts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteState(w, accounts.Logout(r.Context(), model.RequestContextFrom(r.Context())))
	}
}
