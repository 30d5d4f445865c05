package testutil

import (
	"net/http"

	id "mkcompany/pkg/domain"
	"mkcompany/pkg/requestcontext"
)

// AsUser attaches an authenticated principal to the request, as RequireAuth
// and the profile sync middleware would.
func AsUser(req *http.Request, userID id.UserID, email string, role id.Role) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), userID, email, role))
}

// AsAdmin attaches an admin principal to the request.
func AsAdmin(req *http.Request, userID id.UserID) *http.Request {
	return AsUser(req, userID, "admin@example.com", id.RoleAdmin)
}
