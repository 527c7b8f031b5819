package main

import (
	"fmt"
	"strconv"
)

// resolveUser turns a bearer token into the authenticated user for one
// request. All decode failures (bad signature, malformed token, expiry)
// collapse into ErrInvalidToken so the caller cannot tell which check
// failed. Results are never cached across requests.
func (a *App) resolveUser(tokenString string) (*User, error) {
	claims, err := a.codec.Decode(tokenString)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != "" {
		// reset/verification tokens are not sessions
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrNotLoggedIn
	}

	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := a.DB.GetUserByID(id)
	if err != nil {
		return nil, fmt.Errorf("looking up user %d: %w", id, err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// requireAdmin gates an already-resolved principal. It composes strictly
// after resolveUser: an invalid token is always a 401, never a 403.
func requireAdmin(u *User) (*User, error) {
	if !u.IsAdmin {
		return nil, ErrForbidden
	}
	return u, nil
}
