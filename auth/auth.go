package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/sessions"
)

const (
	sessionName  = "fork-journal"
	sessionIDKey = "sessionID"
)

// Authenticator identifies the browser session a request belongs to. The session id
// names the journal of the browser and the user acting on deployment slices.
type Authenticator struct{}

func NewAuthenticator() *Authenticator {
	return &Authenticator{}
}

// GetOrCreateSession returns the id stored in the session cookie, starting a new
// session when the request has none.
func (a *Authenticator) GetOrCreateSession(ctx context.Context) (uuid.UUID, error) {
	session := sessions.Get(ctx, sessionName)

	id, ok := sessionID(session.Values[sessionIDKey])
	if !ok {
		id = uuid.New()
		session.Values[sessionIDKey] = id.String()
	}

	// saving refreshes the cookie max age
	if err := sessions.Save(ctx, session); err != nil {
		return uuid.Nil, errors.Wrap(err, "failed to update session")
	}

	return id, nil
}

func sessionID(value interface{}) (uuid.UUID, bool) {
	str, ok := value.(string)
	if !ok {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, false
	}

	return id, true
}
