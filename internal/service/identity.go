package service

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tierd/tierd-go/internal/model"
	"github.com/tierd/tierd-go/pkg/hash"
)

// IssueClientID returns a fresh anonymous client id.
func IssueClientID() string {
	return uuid.NewString()
}

// ResolveAnonymous maps a client-supplied id to its ledger identity. The id
// must be a UUID; ok is false otherwise. Equivalent spellings of the same UUID
// resolve to the same identity.
func ResolveAnonymous(clientID string) (model.VoterIdentity, bool) {
	u, err := uuid.Parse(strings.TrimSpace(clientID))
	if err != nil || u == uuid.Nil {
		return model.VoterIdentity{}, false
	}
	return model.VoterIdentity{ID: hash.HashClientID(u.String()), Anonymous: true}, true
}

// ResolveUser returns the identity for an authenticated user id.
func ResolveUser(userID string) model.VoterIdentity {
	return model.VoterIdentity{ID: strings.TrimSpace(userID)}
}
