// Package identity maps source-side handle ids to local users. Rich
// resolution (address book, phone/email normalization) is an external
// concern; this resolver guarantees only that every handle maps to exactly
// one local user, creating a placeholder when nothing is known yet.
package identity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Napageneral/chatfeed/internal/store"
)

// Resolver resolves handles against the local user table.
type Resolver struct {
	store *store.Store
}

// NewResolver creates a store-backed resolver.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve returns the user mapped to handleID, creating and persisting a
// placeholder user on first sight. Deterministic for a given handle across
// calls: subsequent lookups return the stored row.
func (r *Resolver) Resolve(handleID int64) (store.User, error) {
	user, found, err := r.store.GetUserByHandle(handleID)
	if err != nil {
		return store.User{}, err
	}
	if found {
		return user, nil
	}

	// Placeholder with empty names: later enrichment fills them in.
	user = store.User{
		ID:        uuid.New().String(),
		HandleID:  handleID,
		CreatedAt: time.Now(),
	}
	if err := r.store.InsertUser(user); err != nil {
		return store.User{}, fmt.Errorf("failed to create user for handle %d: %w", handleID, err)
	}

	log.WithFields(log.Fields{
		"handle_id": handleID,
		"user_id":   user.ID,
	}).Info("created placeholder user")

	return user, nil
}
