package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockroom-backend/api/middleware"
	"github.com/angelmondragon/stockroom-backend/pkg/outbox"
)

// actorFromRequest builds the event attribution from the gateway headers.
// Requests without an actor header stay anonymous.
func actorFromRequest(r *http.Request) *outbox.ActorRef {
	raw := middleware.ActorIDFromContext(r.Context())
	if raw == "" {
		return nil
	}
	actorID, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &outbox.ActorRef{
		UserID: actorID,
		Role:   middleware.ActorRoleFromContext(r.Context()),
	}
}

func actorUserID(r *http.Request) *uuid.UUID {
	if actor := actorFromRequest(r); actor != nil {
		id := actor.UserID
		return &id
	}
	return nil
}
