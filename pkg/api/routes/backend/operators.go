package backend

import (
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"convodb/pkg/api/auth"
	"convodb/pkg/api/router"
	"convodb/pkg/chat"
	"convodb/pkg/state/logger"
)

// Handlers serves routes reserved for backend API keys.
type Handlers struct {
	Chat *chat.Service
}

type signRequest struct {
	UserID string `json:"user_id"`
}

type signResponse struct {
	UserID    string `json:"user_id"`
	Signature string `json:"signature"`
}

// Sign returns an HMAC signature for an external user id, keyed by the
// calling backend's API key.
func (h *Handlers) Sign(ctx *fasthttp.RequestCtx) {
	if auth.RoleOf(ctx) != auth.RoleBackend {
		router.WriteJSONError(ctx, fasthttp.StatusForbidden, "forbidden")
		return
	}
	var req signRequest
	if !router.DecodeBody(ctx, &req) {
		return
	}
	if err := ValidateUserID(req.UserID); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid user ID: %s", err))
		return
	}
	sig := auth.CreateHMACSignature(req.UserID, auth.APIKey(ctx))
	_ = router.WriteJSON(ctx, signResponse{UserID: req.UserID, Signature: sig})
}

// UpsertUser registers a user the identity provider has vouched for.
func (h *Handlers) UpsertUser(ctx *fasthttp.RequestCtx) {
	var req chat.UpsertUserParams
	if !router.DecodeBody(ctx, &req) {
		return
	}
	if err := ValidateUserID(req.ExternalID); err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, fmt.Sprintf("invalid external ID: %s", err))
		return
	}
	opCtx, cancel := router.OpContext()
	defer cancel()
	u, err := h.Chat.UpsertUser(opCtx, req)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	logger.AuditEvent("user_upserted", "user_id", u.ID, "external_id", u.ExternalID)
	_ = router.WriteJSON(ctx, u)
}

func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if len(userID) > 128 {
		return fmt.Errorf("user ID too long")
	}
	return nil
}
