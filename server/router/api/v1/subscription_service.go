package v1

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	aierrors "github.com/hrygo/mirrord/server/internal/errors"
	"github.com/hrygo/mirrord/store"
)

// HeaderBillingSecret authenticates billing events.
const HeaderBillingSecret = "X-Billing-Secret"

// UpdateSubscriptionRequest is a billing event changing a user's plan.
type UpdateSubscriptionRequest struct {
	Identity string `json:"identity"`
	Tier     string `json:"tier"`
}

// UpdateSubscriptionResponse echoes the stored plan.
type UpdateSubscriptionResponse struct {
	Identity         string `json:"identity"`
	SubscriptionTier string `json:"subscriptionTier"`
	// Price is the catalog price of the plan; empty for the free tier.
	Price string `json:"price,omitempty"`
}

// UpdateSubscription applies a billing event.
// POST /api/subscription
func (s *APIV1Service) UpdateSubscription(c echo.Context) error {
	secret := s.Profile.BillingSecret
	if secret == "" {
		return writeError(c, aierrors.NotFound("billing webhook is disabled"), "")
	}
	given := c.Request().Header.Get(HeaderBillingSecret)
	if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
		slog.Warn("rejected billing event", "ip", c.RealIP())
		return writeError(c, aierrors.Unauthorized("invalid billing secret"), "")
	}

	var req UpdateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, aierrors.InvalidArgument("Invalid request body"), "")
	}
	tier := store.SubscriptionTier(req.Tier)
	if req.Identity == "" || !tier.Valid() {
		return writeError(c, aierrors.InvalidArgument("identity and a valid tier are required"), "")
	}

	record, err := s.Store.SetSubscriptionTier(c.Request().Context(), req.Identity, tier)
	if err != nil {
		slog.Error("failed to update subscription", "identity", req.Identity, "tier", req.Tier, "error", err)
		return writeError(c, aierrors.Internal("failed to update subscription", err), "")
	}

	resp := UpdateSubscriptionResponse{
		Identity:         record.Identity,
		SubscriptionTier: string(record.SubscriptionTier),
	}
	if s.Pricing != nil {
		if plan, ok := s.Pricing.Plan(record.SubscriptionTier); ok {
			resp.Price = plan.Price
		}
	}
	slog.Info("subscription updated", "identity", record.Identity, "tier", record.SubscriptionTier, "price", resp.Price)
	return c.JSON(http.StatusOK, resp)
}
