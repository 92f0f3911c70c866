package coupons

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/tableserve-backend/api/middleware"
	"github.com/angelmondragon/tableserve-backend/api/responses"
	"github.com/angelmondragon/tableserve-backend/api/validators"
	"github.com/angelmondragon/tableserve-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

// Validate previews what a coupon would take off the caller's open bill.
// Nothing is redeemed.
func Validate(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		couponID, err := validators.ParseQueryUUID(r, "couponId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		code := validators.SanitizeString(r.URL.Query().Get("code"), 64)
		if couponID == nil && code == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "couponId or code is required"))
			return
		}
		guestID, err := validators.ParseQueryUUID(r, "guestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var table *int
		if strings.TrimSpace(r.URL.Query().Get("tableNumber")) != "" {
			value, err := validators.ParseQueryInt(r, "tableNumber", 0, 1, 10000)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			table = &value
		}

		validation, err := svc.PreviewCoupon(r.Context(), settlement.PreviewInput{
			Actor: settlement.Actor{
				ID:   middleware.SubjectIDFromContext(r.Context()),
				Role: middleware.RoleFromContext(r.Context()),
			},
			GuestID:     guestID,
			TableNumber: table,
			CouponID:    couponID,
			CouponCode:  code,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, validation)
	}
}
