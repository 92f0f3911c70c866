package payments

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/api/middleware"
	"github.com/angelmondragon/tableserve-backend/api/responses"
	"github.com/angelmondragon/tableserve-backend/api/validators"
	internalpayments "github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/settlement"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/pagination"
)

type initiateRequest struct {
	PaymentMethod string     `json:"paymentMethod" validate:"required"`
	ReturnURL     string     `json:"returnUrl,omitempty" validate:"omitempty,url"`
	Currency      string     `json:"currency,omitempty" validate:"omitempty,currency"`
	Note          *string    `json:"note,omitempty" validate:"omitempty,max=500"`
	CouponID      *uuid.UUID `json:"couponId,omitempty"`
	CouponCode    string     `json:"couponCode,omitempty" validate:"omitempty,coupon_code"`
	SourceID      string     `json:"sourceId,omitempty" validate:"omitempty,max=255"`
	GuestID       *uuid.UUID `json:"guestId,omitempty"`
	TableNumber   *int       `json:"tableNumber,omitempty" validate:"omitempty,min=1"`
}

// Initiate settles the caller's unpaid orders with the requested method.
func Initiate(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var payload initiateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(strings.TrimSpace(payload.PaymentMethod))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method").
				WithDetails(map[string]any{"paymentMethod": payload.PaymentMethod}))
			return
		}

		note := payload.Note
		if note != nil {
			trimmed := validators.SanitizeString(*note, 500)
			note = &trimmed
		}

		result, err := svc.Initiate(r.Context(), settlement.InitiateInput{
			Actor:       actorFrom(r),
			GuestID:     payload.GuestID,
			TableNumber: payload.TableNumber,
			Method:      method,
			ReturnURL:   strings.TrimSpace(payload.ReturnURL),
			Currency:    payload.Currency,
			Note:        note,
			CouponID:    payload.CouponID,
			CouponCode:  strings.TrimSpace(payload.CouponCode),
			SourceID:    strings.TrimSpace(payload.SourceID),
			ClientIP:    middleware.ClientIP(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// Get returns one payment with the orders it covers.
func Get(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), actorFrom(r), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// List pages through payments, newest first.
func List(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		params, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.List(r.Context(), actorFrom(r), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Cancel closes a pending payment on staff request and releases its coupon.
func Cancel(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.Cancel(r.Context(), actorFrom(r), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if res.Payment == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cancelled payment missing"))
			return
		}
		responses.WriteSuccess(w, settlement.PaymentDetail{Payment: *res.Payment, Orders: res.Orders})
	}
}

func actorFrom(r *http.Request) settlement.Actor {
	return settlement.Actor{
		ID:   middleware.SubjectIDFromContext(r.Context()),
		Role: middleware.RoleFromContext(r.Context()),
	}
}

func paymentIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
	}
	return id, nil
}

func listParams(r *http.Request) (internalpayments.ListParams, error) {
	var params internalpayments.ListParams

	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return params, err
	}
	params.Params = pagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}

	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return params, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		params.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("method")); raw != "" {
		method, err := enums.ParsePaymentMethod(raw)
		if err != nil {
			return params, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid method filter")
		}
		params.Method = &method
	}
	guestID, err := validators.ParseQueryUUID(r, "guestId")
	if err != nil {
		return params, err
	}
	params.GuestID = guestID
	if query.Has("tableNumber") {
		table, err := validators.ParseQueryInt(r, "tableNumber", 0, 1, 10000)
		if err != nil {
			return params, err
		}
		params.TableNumber = &table
	}
	return params, nil
}
