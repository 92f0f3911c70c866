package settlement

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/internal/coupons"
	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
)

// Cancel closes a pending payment on behalf of staff and gives its coupon
// slot back.
func (s *service) Cancel(ctx context.Context, actor Actor, paymentID uuid.UUID) (*ProcessResult, error) {
	if !actor.Role.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only staff can cancel payments")
	}
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"payment_id": paymentID.String(), "actor_role": actor.Role})

	message := "cancelled by staff"
	var handler *uuid.UUID
	if actor.ID != uuid.Nil {
		id := actor.ID
		handler = &id
	}
	res, err := s.settle(ctx, func(repo payments.Repository) (*models.Payment, error) {
		return repo.FindByIDForUpdate(ctx, paymentID)
	}, func(*models.Payment) decision {
		return decision{
			status: enums.PaymentStatusCancelled,
			update: payments.StatusUpdate{ResponseMessage: &message, PaymentHandlerID: handler},
			actor:  actor.ref(),
		}
	})
	if err != nil {
		return nil, err
	}
	if res.UnknownRef {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if res.Replayed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment already settled").
			WithDetails(map[string]any{"status": res.Payment.Status})
	}
	res.SignatureValid = true
	res.Ack = providers.AckConfirmed
	return res, nil
}

// Get returns a payment with its orders. Guests only see their own payments.
func (s *service) Get(ctx context.Context, actor Actor, paymentID uuid.UUID) (*PaymentDetail, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	payment, err := s.paymentsRepo.FindByID(ctx, paymentID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if !actor.Role.IsStaff() {
		if payment.GuestID == nil || *payment.GuestID != actor.ID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
	}
	rows, err := s.ordersRepo.FindByPayment(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment orders")
	}
	return &PaymentDetail{Payment: payments.ToView(*payment), Orders: orders.ToViews(rows)}, nil
}

// List pages through payments. Guests are pinned to their own.
func (s *service) List(ctx context.Context, actor Actor, params payments.ListParams) (*payments.ListResult, error) {
	switch {
	case actor.Role.IsStaff():
	case actor.Role == enums.ActorRoleGuest && actor.ID != uuid.Nil:
		id := actor.ID
		params.GuestID = &id
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot list payments")
	}
	return payments.ListPayments(ctx, s.paymentsRepo, params)
}

// PreviewCoupon validates a coupon against the caller's open bill without
// redeeming it.
func (s *service) PreviewCoupon(ctx context.Context, input PreviewInput) (*coupons.Validation, error) {
	guestID, err := resolveGuest(input.Actor, input.GuestID, input.TableNumber)
	if err != nil {
		return nil, err
	}
	rows, err := s.loadPayable(ctx, nil, guestID, input.TableNumber)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load unpaid orders")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNothingToPay, "no unpaid orders")
	}
	return s.ledger.Validate(ctx, nil, coupons.ValidateInput{
		CouponID:   input.CouponID,
		Code:       input.CouponCode,
		OrderTotal: orders.Total(rows),
		DishIDs:    orders.DishIDs(rows),
		GuestID:    guestID,
	})
}
