package settlement

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/internal/coupons"
	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
)

// Initiate creates a pending payment for the caller's open orders and hands it
// to the provider for the requested method. Coupon redemption and the payment
// row commit together; the provider call happens after commit.
func (s *service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]any{"paymentMethod": input.Method})
	}
	adapter, err := s.registry.ForMethod(input.Method)
	if err != nil {
		return nil, err
	}
	currency := s.defaultCurrency
	if strings.TrimSpace(input.Currency) != "" {
		currency, err = enums.ParseCurrency(input.Currency)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
		}
	}
	if input.TableNumber != nil && *input.TableNumber <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tableNumber must be positive")
	}
	guestID, err := resolveGuest(input.Actor, input.GuestID, input.TableNumber)
	if err != nil {
		return nil, err
	}
	preflight := providers.ChargeRequest{ReturnURL: input.ReturnURL, SourceID: input.SourceID, ClientIP: input.ClientIP}
	if err := providers.Preflight(adapter, preflight); err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"payment_method": input.Method,
		"actor_role":     input.Actor.Role,
	})
	if guestID != nil {
		ctx = s.logg.WithGuestID(ctx, guestID.String())
	}

	var (
		payment    *models.Payment
		linked     []models.Order
		superseded []closedPayment
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		superseded = nil
		rows, err := s.loadPayable(ctx, tx, guestID, input.TableNumber)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load unpaid orders")
		}
		if len(rows) == 0 {
			return pkgerrors.New(pkgerrors.CodeNothingToPay, "no unpaid orders")
		}

		total := orders.Total(rows)
		record := &models.Payment{
			GuestID:        guestID,
			TableNumber:    rows[0].TableNumber,
			Amount:         total,
			PaymentMethod:  input.Method,
			Status:         enums.PaymentStatusPending,
			TransactionRef: payments.NewTransactionRef(),
			Currency:       currency,
			Note:           input.Note,
		}
		if input.TableNumber != nil {
			record.TableNumber = *input.TableNumber
		}

		// Runs before coupon validation so a superseded payment's slot is free again.
		superseded, err = s.supersede(ctx, tx, orders.IDs(rows), record.TransactionRef, input.Actor)
		if err != nil {
			return err
		}

		if input.hasCoupon() {
			validation, err := s.ledger.Validate(ctx, tx, coupons.ValidateInput{
				CouponID:   input.CouponID,
				Code:       input.CouponCode,
				OrderTotal: total,
				DishIDs:    orders.DishIDs(rows),
				GuestID:    guestID,
			})
			if err != nil {
				return err
			}
			if !validation.Valid && validation.Reason == coupons.ReasonExhausted {
				return pkgerrors.New(pkgerrors.CodeCouponExhausted, "coupon usage limit reached").
					WithDetails(map[string]any{"couponId": validation.CouponID, "code": validation.Code})
			}
			if !validation.Valid {
				return pkgerrors.New(pkgerrors.CodeCouponInvalid, "coupon cannot be applied").
					WithDetails(map[string]any{"reason": validation.Reason, "code": validation.Code})
			}
			redeemed, err := s.ledger.Redeem(ctx, tx, validation.CouponID)
			if err != nil {
				return err
			}
			if !redeemed {
				return pkgerrors.New(pkgerrors.CodeCouponExhausted, "coupon usage limit reached").
					WithDetails(map[string]any{"couponId": validation.CouponID, "code": validation.Code})
			}
			couponID := validation.CouponID
			discount := validation.DiscountAmount
			record.CouponID = &couponID
			record.DiscountAmount = &discount
			record.Amount = validation.FinalAmount
		}

		repo := s.paymentsRepo.WithTx(tx)
		if err := repo.Create(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
		}
		if err := repo.LinkOrders(ctx, record.ID, orders.IDs(rows)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link payment orders")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   record.ID,
			Actor:         input.Actor.ref(),
			Data:          paymentEvent(record, orders.IDs(rows)),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit payment initiated")
		}
		payment = record
		linked = rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, closed := range superseded {
		if s.metrics != nil {
			s.metrics.IncSettled(string(closed.payment.PaymentMethod), string(closed.payment.Status))
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"superseded_ref": closed.payment.TransactionRef,
			"replaced_by":    payment.TransactionRef,
		}), "pending payment superseded")
		s.notify(ctx, closed.payment, closed.orders)
	}

	ctx = s.logg.WithTransactionRef(ctx, payment.TransactionRef)
	if s.metrics != nil {
		s.metrics.IncInitiated(string(payment.PaymentMethod))
	}
	s.logg.Info(ctx, "payment initiated")

	return s.dispatch(ctx, adapter, payment, linked, input)
}

func (s *service) dispatch(ctx context.Context, adapter providers.Adapter, payment *models.Payment, linked []models.Order, input InitiateInput) (*InitiateResult, error) {
	var (
		charge *providers.ChargeResult
		err    error
	)
	if payment.Amount == 0 {
		settled := providers.OutcomeSuccess
		charge = &providers.ChargeResult{Immediate: &settled}
	} else {
		charge, err = adapter.BuildCharge(ctx, providers.ChargeRequest{
			Payment:   payment,
			Orders:    linked,
			ReturnURL: input.ReturnURL,
			SourceID:  input.SourceID,
			ClientIP:  input.ClientIP,
		})
	}
	if err != nil {
		details := map[string]any{"transactionRef": payment.TransactionRef, "paymentId": payment.ID}
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() == pkgerrors.CodeDependency {
			s.logg.Error(ctx, "payment dispatch failed, payment left pending", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable").WithDetails(details)
		}
		// The provider refused the charge outright, so nothing will call back.
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "payment refused at dispatch")
		message := typed.Message()
		if _, ferr := s.settle(ctx, byRef(ctx, payment.TransactionRef), func(*models.Payment) decision {
			return decision{
				status: enums.PaymentStatusFailed,
				update: payments.StatusUpdate{ResponseMessage: &message},
				actor:  input.Actor.ref(),
			}
		}); ferr != nil {
			s.logg.Error(ctx, "failed to close refused payment", ferr)
		}
		return nil, typed.WithDetails(details)
	}

	refs := payments.ExternalRefs{
		SessionID:     optional(charge.SessionID),
		TransactionID: optional(charge.ExternalTransactionID),
		CustomerID:    optional(charge.ExternalCustomerID),
	}
	if refs.SessionID != nil || refs.TransactionID != nil || refs.CustomerID != nil {
		if err := s.paymentsRepo.UpdateExternalRefs(ctx, payment.ID, refs); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store provider references").
				WithDetails(map[string]any{"transactionRef": payment.TransactionRef})
		}
		payment.ExternalSessionID = refs.SessionID
		payment.ExternalTransactionID = refs.TransactionID
		payment.ExternalCustomerID = refs.CustomerID
	}

	if charge.Immediate != nil {
		outcome := *charge.Immediate
		res, err := s.settle(ctx, byRef(ctx, payment.TransactionRef), func(*models.Payment) decision {
			status, ok := outcome.PaymentStatus()
			if !ok {
				return decision{}
			}
			return decision{status: status, actor: input.Actor.ref()}
		})
		if err != nil {
			return nil, err
		}
		result := &InitiateResult{Orders: res.Orders, Stage: res.Stage}
		if res.Payment != nil {
			result.Payment = *res.Payment
		}
		return result, nil
	}

	s.logg.Info(ctx, "payment dispatched")
	return &InitiateResult{
		Payment:    payments.ToView(*payment),
		PaymentURL: charge.RedirectURL,
		Orders:     orders.ToViews(linked),
		Stage:      StageDispatched,
	}, nil
}

type closedPayment struct {
	payment *models.Payment
	orders  []models.Order
}

// supersede cancels the pending payments that already cover any of orderIDs,
// so an order is never held by two live payments. Callers must hold the order
// row locks.
func (s *service) supersede(ctx context.Context, tx *gorm.DB, orderIDs []uuid.UUID, replacementRef string, actor Actor) ([]closedPayment, error) {
	pending, err := s.paymentsRepo.WithTx(tx).FindPendingByOrdersForUpdate(ctx, orderIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load pending payments for orders")
	}
	closed := make([]closedPayment, 0, len(pending))
	for i := range pending {
		message := "superseded by " + replacementRef
		updated, rows, err := s.finalize(ctx, tx, &pending[i], decision{
			status: enums.PaymentStatusCancelled,
			update: payments.StatusUpdate{ResponseMessage: &message},
			actor:  actor.ref(),
		})
		if err != nil {
			return nil, err
		}
		closed = append(closed, closedPayment{payment: updated, orders: rows})
	}
	return closed, nil
}

// loadPayable locks the payable orders so concurrent initiations over the same
// orders run one after another.
func (s *service) loadPayable(ctx context.Context, tx *gorm.DB, guestID *uuid.UUID, tableNumber *int) ([]models.Order, error) {
	repo := s.ordersRepo.WithTx(tx).ForUpdate()
	if guestID != nil {
		return repo.FindUnpaidOrders(ctx, *guestID, tableNumber)
	}
	return repo.FindUnpaidTableOrders(ctx, *tableNumber)
}

// resolveGuest decides whose orders are being settled. A nil guest means a
// staff member settling a whole table.
func resolveGuest(actor Actor, requested *uuid.UUID, tableNumber *int) (*uuid.UUID, error) {
	switch {
	case actor.Role == enums.ActorRoleGuest:
		if actor.ID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "guest identity required")
		}
		if requested != nil && *requested != uuid.Nil && *requested != actor.ID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "guests can only settle their own orders")
		}
		id := actor.ID
		return &id, nil
	case actor.Role.IsStaff():
		if requested != nil && *requested != uuid.Nil {
			id := *requested
			return &id, nil
		}
		if tableNumber == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "guestId or tableNumber required")
		}
		return nil, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "role cannot settle orders")
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
