package settlement

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/tableserve-backend/pkg/db/types"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
)

// decision is what a callback asks to do with a pending payment. An empty
// status leaves the payment untouched.
type decision struct {
	status         enums.PaymentStatus
	update         payments.StatusUpdate
	actor          *outbox.ActorRef
	amountMismatch bool
}

type locker func(repo payments.Repository) (*models.Payment, error)

func byRef(ctx context.Context, ref string) locker {
	return func(repo payments.Repository) (*models.Payment, error) {
		return repo.FindByTransactionRefForUpdate(ctx, ref)
	}
}

func (s *service) HandleReturn(ctx context.Context, provider string, query url.Values) (*CallbackResult, error) {
	adapter, err := s.registry.ForProvider(provider)
	if err != nil {
		return nil, err
	}
	verified, err := adapter.VerifyReturn(ctx, query)
	if err != nil {
		s.observeCallback(provider, "return", "error")
		return nil, err
	}
	res, err := s.Process(ctx, verified)
	if err != nil {
		s.observeCallback(provider, "return", "error")
		return nil, err
	}
	s.observeCallback(provider, "return", string(res.Ack))
	return &CallbackResult{
		ProcessResult: res,
		Provider:      adapter.Provider(),
		Method:        adapter.Method(),
		AckBody:       providers.AckBody(adapter, res.Ack),
	}, nil
}

// HandleWebhook verifies and applies a provider webhook. Callers answer the
// provider with AckBody; only an error means the delivery should be retried.
func (s *service) HandleWebhook(ctx context.Context, provider string, body []byte, headers http.Header) (*CallbackResult, error) {
	adapter, err := s.registry.ForProvider(provider)
	if err != nil {
		return nil, err
	}
	verified, err := adapter.VerifyWebhook(ctx, body, headers)
	if err != nil {
		s.observeCallback(provider, "webhook", "error")
		return nil, err
	}

	marked := false
	eventKey := deliveryKey(verified)
	if s.guard != nil && verified.SignatureValid && eventKey != "" {
		seen, gerr := s.guard.CheckAndMark(ctx, adapter.Provider(), eventKey)
		switch {
		case gerr != nil:
			s.logg.Warn(s.logg.WithField(ctx, "event_id", verified.EventID), "webhook idempotency check unavailable")
		case seen:
			res := &ProcessResult{
				TransactionRef: verified.TransactionRef,
				Replayed:       true,
				SignatureValid: true,
				Ack:            providers.AckAlreadyConfirmed,
			}
			s.observeCallback(provider, "webhook", "duplicate")
			return &CallbackResult{
				ProcessResult: res,
				Provider:      adapter.Provider(),
				Method:        adapter.Method(),
				AckBody:       providers.AckBody(adapter, res.Ack),
			}, nil
		default:
			marked = true
		}
	}

	res, err := s.Process(ctx, verified)
	if err != nil {
		if marked {
			if ferr := s.guard.Forget(ctx, adapter.Provider(), eventKey); ferr != nil {
				s.logg.Warn(ctx, "failed to clear webhook idempotency mark")
			}
		}
		s.observeCallback(provider, "webhook", "error")
		return nil, err
	}
	s.observeCallback(provider, "webhook", string(res.Ack))
	return &CallbackResult{
		ProcessResult: res,
		Provider:      adapter.Provider(),
		Method:        adapter.Method(),
		AckBody:       providers.AckBody(adapter, res.Ack),
	}, nil
}

// deliveryKey identifies one provider delivery. Provider event ids are only
// unique per transaction for some gateways, so the ref is part of the key.
func deliveryKey(r *providers.VerifiedResult) string {
	if r.EventID == "" {
		return ""
	}
	if r.TransactionRef == "" {
		return r.EventID
	}
	return r.TransactionRef + ":" + r.EventID
}

// Process applies a verified provider result to its payment. Unknown refs and
// already-terminal payments are reported, never treated as errors.
func (s *service) Process(ctx context.Context, result *providers.VerifiedResult) (*ProcessResult, error) {
	if result == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "verified result required")
	}
	ref := strings.TrimSpace(result.TransactionRef)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":        result.Provider,
		"transaction_ref": ref,
		"signature_valid": result.SignatureValid,
		"outcome":         result.Outcome,
	})

	var res *ProcessResult
	if ref == "" {
		res = &ProcessResult{UnknownRef: true}
	} else {
		var err error
		res, err = s.settle(ctx, byRef(ctx, ref), func(p *models.Payment) decision {
			return decide(p, result, s.now)
		})
		if err != nil {
			return nil, err
		}
	}
	if res.TransactionRef == "" {
		res.TransactionRef = ref
	}
	res.SignatureValid = result.SignatureValid
	res.Ack = ackFor(res)

	switch {
	case res.UnknownRef:
		s.logg.Warn(ctx, "callback for unknown transaction ref")
	case res.Replayed:
		s.logg.Info(ctx, "callback replayed for settled payment")
	case res.AmountMismatch:
		s.logg.Warn(ctx, "callback amount does not match payment")
	case !result.SignatureValid:
		s.logg.Warn(ctx, "callback signature rejected")
	}
	return res, nil
}

func decide(p *models.Payment, r *providers.VerifiedResult, now func() time.Time) decision {
	if !r.SignatureValid {
		message := "signature verification failed"
		return decision{
			status: enums.PaymentStatusRejected,
			update: payments.StatusUpdate{ResponseCode: optional(r.ResponseCode), ResponseMessage: &message},
		}
	}
	if r.Amount != nil && *r.Amount != p.Amount {
		message := "amount mismatch"
		return decision{
			status:         enums.PaymentStatusRejected,
			update:         payments.StatusUpdate{ResponseCode: optional(r.ResponseCode), ResponseMessage: &message},
			amountMismatch: true,
		}
	}
	status, final := r.Outcome.PaymentStatus()
	if !final {
		return decision{}
	}
	update := payments.StatusUpdate{
		ResponseCode:          optional(r.ResponseCode),
		ResponseMessage:       optional(r.ResponseMessage),
		BankCode:              optional(r.BankCode),
		CardBrand:             optional(r.CardBrand),
		Last4Digits:           optional(r.Last4),
		ExternalTransactionID: optional(r.ExternalTransactionID),
	}
	if status == enums.PaymentStatusSuccess {
		paidAt := now()
		update.PaidAt = &paidAt
	}
	return decision{status: status, update: update}
}

func ackFor(res *ProcessResult) providers.AckKind {
	switch {
	case !res.SignatureValid:
		return providers.AckInvalidSignature
	case res.UnknownRef:
		return providers.AckUnknownRef
	case res.AmountMismatch:
		return providers.AckAmountMismatch
	case res.Replayed:
		return providers.AckAlreadyConfirmed
	default:
		return providers.AckConfirmed
	}
}

// settle locks one payment and applies decide to it in a single transaction.
// Terminal payments are returned as they are with Replayed set.
func (s *service) settle(ctx context.Context, lock locker, decide func(*models.Payment) decision) (*ProcessResult, error) {
	res := &ProcessResult{}
	var (
		settled       *models.Payment
		settledOrders []models.Order
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := lock(s.paymentsRepo.WithTx(tx))
		if err != nil {
			if db.IsNotFound(err) {
				res.UnknownRef = true
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment")
		}

		if payment.Status.IsTerminal() {
			rows, err := s.ordersRepo.WithTx(tx).FindByPayment(ctx, payment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment orders")
			}
			res.Replayed = true
			res.fill(payment, rows)
			return nil
		}

		d := decide(payment)
		res.AmountMismatch = d.amountMismatch
		if d.status == "" {
			rows, err := s.ordersRepo.WithTx(tx).FindByPayment(ctx, payment.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment orders")
			}
			res.fill(payment, rows)
			return nil
		}

		updated, rows, err := s.finalize(ctx, tx, payment, d)
		if err != nil {
			return err
		}
		res.fill(updated, rows)
		settled, settledOrders = updated, rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settled != nil {
		if s.metrics != nil {
			s.metrics.IncSettled(string(settled.PaymentMethod), string(settled.Status))
		}
		s.logg.Info(s.logg.WithField(ctx, "status", settled.Status), "payment settled")
		s.notify(ctx, settled, settledOrders)
	}
	return res, nil
}

// finalize moves a locked pending payment to its terminal status and applies
// the side effects that go with it.
func (s *service) finalize(ctx context.Context, tx *gorm.DB, payment *models.Payment, d decision) (*models.Payment, []models.Order, error) {
	if !payment.Status.CanTransition(d.status) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment status transition not allowed").
			WithDetails(map[string]any{"from": payment.Status, "to": d.status})
	}
	update := d.update
	update.Status = d.status
	if d.status == enums.PaymentStatusSuccess && update.PaidAt == nil {
		paidAt := s.now()
		update.PaidAt = &paidAt
	}

	paymentsRepo := s.paymentsRepo.WithTx(tx)
	ordersRepo := s.ordersRepo.WithTx(tx)

	affected, err := paymentsRepo.UpdatePaymentStatus(ctx, payment.ID, update)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment status")
	}
	if affected == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer pending")
	}

	orderIDs, err := paymentsRepo.LinkedOrderIDs(ctx, payment.ID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment links")
	}

	if d.status == enums.PaymentStatusSuccess {
		paid, err := ordersRepo.UpdateOrdersStatus(ctx, orderIDs, enums.OrderStatusPaid, &payment.ID)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark orders paid")
		}
		if int(paid) < len(orderIDs) {
			s.logg.Warn(s.logg.WithField(ctx, "skipped_orders", len(orderIDs)-int(paid)), "some linked orders were no longer payable")
		}
		if payment.CouponID != nil {
			var discount int64
			if payment.DiscountAmount != nil {
				discount = *payment.DiscountAmount
			}
			if err := s.ledger.RecordUsage(ctx, tx, &models.CouponUsage{
				CouponID:       *payment.CouponID,
				GuestID:        payment.GuestID,
				PaymentID:      payment.ID,
				OrderIDs:       dbtypes.UUIDArray(orderIDs),
				DiscountAmount: discount,
			}); err != nil {
				return nil, nil, err
			}
		}
	} else if payment.CouponID != nil {
		if err := s.ledger.Release(ctx, tx, *payment.CouponID); err != nil {
			return nil, nil, err
		}
	}

	updated, err := paymentsRepo.FindByID(ctx, payment.ID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload payment")
	}
	rows, err := ordersRepo.FindByIDs(ctx, orderIDs)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload orders")
	}

	if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     eventFor(d.status),
		AggregateType: enums.AggregatePayment,
		AggregateID:   updated.ID,
		Actor:         d.actor,
		Data:          paymentEvent(updated, orderIDs),
	}); err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit settlement event")
	}
	return updated, rows, nil
}

func (r *ProcessResult) fill(p *models.Payment, rows []models.Order) {
	view := payments.ToView(*p)
	r.Payment = &view
	r.Orders = orders.ToViews(rows)
	r.Stage = stageFor(p.Status)
	r.TransactionRef = p.TransactionRef
}

func (s *service) observeCallback(provider, kind, result string) {
	if s.metrics != nil {
		s.metrics.IncCallback(provider, kind, result)
	}
}
