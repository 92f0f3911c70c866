package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	pkgpagination "github.com/angelmondragon/tableserve-backend/pkg/pagination"
)

// ListParams filters the staff payment listing.
type ListParams struct {
	Status      *enums.PaymentStatus
	Method      *enums.PaymentMethod
	GuestID     *uuid.UUID
	TableNumber *int
	pkgpagination.Params
}

type ListResult struct {
	Items  []PaymentView `json:"items"`
	Cursor string        `json:"cursor"`
}

type listQuery struct {
	status      *enums.PaymentStatus
	method      *enums.PaymentMethod
	guestID     *uuid.UUID
	tableNumber *int
	limit       int
	cursor      *pkgpagination.Cursor
}

// PaymentView is the payment shape returned to clients.
type PaymentView struct {
	ID                    uuid.UUID           `json:"id"`
	GuestID               *uuid.UUID          `json:"guestId,omitempty"`
	TableNumber           int                 `json:"tableNumber"`
	Amount                int64               `json:"amount"`
	PaymentMethod         enums.PaymentMethod `json:"paymentMethod"`
	Status                enums.PaymentStatus `json:"status"`
	TransactionRef        string              `json:"transactionRef"`
	ExternalTransactionID *string             `json:"externalTransactionId,omitempty"`
	ExternalSessionID     *string             `json:"externalSessionId,omitempty"`
	ResponseCode          *string             `json:"responseCode,omitempty"`
	ResponseMessage       *string             `json:"responseMessage,omitempty"`
	BankCode              *string             `json:"bankCode,omitempty"`
	CardBrand             *string             `json:"cardBrand,omitempty"`
	Last4Digits           *string             `json:"last4Digits,omitempty"`
	Currency              enums.Currency      `json:"currency"`
	CouponID              *uuid.UUID          `json:"couponId,omitempty"`
	DiscountAmount        *int64              `json:"discountAmount,omitempty"`
	PaymentHandlerID      *uuid.UUID          `json:"paymentHandlerId,omitempty"`
	Note                  *string             `json:"note,omitempty"`
	PaidAt                *time.Time          `json:"paidAt,omitempty"`
	CreatedAt             time.Time           `json:"createdAt"`
	UpdatedAt             time.Time           `json:"updatedAt"`
}

func ToView(p models.Payment) PaymentView {
	return PaymentView{
		ID:                    p.ID,
		GuestID:               p.GuestID,
		TableNumber:           p.TableNumber,
		Amount:                p.Amount,
		PaymentMethod:         p.PaymentMethod,
		Status:                p.Status,
		TransactionRef:        p.TransactionRef,
		ExternalTransactionID: p.ExternalTransactionID,
		ExternalSessionID:     p.ExternalSessionID,
		ResponseCode:          p.ResponseCode,
		ResponseMessage:       p.ResponseMessage,
		BankCode:              p.BankCode,
		CardBrand:             p.CardBrand,
		Last4Digits:           p.Last4Digits,
		Currency:              p.Currency,
		CouponID:              p.CouponID,
		DiscountAmount:        p.DiscountAmount,
		PaymentHandlerID:      p.PaymentHandlerID,
		Note:                  p.Note,
		PaidAt:                p.PaidAt,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

// ListPayments pages through payments newest first.
func ListPayments(ctx context.Context, repo Repository, params ListParams) (*ListResult, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	cursor, err := pkgpagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if params.Method != nil && !params.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid method filter")
	}

	rows, err := repo.List(ctx, listQuery{
		status:      params.Status,
		method:      params.Method,
		guestID:     params.GuestID,
		tableNumber: params.TableNumber,
		limit:       pkgpagination.LimitWithBuffer(params.Limit),
		cursor:      cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}

	rows, next := pkgpagination.Trim(rows, params.Limit, func(p models.Payment) pkgpagination.Cursor {
		return pkgpagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	result := &ListResult{Items: make([]PaymentView, 0, len(rows)), Cursor: next}
	for _, row := range rows {
		result.Items = append(result.Items, ToView(row))
	}
	return result, nil
}
