package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

type contextKey string

const (
	ctxSubjectID   contextKey = "subject_id"
	ctxRole        contextKey = "actor_role"
	ctxTableNumber contextKey = "table_number"
)

// SubjectIDFromContext returns the guest or staff id carried by the token.
func SubjectIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxSubjectID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// TableNumberFromContext returns the table a guest token was issued for, if any.
func TableNumberFromContext(ctx context.Context) *int {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxTableNumber).(int); ok {
		return &v
	}
	return nil
}

// WithActor injects an authenticated identity into the context.
func WithActor(ctx context.Context, subjectID uuid.UUID, role enums.ActorRole, tableNumber *int) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxSubjectID, subjectID)
	ctx = context.WithValue(ctx, ctxRole, role)
	if tableNumber != nil {
		ctx = context.WithValue(ctx, ctxTableNumber, *tableNumber)
	}
	return ctx
}
