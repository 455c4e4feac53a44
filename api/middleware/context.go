package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
)

type contextKey string

const (
	ctxOperatorID contextKey = "operator_id"
	ctxDevice     contextKey = "device"
)

// OperatorIDFromContext returns the authenticated operator, or "" outside the
// ops surface.
func OperatorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOperatorID).(string); ok {
		return v
	}
	return ""
}

// WithOperatorID injects the operator identifier into the context.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOperatorID, operatorID)
}

// DeviceFromContext returns the device authenticated by DeviceAuth.
func DeviceFromContext(ctx context.Context) *models.Device {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxDevice).(*models.Device); ok {
		return v
	}
	return nil
}

// WithDevice injects the authenticated device into the context.
func WithDevice(ctx context.Context, device *models.Device) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxDevice, device)
}

func deviceIDFromContext(ctx context.Context) string {
	if d := DeviceFromContext(ctx); d != nil && d.ID != uuid.Nil {
		return d.ID.String()
	}
	return ""
}
