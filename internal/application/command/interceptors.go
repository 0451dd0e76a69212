package command

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// TenantInterceptor binds the tenant named in the command metadata for the
// duration of the handler. Commands without a tenant fail with
// shared.ErrTenantRequired. The caller's context is left unbound.
func TenantInterceptor() Interceptor {
	return func(ctx context.Context, cmd *Command, next Handler) (any, error) {
		id := cmd.Metadata[MetadataTenantID]
		scoped, err := tenant.WithTenantID(ctx, id)
		if err != nil {
			return nil, shared.NewDomainError(shared.ErrTenantRequired.Code,
				fmt.Sprintf("command %s carries no tenant", cmd.Name))
		}
		return next.Handle(scoped, cmd)
	}
}

// RecoveryInterceptor turns a panicking handler into an error
func RecoveryInterceptor(l *zap.Logger) Interceptor {
	if l == nil {
		l = zap.NewNop()
	}
	return func(ctx context.Context, cmd *Command, next Handler) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.For(ctx, l).Error("command handler panicked",
					zap.String("command", cmd.Name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				result, err = nil, fmt.Errorf("command %s: handler panicked: %v", cmd.Name, r)
			}
		}()
		return next.Handle(ctx, cmd)
	}
}

// ValidationInterceptor validates struct payloads with their validate tags
func ValidationInterceptor(v *validator.Validate) Interceptor {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return func(ctx context.Context, cmd *Command, next Handler) (any, error) {
		if err := v.Struct(cmd.Payload); err != nil {
			if _, ok := err.(*validator.InvalidValidationError); !ok {
				return nil, shared.NewDomainError(shared.ErrInvalidInput.Code,
					fmt.Sprintf("command %s: %v", cmd.Name, err))
			}
		}
		return next.Handle(ctx, cmd)
	}
}

// DefaultInterceptors returns recovery, tenant binding and validation, in that order
func DefaultInterceptors(l *zap.Logger) []Interceptor {
	return []Interceptor{RecoveryInterceptor(l), TenantInterceptor(), ValidationInterceptor(nil)}
}
