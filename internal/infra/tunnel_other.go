//go:build !linux

package infra

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/domain"
)

// LinuxInterceptor is unavailable on this platform; Establish always fails.
type LinuxInterceptor struct {
	logger *zap.Logger
}

func NewLinuxInterceptor(config InterceptorConfig, catalog domain.AppCatalog, logger *zap.Logger) *LinuxInterceptor {
	return &LinuxInterceptor{logger: logger}
}

func (i *LinuxInterceptor) Establish(ctx context.Context, cfg domain.InterceptConfig) (domain.TunnelHandle, error) {
	return nil, domain.ErrUnsupportedPlatform
}

var _ domain.Interceptor = (*LinuxInterceptor)(nil)
