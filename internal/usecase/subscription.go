package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

// NotificationSubscriptionExpired 订阅到期通知类型
const NotificationSubscriptionExpired = "subscription_expired"

// SubscriptionUseCase 订阅到期处理
type SubscriptionUseCase struct {
	tenants  repo.TenantRepo
	notifier repo.Notifier
	log      *log.Helper
}

func NewSubscriptionUseCase(tenants repo.TenantRepo, notifier repo.Notifier, logger log.Logger) *SubscriptionUseCase {
	return &SubscriptionUseCase{
		tenants:  tenants,
		notifier: notifier,
		log:      log.NewHelper(log.With(logger, "module", "usecase/subscription")),
	}
}

// ExpiredTenants 列出到期但仍处于 active 的租户
func (uc *SubscriptionUseCase) ExpiredTenants(ctx context.Context, now time.Time) ([]*domain.Tenant, error) {
	return uc.tenants.ListExpiredSubscriptions(ctx, now)
}

// Expire 将租户订阅置为 expired 并发送一条通知。已过期的租户不做任何处理。
func (uc *SubscriptionUseCase) Expire(ctx context.Context, tenantID int64) (bool, error) {
	changed, err := uc.tenants.ExpireSubscription(ctx, tenantID)
	if err != nil || !changed {
		return false, err
	}
	uc.log.Infow("msg", "订阅已过期", "tenant_id", tenantID)

	err = uc.notifier.Notify(ctx, &domain.Notification{
		UserID:   tenantID,
		Type:     NotificationSubscriptionExpired,
		Title:    "订阅已到期",
		Message:  "您的订阅已到期，绩效报告将暂停自动生成，请及时续费。",
		Priority: domain.PriorityHigh,
	})
	if err != nil {
		uc.log.Errorw("msg", "发送到期通知失败", "tenant_id", tenantID, "error", err)
	}
	return true, nil
}

// Sweep 处理所有到期租户，单个租户失败不影响其他租户
func (uc *SubscriptionUseCase) Sweep(ctx context.Context, now time.Time) (int, error) {
	tenants, err := uc.ExpiredTenants(ctx, now)
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    []error
	)
	for _, t := range tenants {
		changed, err := uc.Expire(ctx, t.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %d: %w", t.ID, err))
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}
