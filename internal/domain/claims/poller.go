package claims

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TenantScope binds ctx to a tenant's schema. db.AcquireTenant fits.
type TenantScope func(ctx context.Context, tenantID string) (context.Context, func(), error)

// Poller periodically refreshes the status of in-flight submissions.
type Poller struct {
	svc      *Service
	scope    TenantScope
	tenants  []string
	interval time.Duration
	limit    int
	logger   zerolog.Logger
}

func NewPoller(svc *Service, scope TenantScope, tenants []string, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		svc:      svc,
		scope:    scope,
		tenants:  tenants,
		interval: interval,
		limit:    100,
		logger:   logger.With().Str("component", "claims-poller").Logger(),
	}
}

// Start polls until ctx is cancelled. A non-positive interval returns
// immediately.
func (p *Poller) Start(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce polls every configured tenant once.
func (p *Poller) RunOnce(ctx context.Context) {
	for _, tenant := range p.tenants {
		if ctx.Err() != nil {
			return
		}
		p.pollTenant(ctx, tenant)
	}
}

func (p *Poller) pollTenant(ctx context.Context, tenant string) {
	tctx := ctx
	if p.scope != nil {
		scoped, release, err := p.scope(ctx, tenant)
		if err != nil {
			p.logger.Error().Err(err).Str("tenant", tenant).Msg("failed to acquire tenant connection")
			return
		}
		defer release()
		tctx = scoped
	}
	changed, err := p.svc.PollInFlight(tctx, tenant, p.limit)
	if err != nil {
		p.logger.Warn().Err(err).Str("tenant", tenant).Msg("in-flight poll failed")
		return
	}
	if changed > 0 {
		p.logger.Info().Str("tenant", tenant).Int("changed", changed).Msg("submission statuses refreshed")
	}
}
