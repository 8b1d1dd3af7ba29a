package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/infra/logger"
)

// Bootstrap restores a device's cached identity and then hands control to the backend notification stream.
type Bootstrap struct {
	customer  *CustomerAuth
	admin     *AdminAuth
	auth      port.Authenticator
	refresher port.DependentDataRefresher
	logger    *zap.Logger

	ready   atomic.Bool
	started atomic.Bool

	mu          sync.Mutex
	unsubscribe []func()
	wg          sync.WaitGroup
}

// NewBootstrap wires the sequencer for one device.
func NewBootstrap(customer *CustomerAuth, admin *AdminAuth, auth port.Authenticator, refresher port.DependentDataRefresher, log *zap.Logger) *Bootstrap {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bootstrap{
		customer:  customer,
		admin:     admin,
		auth:      auth,
		refresher: refresher,
		logger:    log,
	}
}

// Start restores cached state synchronously, schedules a dependent data refresh,
// subscribes both flows, and marks the device ready. Restore errors are logged only.
// Calling Start more than once has no effect.
func (b *Bootstrap) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	log := logger.WithContext(ctx, b.logger)

	cached, err := b.customer.RestoreFromCache(ctx)
	if err != nil {
		log.Warn("restore customer session", zap.Error(err))
	}
	if err := b.admin.RestoreFromCache(ctx); err != nil {
		log.Warn("restore admin session", zap.Error(err))
	}

	if cached != "" && b.refresher != nil {
		refreshCtx := context.WithoutCancel(ctx)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.refresher.Refresh(refreshCtx, cached); err != nil {
				logger.WithContext(refreshCtx, b.logger).Warn("refresh dependent data after restore",
					zap.String("account_id", cached), zap.Error(err))
			}
		}()
	}

	b.mu.Lock()
	b.unsubscribe = append(b.unsubscribe,
		b.auth.Subscribe(b.customer.HandleAuthState),
		b.auth.Subscribe(b.admin.HandleAuthState),
	)
	b.mu.Unlock()

	b.ready.Store(true)
}

// Ready reports whether the cached state has been restored.
func (b *Bootstrap) Ready() bool {
	return b.ready.Load()
}

// Close unsubscribes the flows and waits for the restore refresh to finish.
func (b *Bootstrap) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	b.wg.Wait()
}
