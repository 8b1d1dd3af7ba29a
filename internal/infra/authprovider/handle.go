package authprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/core/port"
	"github.com/wre314954-sudo/wirenew/internal/repository"
)

const sessionKey = "auth.backend_session"

type storedSession struct {
	AccountID  string    `json:"account_id"`
	Email      string    `json:"email"`
	SignedInAt time.Time `json:"signed_in_at"`
}

type notification struct {
	state domain.AuthState
	// target restricts delivery to one listener; zero means every listener.
	target int
	// snapshot notifications carry no state; the stored session is read at delivery time.
	snapshot bool
}

// Handle is the backend session of one device. It implements port.Authenticator.
// Listeners are invoked one at a time, in emission order, on the handle's dispatcher goroutine.
type Handle struct {
	provider *Provider
	deviceID string
	store    port.KeyValueStore
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[int]port.AuthStateListener
	nextID    int
	pending   []notification
	closed    bool
	wake      chan struct{}
	stopped   chan struct{}
}

// ForDevice opens the backend session of deviceID over its key/value namespace.
func (p *Provider) ForDevice(deviceID string, store port.KeyValueStore) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		provider:  p,
		deviceID:  deviceID,
		store:     store,
		logger:    p.logger.With(zap.String("device_id", deviceID)),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[int]port.AuthStateListener),
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	go h.dispatch()
	return h
}

// CreateCredential registers email/password and signs the device in as the new account.
func (h *Handle) CreateCredential(ctx context.Context, email, password string) (domain.AccountID, error) {
	id, err := h.provider.createCredential(ctx, email, password)
	if err != nil {
		return "", err
	}
	if err := h.signIn(ctx, id, normalizeEmail(email)); err != nil {
		return "", err
	}
	return id, nil
}

// Authenticate verifies email/password and signs the device in.
func (h *Handle) Authenticate(ctx context.Context, email, password string) (domain.AccountID, error) {
	credential, err := h.provider.authenticate(ctx, email, password)
	if err != nil {
		return "", err
	}
	if err := h.signIn(ctx, credential.AccountID, credential.Email); err != nil {
		return "", err
	}
	return credential.AccountID, nil
}

// SignOut clears the device session. Signing out an anonymous device is a no-op.
func (h *Handle) SignOut(ctx context.Context) error {
	current, err := h.current(ctx)
	if err != nil {
		return err
	}
	if err := h.store.Remove(ctx, sessionKey); err != nil {
		return fmt.Errorf("clear backend session: %w", err)
	}
	if current != nil {
		h.emit(notification{state: domain.AuthState{}})
	}
	return nil
}

// Subscribe registers listener and immediately schedules delivery of the current state to it.
func (h *Handle) Subscribe(listener port.AuthStateListener) func() {
	if listener == nil {
		return func() {}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.nextID++
	id := h.nextID
	h.listeners[id] = listener
	h.mu.Unlock()

	h.emit(notification{target: id, snapshot: true})

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// IssueBearerCredential signs a short-lived credential for the signed-in account.
func (h *Handle) IssueBearerCredential(ctx context.Context) (domain.BearerCredential, error) {
	current, err := h.current(ctx)
	if err != nil {
		return domain.BearerCredential{}, err
	}
	if current == nil {
		return domain.BearerCredential{}, port.ErrNotSignedIn
	}
	return h.provider.issueBearer(current.AccountID)
}

// SendPasswordReset requests a reset mail. Unknown emails succeed silently.
func (h *Handle) SendPasswordReset(ctx context.Context, email string) error {
	return h.provider.sendPasswordReset(ctx, email)
}

// Close stops the dispatcher. Pending notifications are dropped.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.pending = nil
	h.listeners = map[int]port.AuthStateListener{}
	h.mu.Unlock()

	h.cancel()
	<-h.stopped
}

func (h *Handle) signIn(ctx context.Context, id domain.AccountID, email string) error {
	payload, err := json.Marshal(storedSession{AccountID: id, Email: email, SignedInAt: h.provider.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal backend session: %w", err)
	}
	if err := h.store.Set(ctx, sessionKey, string(payload), 0); err != nil {
		return fmt.Errorf("persist backend session: %w", err)
	}
	h.emit(notification{state: domain.AuthState{SignedIn: true, AccountID: id, Email: email}})
	return nil
}

func (h *Handle) current(ctx context.Context) (*storedSession, error) {
	raw, err := h.store.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backend session: %w", err)
	}

	var session storedSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil || session.AccountID == "" {
		h.logger.Warn("discarding unreadable backend session", zap.Error(err))
		_ = h.store.Remove(ctx, sessionKey)
		return nil, nil
	}
	return &session, nil
}

func (h *Handle) emit(n notification) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.pending = append(h.pending, n)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handle) dispatch() {
	defer close(h.stopped)
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.wake:
		}

		for {
			h.mu.Lock()
			if h.closed || len(h.pending) == 0 {
				h.mu.Unlock()
				break
			}
			next := h.pending[0]
			h.pending = h.pending[1:]
			targets := make([]port.AuthStateListener, 0, len(h.listeners))
			if next.target != 0 {
				if listener, ok := h.listeners[next.target]; ok {
					targets = append(targets, listener)
				}
			} else {
				for id := 1; id <= h.nextID; id++ {
					if listener, ok := h.listeners[id]; ok {
						targets = append(targets, listener)
					}
				}
			}
			h.mu.Unlock()

			state := next.state
			if next.snapshot {
				var ok bool
				if state, ok = h.snapshot(); !ok {
					continue
				}
			}
			for _, listener := range targets {
				h.deliver(listener, state)
			}
		}
	}
}

// snapshot reports false when the stored session could not be read; the listener then keeps its state.
func (h *Handle) snapshot() (domain.AuthState, bool) {
	current, err := h.current(h.ctx)
	if err != nil {
		h.logger.Warn("read backend session for subscription", zap.Error(err))
		return domain.AuthState{}, false
	}
	if current == nil {
		return domain.AuthState{}, true
	}
	return domain.AuthState{SignedIn: true, AccountID: current.AccountID, Email: current.Email}, true
}

func (h *Handle) deliver(listener port.AuthStateListener, state domain.AuthState) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("auth state listener panicked", zap.Any("panic", r))
		}
	}()
	listener(h.ctx, state)
}

var _ port.Authenticator = (*Handle)(nil)
