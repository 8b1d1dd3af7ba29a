package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/wre314954-sudo/wirenew/internal/core/domain"
	"github.com/wre314954-sudo/wirenew/internal/infra/security"
)

func TestSignupThenVerifyAuthenticates(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	challenge, err := h.flow.Signup(ctx, SignupInput{FullName: "Asha Rao", Email: "a@b.com", Password: "secret1", Phone: "9876543210"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if challenge.Purpose != domain.VerificationPurposeSignup {
		t.Fatalf("purpose = %q", challenge.Purpose)
	}
	if !challenge.ExpiresAt.Equal(testNow.Add(10 * time.Minute)) {
		t.Fatalf("expires at = %v", challenge.ExpiresAt)
	}
	if h.flow.IsAuthenticated() {
		t.Fatalf("authenticated before verification")
	}

	raw := h.store.raw(keyCustomerPending)
	if raw == "" {
		t.Fatalf("pending verification not cached")
	}
	if strings.Contains(raw, "123456") {
		t.Fatalf("cached pending verification contains the plaintext code: %s", raw)
	}
	if !strings.Contains(raw, security.HashCode("123456")) {
		t.Fatalf("cached pending verification lacks the code hash: %s", raw)
	}
	if len(h.notifier.deliveries) != 1 || h.notifier.deliveries[0].Code != "123456" {
		t.Fatalf("deliveries = %+v", h.notifier.deliveries)
	}

	profile, err := h.flow.VerifyOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if !h.flow.IsAuthenticated() {
		t.Fatalf("expected authenticated after verification")
	}
	if !profile.Verified || profile.Phone != "9876543210" || profile.Email != "a@b.com" || profile.DisplayName != "Asha Rao" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if h.flow.Pending() != nil {
		t.Fatalf("pending verification survived success")
	}
	if h.store.has(keyCustomerPending) {
		t.Fatalf("cached pending verification survived success")
	}

	record, err := h.cache.LoadSession(ctx)
	if err != nil || record == nil {
		t.Fatalf("LoadSession = %v, %v", record, err)
	}
	if record.AccountID != profile.AccountID {
		t.Fatalf("cached account = %q, want %q", record.AccountID, profile.AccountID)
	}
	if h.refresher.refreshCount() != 1 {
		t.Fatalf("refresh count = %d", h.refresher.refreshCount())
	}
	if len(h.events.verified) != 1 {
		t.Fatalf("verified events = %d", len(h.events.verified))
	}
}

func TestVerifyIncorrectCodeCountsAttempt(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	_, err := h.flow.VerifyOTP(ctx, "000000")
	if !errors.Is(err, ErrIncorrectCode) {
		t.Fatalf("expected ErrIncorrectCode, got %v", err)
	}
	pending := h.flow.Pending()
	if pending == nil || pending.Attempts != 1 {
		t.Fatalf("pending = %+v, want one attempt", pending)
	}
	if h.flow.IsAuthenticated() {
		t.Fatalf("authenticated after a wrong code")
	}

	cached, err := h.cache.LoadPending(ctx)
	if err != nil || cached == nil || cached.Attempts != 1 {
		t.Fatalf("cached pending = %+v, %v", cached, err)
	}
}

func TestVerifyTooManyAttemptsDiscardsPending(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	for i := 1; i < 4; i++ {
		if _, err := h.flow.VerifyOTP(ctx, "000000"); !errors.Is(err, ErrIncorrectCode) {
			t.Fatalf("attempt %d: expected ErrIncorrectCode, got %v", i, err)
		}
	}
	if _, err := h.flow.VerifyOTP(ctx, "000000"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	if h.flow.Pending() != nil || h.store.has(keyCustomerPending) {
		t.Fatalf("pending verification survived exhaustion")
	}

	if _, err := h.flow.VerifyOTP(ctx, "123456"); !errors.Is(err, ErrNoPendingVerification) {
		t.Fatalf("expected ErrNoPendingVerification, got %v", err)
	}
	if h.flow.IsAuthenticated() {
		t.Fatalf("authenticated after exhaustion")
	}
}

func TestVerifyExpiredDiscardsPending(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	h.clock.Advance(10 * time.Minute)

	if _, err := h.flow.VerifyOTP(ctx, "123456"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if h.flow.Pending() != nil || h.store.has(keyCustomerPending) {
		t.Fatalf("expired pending verification was kept")
	}
	if h.flow.IsAuthenticated() {
		t.Fatalf("authenticated with an expired code")
	}
}

func TestVerifyMalformedCodeDoesNotCountAttempt(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	for _, code := range []string{"12345", "1234567", "12a456", ""} {
		_, err := h.flow.VerifyOTP(ctx, code)
		if !errors.Is(err, ErrInvalidCodeFormat) || !errors.Is(err, ErrValidation) {
			t.Fatalf("code %q: expected ErrInvalidCodeFormat, got %v", code, err)
		}
	}
	if pending := h.flow.Pending(); pending == nil || pending.Attempts != 0 {
		t.Fatalf("pending = %+v, want zero attempts", pending)
	}
}

func TestVerifyWithoutPending(t *testing.T) {
	h := newCustomerHarness(t)

	if _, err := h.flow.VerifyOTP(context.Background(), "123456"); !errors.Is(err, ErrNoPendingVerification) {
		t.Fatalf("expected ErrNoPendingVerification, got %v", err)
	}
}

func TestSignupValidatesBeforeBackend(t *testing.T) {
	cases := []struct {
		name string
		in   SignupInput
	}{
		{name: "email", in: SignupInput{Email: "not-an-email", Password: "secret1", Phone: "9876543210"}},
		{name: "phone too short", in: SignupInput{Email: "a@b.com", Password: "secret1", Phone: "987654321"}},
		{name: "phone leading digit", in: SignupInput{Email: "a@b.com", Password: "secret1", Phone: "5876543210"}},
		{name: "password", in: SignupInput{Email: "a@b.com", Password: "short", Phone: "9876543210"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newCustomerHarness(t)
			_, err := h.flow.Signup(context.Background(), tc.in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if h.auth.callCount() != 0 {
				t.Fatalf("backend called %d times", h.auth.callCount())
			}
			if h.flow.Pending() != nil {
				t.Fatalf("pending issued for invalid input")
			}
		})
	}
}

func TestSignupRejectsRegisteredEmail(t *testing.T) {
	h := newCustomerHarness(t)
	h.auth.addAccount("a@b.com", "secret1")

	_, err := h.flow.Signup(context.Background(), SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if h.flow.Pending() != nil {
		t.Fatalf("pending issued for a registered email")
	}
	if h.profiles.mergeCount() != 0 {
		t.Fatalf("profile merged for a registered email")
	}
}

func TestSignupResumesUnverifiedRegistration(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	id := h.auth.addAccount("a@b.com", "secret1")
	h.profiles.put(domain.Profile{AccountID: id, Email: "a@b.com", Phone: "9876543210"})

	challenge, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9123456780", ResumeExisting: true})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if challenge.AccountID != id {
		t.Fatalf("challenge account = %q, want %q", challenge.AccountID, id)
	}

	profile, err := h.flow.VerifyOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if profile.AccountID != id || profile.Phone != "9123456780" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestSignupResumeRejectsVerifiedAccount(t *testing.T) {
	h := newCustomerHarness(t)
	id := h.auth.addAccount("a@b.com", "secret1")
	h.profiles.put(domain.Profile{AccountID: id, Email: "a@b.com", Phone: "9876543210", Verified: true})

	_, err := h.flow.Signup(context.Background(), SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210", ResumeExisting: true})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if h.auth.signOuts != 1 {
		t.Fatalf("sign outs = %d, want 1", h.auth.signOuts)
	}
}

func TestLoginResolvesStableAccountByEmailAndPhone(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	verified := h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")

	for _, identifier := range []string{"a@b.com", "9876543210", "A@B.com"} {
		h.flow.Logout(ctx)
		result, err := h.flow.Login(ctx, identifier, "secret1")
		if err != nil {
			t.Fatalf("Login(%q): %v", identifier, err)
		}
		if !result.Authenticated || result.AccountID != verified.AccountID {
			t.Fatalf("Login(%q) = %+v, want account %q", identifier, result, verified.AccountID)
		}
		if h.flow.AccountID() != verified.AccountID {
			t.Fatalf("AccountID() = %q", h.flow.AccountID())
		}
	}
}

func TestLoginUnknownPhoneFailsBeforeBackend(t *testing.T) {
	h := newCustomerHarness(t)

	_, err := h.flow.Login(context.Background(), "9876543210", "secret1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if h.auth.callCount() != 0 {
		t.Fatalf("backend called %d times", h.auth.callCount())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newCustomerHarness(t)
	h.auth.addAccount("a@b.com", "secret1")

	_, err := h.flow.Login(context.Background(), "a@b.com", "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if h.flow.IsAuthenticated() {
		t.Fatalf("authenticated with a wrong password")
	}
}

func TestLoginBackendFailureIsOpaque(t *testing.T) {
	h := newCustomerHarness(t)
	h.auth.authErr = errors.New("connection reset")

	_, err := h.flow.Login(context.Background(), "a@b.com", "secret1")
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
	if UserMessage(err) == "" || strings.Contains(UserMessage(err), "connection reset") {
		t.Fatalf("unexpected user message %q", UserMessage(err))
	}
}

func TestLoginUnverifiedThenResendCode(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	id := h.auth.addAccount("a@b.com", "secret1")
	h.profiles.put(domain.Profile{AccountID: id, Email: "a@b.com", Phone: "9876543210"})

	result, err := h.flow.Login(ctx, "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Authenticated || !result.NeedsVerification {
		t.Fatalf("unexpected result %+v", result)
	}
	if h.flow.IsAuthenticated() || h.flow.Pending() != nil {
		t.Fatalf("login must not authenticate or issue a code for an unverified account")
	}

	challenge, err := h.flow.ResendCode(ctx)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if challenge.AccountID != id || challenge.Phone != "9876543210" {
		t.Fatalf("unexpected challenge %+v", challenge)
	}
	if _, err := h.flow.VerifyOTP(ctx, "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if !h.flow.IsAuthenticated() {
		t.Fatalf("expected authenticated after verification")
	}
}

func TestResendCodeResetsAttempts(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	_, _ = h.flow.VerifyOTP(ctx, "000000")
	h.clock.Advance(time.Minute)

	challenge, err := h.flow.ResendCode(ctx)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if challenge.Attempts != 0 || !challenge.ExpiresAt.Equal(testNow.Add(11*time.Minute)) {
		t.Fatalf("unexpected challenge %+v", challenge)
	}
}

func TestLogoutSwallowsBackendErrors(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")
	h.auth.signOutErr = errors.New("network down")

	h.flow.Logout(ctx)

	if h.flow.IsAuthenticated() || h.flow.Profile() != nil {
		t.Fatalf("identity survived logout")
	}
	if h.store.has(keyCustomerSession) {
		t.Fatalf("session record survived logout")
	}
	if h.refresher.cleared != 1 {
		t.Fatalf("dependent data cleared %d times", h.refresher.cleared)
	}
}

func TestAuthStateNotificationAndLoginConverge(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	verified := h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")
	h.flow.Logout(ctx)
	mergesBefore := h.profiles.mergeCount()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := h.flow.Login(ctx, "a@b.com", "secret1"); err != nil {
			t.Errorf("Login: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		h.flow.HandleAuthState(ctx, domain.AuthState{SignedIn: true, AccountID: verified.AccountID, Email: "a@b.com"})
	}()
	wg.Wait()

	if !h.flow.IsAuthenticated() || h.flow.AccountID() != verified.AccountID {
		t.Fatalf("expected authenticated as %q, got %+v", verified.AccountID, h.flow.Snapshot())
	}
	if h.flow.Pending() != nil || h.store.has(keyCustomerPending) {
		t.Fatalf("pending verification created by sign in")
	}
	if got := h.profiles.mergeCount(); got != mergesBefore {
		t.Fatalf("profile merges = %d, want %d", got, mergesBefore)
	}
	record, err := h.cache.LoadSession(ctx)
	if err != nil || record == nil || record.AccountID != verified.AccountID {
		t.Fatalf("cached session = %+v, %v", record, err)
	}
}

func TestHandleAuthStateNeverIssuesPending(t *testing.T) {
	h := newCustomerHarness(t)
	id := h.auth.addAccount("a@b.com", "secret1")
	h.profiles.put(domain.Profile{AccountID: id, Email: "a@b.com", Phone: "9876543210"})

	h.flow.HandleAuthState(context.Background(), domain.AuthState{SignedIn: true, AccountID: id})

	if h.flow.Pending() != nil || h.flow.IsAuthenticated() {
		t.Fatalf("unexpected state %+v", h.flow.Snapshot())
	}
	if len(h.notifier.deliveries) != 0 {
		t.Fatalf("code delivered from a notification")
	}
}

func TestHandleAuthStateIsIdempotent(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	verified := h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")
	refreshes := h.refresher.refreshCount()

	state := domain.AuthState{SignedIn: true, AccountID: verified.AccountID}
	h.flow.HandleAuthState(ctx, state)
	h.flow.HandleAuthState(ctx, state)

	if h.refresher.refreshCount() != refreshes {
		t.Fatalf("refreshes = %d, want %d", h.refresher.refreshCount(), refreshes)
	}
	if !h.flow.IsAuthenticated() {
		t.Fatalf("expected authenticated")
	}
}

func TestHandleAuthStateSignedOutKeepsPending(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	h.flow.HandleAuthState(ctx, domain.AuthState{})

	if h.flow.Pending() == nil {
		t.Fatalf("pending verification dropped by a sign-out notification")
	}
	if _, err := h.flow.VerifyOTP(ctx, "123456"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
}

func TestHandleAuthStateDirectoryFailureKeepsIdentity(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	verified := h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")
	h.profiles.getErr = errors.New("timeout")

	h.flow.HandleAuthState(ctx, domain.AuthState{SignedIn: true, AccountID: verified.AccountID})

	if !h.flow.IsAuthenticated() {
		t.Fatalf("identity lost after a failed notification")
	}
}

func TestUpdatePhoneNumberRequiresVerification(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	verified := h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")

	challenge, err := h.flow.UpdatePhoneNumber(ctx, "9123456780")
	if err != nil {
		t.Fatalf("UpdatePhoneNumber: %v", err)
	}
	if challenge.Purpose != domain.VerificationPurposePhoneChange {
		t.Fatalf("purpose = %q", challenge.Purpose)
	}
	if got := h.flow.Profile().Phone; got != "9876543210" {
		t.Fatalf("phone changed before verification: %q", got)
	}
	if !h.flow.IsAuthenticated() {
		t.Fatalf("phone change must not sign the customer out")
	}

	profile, err := h.flow.VerifyPhoneOTP(ctx, "123456")
	if err != nil {
		t.Fatalf("VerifyPhoneOTP: %v", err)
	}
	if profile.Phone != "9123456780" || profile.AccountID != verified.AccountID || !profile.Verified {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if h.flow.Profile().Phone != "9123456780" {
		t.Fatalf("in-memory phone = %q", h.flow.Profile().Phone)
	}
}

func TestUpdatePhoneNumberRequiresAuthentication(t *testing.T) {
	h := newCustomerHarness(t)

	if _, err := h.flow.UpdatePhoneNumber(context.Background(), "9123456780"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestVerifyPhoneOTPIgnoresSignupChallenge(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := h.flow.VerifyPhoneOTP(ctx, "123456"); !errors.Is(err, ErrNoPendingVerification) {
		t.Fatalf("expected ErrNoPendingVerification, got %v", err)
	}
	if h.flow.Pending() == nil {
		t.Fatalf("signup challenge dropped")
	}
}

func TestRequestPasswordReset(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if err := h.flow.RequestPasswordReset(ctx, "bad"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err := h.flow.RequestPasswordReset(ctx, " A@B.com "); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if len(h.auth.resetEmails) != 1 || h.auth.resetEmails[0] != "a@b.com" {
		t.Fatalf("reset emails = %v", h.auth.resetEmails)
	}
}

func TestUpdateProfileKeepsProtectedFields(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")

	name := "Asha R."
	phone := "9000000000"
	profile, err := h.flow.UpdateProfile(ctx, domain.ProfilePatch{
		DisplayName: &name,
		Phone:       &phone,
		Verified:    boolPtr(false),
		IsAdmin:     boolPtr(true),
		Company:     &domain.Company{Name: "Rao Electricals"},
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if profile.DisplayName != name || profile.Company.Name != "Rao Electricals" {
		t.Fatalf("patch not applied: %+v", profile)
	}
	if profile.Phone != "9876543210" || !profile.Verified || profile.IsAdmin {
		t.Fatalf("protected fields changed: %+v", profile)
	}
}

func TestCancelVerification(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()

	if _, err := h.flow.Signup(ctx, SignupInput{Email: "a@b.com", Password: "secret1", Phone: "9876543210"}); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	h.flow.CancelVerification(ctx)

	if h.flow.Pending() != nil || h.store.has(keyCustomerPending) {
		t.Fatalf("pending verification survived cancellation")
	}
}

func TestRestoreFromCache(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	profile := domain.Profile{AccountID: "acct-1", Email: "a@b.com", Phone: "9876543210", Verified: true, UpdatedAt: testNow}
	if err := h.cache.SaveSession(ctx, profile); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	restored, err := h.flow.RestoreFromCache(ctx)
	if err != nil {
		t.Fatalf("RestoreFromCache: %v", err)
	}
	if restored != "acct-1" || !h.flow.IsAuthenticated() {
		t.Fatalf("restored = %q, state = %+v", restored, h.flow.Snapshot())
	}
	if h.auth.callCount() != 0 {
		t.Fatalf("restore contacted the backend")
	}
}

func coldRestore(t *testing.T, h *customerHarness) *CustomerAuth {
	t.Helper()
	log := zaptest.NewLogger(t)
	flow, err := NewCustomerAuth(CustomerAuthDeps{
		DeviceID:  "device-test-1",
		Auth:      h.auth,
		Directory: NewDirectory(h.profiles),
		Cache:     NewSessionCache(h.store, log).WithClock(h.clock.Now),
		Logger:    log,
	}, DefaultSettings())
	if err != nil {
		t.Fatalf("NewCustomerAuth: %v", err)
	}
	if _, err := flow.RestoreFromCache(context.Background()); err != nil {
		t.Fatalf("RestoreFromCache: %v", err)
	}
	return flow
}

func TestSignupAsAnotherAccountDropsCachedSession(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	first := h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")
	if !h.store.has(keyCustomerSession) {
		t.Fatalf("session not cached after verification")
	}

	ch, err := h.flow.Signup(ctx, SignupInput{FullName: "Ravi K", Email: "c@d.com", Password: "secret2", Phone: "9123456780"})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if ch.AccountID == first.AccountID {
		t.Fatalf("second signup reused account %q", ch.AccountID)
	}
	if h.store.has(keyCustomerSession) {
		t.Fatalf("session for %q survived the account switch: %s", first.AccountID, h.store.raw(keyCustomerSession))
	}

	restored := coldRestore(t, h)
	if restored.IsAuthenticated() || restored.AccountID() == first.AccountID {
		t.Fatalf("cold restore brought back %q: %+v", first.AccountID, restored.Snapshot())
	}
	if p := restored.Pending(); p == nil || p.AccountID != ch.AccountID {
		t.Fatalf("pending = %+v, want challenge for %q", p, ch.AccountID)
	}
}

func TestHandleAuthStateUnverifiedAccountDropsCachedSession(t *testing.T) {
	h := newCustomerHarness(t)
	ctx := context.Background()
	first := h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")

	other := h.auth.addAccount("c@d.com", "secret2")
	h.profiles.put(domain.Profile{AccountID: other, Email: "c@d.com", Phone: "9123456780"})
	h.flow.HandleAuthState(ctx, domain.AuthState{SignedIn: true, AccountID: other})

	if h.flow.IsAuthenticated() || h.store.has(keyCustomerSession) {
		t.Fatalf("stale session for %q kept, state = %+v", first.AccountID, h.flow.Snapshot())
	}
	if restored := coldRestore(t, h); restored.IsAuthenticated() {
		t.Fatalf("cold restore authenticated %q", restored.AccountID())
	}
}

func TestPhoneChangeKeepsCachedSession(t *testing.T) {
	h := newCustomerHarness(t)
	h.signupAndVerify(t, "a@b.com", "secret1", "9876543210")

	if _, err := h.flow.UpdatePhoneNumber(context.Background(), "9123456780"); err != nil {
		t.Fatalf("UpdatePhoneNumber: %v", err)
	}
	if !h.store.has(keyCustomerSession) {
		t.Fatalf("phone change challenge dropped the verified session")
	}
}

func TestObserverRecordsOutcomes(t *testing.T) {
	h := newCustomerHarness(t)

	_, _ = h.flow.Login(context.Background(), "a@b.com", "secret1")

	if h.observer.outcomes["customer/login/invalid_credentials"] != 1 {
		t.Fatalf("outcomes = %v", h.observer.outcomes)
	}
}
