package interceptors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/wre314954-sudo/wirenew/internal/infra/security"
)

const (
	authorizationKey = "authorization"
	bearerPrefix     = "bearer "
)

// BearerParser validates admin bearer credentials.
type BearerParser interface {
	Parse(token string) (*security.BearerClaims, error)
}

// AuthOptions fine-tunes interceptor behaviour.
type AuthOptions struct {
	// AdminAccountID is the only account admitted. Empty rejects every credential.
	AdminAccountID string
	// AllowPrefixes lists full method prefixes served without a credential, e.g. "/grpc.health.v1.Health/".
	AllowPrefixes []string
	Logger        *zap.Logger
}

// AuthInterceptor admits calls carrying the privileged admin bearer credential.
type AuthInterceptor struct {
	parser  BearerParser
	adminID string
	allow   []string
	logger  *zap.Logger
}

// NewAuthInterceptor constructs a new AuthInterceptor instance.
func NewAuthInterceptor(parser BearerParser, opts AuthOptions) *AuthInterceptor {
	allow := make([]string, 0, len(opts.AllowPrefixes))
	for _, prefix := range opts.AllowPrefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			allow = append(allow, prefix)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthInterceptor{parser: parser, adminID: opts.AdminAccountID, allow: allow, logger: logger}
}

func (ai *AuthInterceptor) allowed(method string) bool {
	for _, prefix := range ai.allow {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}

func (ai *AuthInterceptor) authenticate(ctx context.Context, method string) (context.Context, error) {
	if ai.allowed(method) {
		return ctx, nil
	}

	token, err := tokenFromMetadata(ctx)
	if err != nil {
		ai.logger.Warn("gRPC authentication failed", zap.String("method", method), zap.Error(err))
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	claims, err := ai.parser.Parse(token)
	if err != nil {
		ai.logger.Warn("gRPC bearer validation failed", zap.String("method", method), zap.Error(err))
		switch {
		case errors.Is(err, security.ErrBearerExpired):
			return nil, status.Error(codes.Unauthenticated, "bearer credential expired")
		case errors.Is(err, security.ErrBearerInvalid):
			return nil, status.Error(codes.Unauthenticated, "invalid bearer credential")
		default:
			return nil, status.Error(codes.Unauthenticated, "failed to validate bearer credential")
		}
	}

	if ai.adminID == "" || claims.AccountID != ai.adminID {
		ai.logger.Warn("gRPC call by non-privileged account", zap.String("method", method), zap.String("account_id", claims.AccountID))
		return nil, status.Error(codes.PermissionDenied, "not authorized for admin access")
	}

	return WithAccountID(ctx, claims.AccountID), nil
}

// UnaryServerInterceptor returns a gRPC unary interceptor that enforces the admin bearer.
func (ai *AuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if ai == nil || ai.parser == nil {
			return handler(ctx, req)
		}

		ctx, err := ai.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns the streaming counterpart of UnaryServerInterceptor.
func (ai *AuthInterceptor) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if ai == nil || ai.parser == nil {
			return handler(srv, ss)
		}

		ctx, err := ai.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

type accountIDKey struct{}

// WithAccountID returns a derived context carrying the authenticated admin account.
func WithAccountID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, accountIDKey{}, id)
}

// AccountIDFromContext returns the admin account proven by the bearer credential.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(accountIDKey{}).(string)
	return id, ok && id != ""
}

func tokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing metadata")
	}

	values := md.Get(authorizationKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", errors.New("authorization token required")
	}

	value := strings.TrimSpace(values[0])
	if len(value) < len(bearerPrefix) || !strings.HasPrefix(strings.ToLower(value), bearerPrefix) {
		return "", errors.New("invalid authorization header")
	}

	token := strings.TrimSpace(value[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("authorization token required")
	}

	return token, nil
}
