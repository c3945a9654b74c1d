package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/stricklysoft-fireauth/pkg/errors"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// verifies the ID token in the "authorization" metadata and stores its
// claims in the handler context.
//
// Missing metadata and token failures return codes.Unauthenticated. A key
// set that cannot be fetched returns codes.Unavailable and a timed out
// lookup codes.DeadlineExceeded.
func UnaryServerInterceptor(verifier TokenVerifier, opts ...Option) grpc.UnaryServerInterceptor {
	logger := newOptions(opts).logger
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := verifyFromMetadata(ctx, verifier, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(verifier TokenVerifier, opts ...Option) grpc.StreamServerInterceptor {
	logger := newOptions(opts).logger
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := verifyFromMetadata(ss.Context(), verifier, logger, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that adds
// an access token from provider to the outgoing metadata. Prefer
// [PerRPCCredentials] on TLS connections; the interceptor also works on
// plaintext connections such as a local emulator.
func UnaryClientInterceptor(provider TokenProvider) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx, err := withAccessToken(ctx, provider)
		if err != nil {
			return err
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming counterpart of
// [UnaryClientInterceptor].
func StreamClientInterceptor(provider TokenProvider) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx, err := withAccessToken(ctx, provider)
		if err != nil {
			return nil, err
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// PerRPCCredentials returns gRPC per-RPC credentials that attach an access
// token from provider to every call. When requireTLS is true the token is
// only sent over a connection with privacy and integrity protection.
//
//	conn, err := grpc.NewClient(target,
//	    grpc.WithTransportCredentials(credentials.NewTLS(nil)),
//	    grpc.WithPerRPCCredentials(auth.PerRPCCredentials(issuer, true)),
//	)
func PerRPCCredentials(provider TokenProvider, requireTLS bool) credentials.PerRPCCredentials {
	return &bearerCredentials{provider: provider, requireTLS: requireTLS}
}

type bearerCredentials struct {
	provider   TokenProvider
	requireTLS bool
}

// GetRequestMetadata implements [credentials.PerRPCCredentials]. ctx is the
// RPC context, so an abandoned call does not wait for a refresh.
func (c *bearerCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	if c.requireTLS {
		ri, _ := credentials.RequestInfoFromContext(ctx)
		if err := credentials.CheckSecurityLevel(ri.AuthInfo, credentials.PrivacyAndIntegrity); err != nil {
			return nil, fmt.Errorf("auth: unable to transfer access token: %w", err)
		}
	}
	token, err := c.provider.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{HeaderAuthorization: bearerPrefix + token}, nil
}

// RequireTransportSecurity implements [credentials.PerRPCCredentials].
func (c *bearerCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}

func verifyFromMetadata(
	ctx context.Context,
	verifier TokenVerifier,
	logger *slog.Logger,
	method string,
) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get(HeaderAuthorization)
	if len(values) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token := ExtractBearerToken(values[0])
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	claims, err := verifier.VerifyIDToken(ctx, token)
	if err != nil {
		code := grpcCode(err)
		if code == codes.Unauthenticated {
			return ctx, status.Error(code, "id token verification failed")
		}
		logger.WarnContext(ctx, "auth: id token could not be verified",
			"error", err,
			"code", sserr.GetCode(err),
			"method", method,
		)
		return ctx, status.Error(code, "id token could not be verified")
	}
	return ContextWithClaims(ctx, claims), nil
}

// grpcCode maps an error from a [TokenVerifier] to a gRPC status code,
// following the same split as [sserr.Error.HTTPStatus].
func grpcCode(err error) codes.Code {
	switch {
	case sserr.IsTimeout(err):
		return codes.DeadlineExceeded
	case sserr.IsKeyFetch(err), sserr.HasCode(err, sserr.CodeUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	switch sserr.GetCode(err).Category() {
	case "IDT", "KEYS":
		return codes.Unauthenticated
	case "VAL":
		return codes.InvalidArgument
	}
	return codes.Internal
}

func withAccessToken(ctx context.Context, provider TokenProvider) (context.Context, error) {
	token, err := provider.AccessToken(ctx)
	if err != nil {
		return ctx, err
	}
	return metadata.AppendToOutgoingContext(ctx, HeaderAuthorization, bearerPrefix+token), nil
}

// wrappedServerStream overrides Context so stream handlers see the
// verified claims.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
