// Package auth provides a gRPC unary interceptor, an HTTP middleware and JWT
// token validation securing the mutating ranking operations.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Protected gRPC methods.
const (
	ClearCacheMethod  = "/priority.v1.RankingService/ClearCache"
	ReloadModelMethod = "/priority.v1.RankingService/ReloadModel"
)

// Interceptor holds the JWT secret and a map of protected methods.
type Interceptor struct {
	jwtSecret        string
	protectedMethods map[string]bool
}

type contextKey string

const (
	userContextKey contextKey = "user"
)

// NewAuthInterceptor creates a new Interceptor with the given secret and
// default protected methods.
func NewAuthInterceptor(jwtSecret string) *Interceptor {
	return &Interceptor{
		jwtSecret: jwtSecret,
		protectedMethods: map[string]bool{
			ClearCacheMethod:  true,
			ReloadModelMethod: true,
		},
	}
}

// Unary returns a gRPC unary interceptor for token validation on protected methods.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if i.protectedMethods[info.FullMethod] {
			md, ok := metadata.FromIncomingContext(ctx)
			if !ok {
				return nil, status.Error(codes.Unauthenticated, "metadata missing")
			}

			tokenString, err := extractTokenFromMetadata(md)
			if err != nil {
				return nil, err
			}

			claims, err := validateToken(tokenString, i.jwtSecret)
			if err != nil {
				return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
			}

			ctx = context.WithValue(ctx, userContextKey, claims)
		}

		return handler(ctx, req)
	}
}

// Subject returns the "sub" claim of an authenticated request, or "".
func Subject(ctx context.Context) string {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// extractTokenFromMetadata retrieves a Bearer token from gRPC metadata.
func extractTokenFromMetadata(md metadata.MD) (string, error) {
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return "", status.Error(codes.Unauthenticated, "authorization header missing")
	}

	tokenString, err := bearerToken(authHeaders[0])
	if err != nil {
		return "", status.Error(codes.Unauthenticated, err.Error())
	}
	return tokenString, nil
}

func bearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("invalid authorization format: missing Bearer prefix")
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenString == "" {
		return "", fmt.Errorf("invalid authorization format: empty token")
	}
	return tokenString, nil
}

// validateToken checks the token signature and returns parsed claims if valid.
func validateToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token claims")
}
