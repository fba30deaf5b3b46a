package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

// signToken signs the same claims shape the auth service issues.
func signToken(userID uuid.UUID, role string, expiresAt time.Time) string {
	claims := &service.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tokenString, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	return tokenString
}

func protectedHandler(onCall func(r *http.Request)) http.Handler {
	mw := AuthMiddleware(testSecret, zap.NewNop())
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if onCall != nil {
			onCall(r)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestProperty_ProtectedEndpointsRejectMissingTokens(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("requests without authorization header are rejected", prop.ForAll(
		func(pathSuffix string, method string) bool {
			path := "/" + pathSuffix
			if path == "/" {
				path = "/test"
			}

			req := httptest.NewRequest(method, path, nil)
			w := httptest.NewRecorder()

			protectedHandler(nil).ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.AlphaString(),
		gen.OneConstOf("GET", "POST", "PUT", "DELETE"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ExpiredTokensAreRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("expired tokens are rejected with 401", prop.ForAll(
		func(role string) bool {
			tokenString := signToken(uuid.New(), role, time.Now().Add(-1*time.Hour))

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+tokenString)
			w := httptest.NewRecorder()

			protectedHandler(nil).ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.OneConstOf("customer", "admin"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ValidTokensAllowProcessing(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid tokens put the signed identity into context", prop.ForAll(
		func(role string) bool {
			userID := uuid.New()
			tokenString := signToken(userID, role, time.Now().Add(1*time.Hour))

			handlerCalled := false
			identityMatches := false
			handler := protectedHandler(func(r *http.Request) {
				handlerCalled = true
				ctxUserID, ok1 := GetUserID(r.Context())
				ctxRole, ok2 := GetUserRole(r.Context())
				identityMatches = ok1 && ok2 && ctxUserID == userID.String() && ctxRole == role
			})

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+tokenString)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			return handlerCalled && identityMatches && w.Code == http.StatusOK
		},
		gen.OneConstOf("customer", "admin"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_InvalidTokenFormatRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("invalid token formats are rejected", prop.ForAll(
		func(invalidToken string) bool {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+invalidToken)
			w := httptest.NewRecorder()

			protectedHandler(nil).ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.AnyString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_MissingBearerPrefixRejected(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("tokens without Bearer prefix are rejected", prop.ForAll(
		func(token string) bool {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", token)
			w := httptest.NewRecorder()

			protectedHandler(nil).ServeHTTP(w, req)

			return w.Code == http.StatusUnauthorized
		},
		gen.AnyString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestMalformedIdentityClaimsAreRejected(t *testing.T) {
	cases := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"user_id not a uuid", jwt.MapClaims{
			"user_id": "not-a-uuid",
			"role":    "customer",
			"exp":     time.Now().Add(time.Hour).Unix(),
		}},
		{"missing user_id", jwt.MapClaims{
			"role": "customer",
			"exp":  time.Now().Add(time.Hour).Unix(),
		}},
		{"missing role", jwt.MapClaims{
			"user_id": uuid.New().String(),
			"exp":     time.Now().Add(time.Hour).Unix(),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc.claims).SignedString([]byte(testSecret))
			if err != nil {
				t.Fatalf("sign token: %v", err)
			}

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+tokenString)
			w := httptest.NewRecorder()

			protectedHandler(nil).ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}
