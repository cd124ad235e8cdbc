package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

type principalKey struct{}

const (
	HeaderUserID    = "X-User-Id"
	HeaderRole      = "X-Role"
	HeaderDoctorID  = "X-Doctor-Id"
	HeaderPatientID = "X-Patient-Id"
)

func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(model.Principal)
	return p, ok
}

func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// Authenticator resolves the caller from a Bearer token or, when trustHeaders is set,
// from identity headers injected by the gateway.
type Authenticator struct {
	verifier     auth.Verifier
	trustHeaders bool
}

func NewAuthenticator(verifier auth.Verifier, trustHeaders bool) *Authenticator {
	return &Authenticator{verifier: verifier, trustHeaders: trustHeaders}
}

func (a *Authenticator) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.resolve(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: errorBody{Kind: "unauthorized", Message: err.Error()}})
				return
			}
			// The rate limiter buckets by this header.
			r.Header.Set(HeaderUserID, p.UserID)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

var errMissingCredentials = errors.New("missing credentials")

func (a *Authenticator) resolve(r *http.Request) (model.Principal, error) {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" && a.verifier.Enabled() {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok {
			return model.Principal{}, auth.ErrInvalidToken
		}
		claims, err := a.verifier.Verify(r.Context(), strings.TrimSpace(token))
		if err != nil {
			return model.Principal{}, err
		}
		return principal(claims.Subject, claims.Role, claims.DoctorID, claims.PatientID)
	}
	if a.trustHeaders {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			return model.Principal{}, errMissingCredentials
		}
		return principal(userID,
			strings.TrimSpace(r.Header.Get(HeaderRole)),
			strings.TrimSpace(r.Header.Get(HeaderDoctorID)),
			strings.TrimSpace(r.Header.Get(HeaderPatientID)))
	}
	return model.Principal{}, errMissingCredentials
}

func principal(userID, role, doctorID, patientID string) (model.Principal, error) {
	p := model.Principal{UserID: userID, DoctorID: doctorID, PatientID: patientID}
	switch model.Role(strings.ToLower(role)) {
	case model.RoleAdmin:
		p.Role = model.RoleAdmin
	case model.RoleDoctor:
		p.Role = model.RoleDoctor
	case model.RolePatient:
		p.Role = model.RolePatient
	default:
		return model.Principal{}, errors.New("unknown role")
	}
	return p, nil
}

func mustPrincipal(r *http.Request) (model.Principal, error) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return model.Principal{}, apperr.Forbidden("no authenticated principal")
	}
	return p, nil
}
