// Package auth maps bearer tokens to tracker identities. Credentials are
// issued out of band and provisioned through a YAML users file.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"shuttle-tracker/internal/tracking"
)

type userEntry struct {
	Token  string `yaml:"token" validate:"required,min=8"`
	UserID string `yaml:"user_id" validate:"required"`
	Role   string `yaml:"role" validate:"required,oneof=driver student"`
	BusID  string `yaml:"bus_id" validate:"required_if=Role driver"`
}

type usersFile struct {
	Users []userEntry `yaml:"users" validate:"required,min=1,dive"`
}

type Directory struct {
	byToken map[string]tracking.Identity
}

func NewDirectory(entries map[string]tracking.Identity) *Directory {
	d := &Directory{byToken: make(map[string]tracking.Identity, len(entries))}
	for tok, id := range entries {
		d.byToken[tok] = id
	}
	return d
}

// LoadFile reads a users file:
//
//	users:
//	  - {token: "...", user_id: drv1, role: driver, bus_id: S1/A}
//	  - {token: "...", user_id: stu1, role: student}
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Directory, error) {
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse users: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate users: %w", err)
	}
	d := &Directory{byToken: make(map[string]tracking.Identity, len(f.Users))}
	seen := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		if _, dup := d.byToken[u.Token]; dup {
			return nil, fmt.Errorf("users: duplicate token for %s", u.UserID)
		}
		if seen[u.UserID] {
			return nil, fmt.Errorf("users: duplicate user_id %s", u.UserID)
		}
		seen[u.UserID] = true
		d.byToken[u.Token] = tracking.Identity{UserID: u.UserID, Role: tracking.Role(u.Role), BusID: u.BusID}
	}
	return d, nil
}

func (d *Directory) Lookup(token string) (tracking.Identity, bool) {
	id, ok := d.byToken[token]
	return id, ok
}

func (d *Directory) Len() int { return len(d.byToken) }

var ErrNoToken = errors.New("auth: missing token")

// TokenFromRequest reads "Authorization: Bearer <token>" or X-Auth-Token.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
			return "", ErrNoToken
		}
		return strings.TrimSpace(tok), nil
	}
	if tok := strings.TrimSpace(r.Header.Get("X-Auth-Token")); tok != "" {
		return tok, nil
	}
	return "", ErrNoToken
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id tracking.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (tracking.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(tracking.Identity)
	return id, ok
}

// Middleware resolves the caller and stores the identity in the request
// context. Requests without a known token are passed to deny.
func (d *Directory) Middleware(deny func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := TokenFromRequest(r)
			if err != nil {
				deny(w, r, err)
				return
			}
			id, ok := d.Lookup(tok)
			if !ok {
				deny(w, r, errors.New("auth: unknown token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
