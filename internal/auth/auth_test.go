package auth

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"shuttle-tracker/internal/tracking"
)

const sampleUsers = `
users:
  - token: driver-token-1
    user_id: drv1
    role: driver
    bus_id: S1/A
  - token: student-token-1
    user_id: stu1
    role: student
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yml")
	if err := os.WriteFile(path, []byte(sampleUsers), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if d.Len() != 2 {
		t.Fatalf("Len = %d", d.Len())
	}
	id, ok := d.Lookup("driver-token-1")
	want := tracking.Identity{UserID: "drv1", Role: tracking.RoleDriver, BusID: "S1/A"}
	if !ok || id != want {
		t.Fatalf("Lookup = %+v, %t", id, ok)
	}
	if _, ok := d.Lookup("nope"); ok {
		t.Fatal("unknown token resolved")
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name, yaml string
	}{
		{"empty", "users: []"},
		{"bad role", "users:\n  - {token: abcdefgh, user_id: x, role: admin}"},
		{"driver without bus", "users:\n  - {token: abcdefgh, user_id: x, role: driver}"},
		{"short token", "users:\n  - {token: abc, user_id: x, role: student}"},
		{"duplicate token", "users:\n  - {token: abcdefgh, user_id: x, role: student}\n  - {token: abcdefgh, user_id: y, role: student}"},
		{"duplicate user", "users:\n  - {token: abcdefgh, user_id: x, role: student}\n  - {token: ijklmnop, user_id: x, role: student}"},
		{"not yaml", "users: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name, header, value, want string
		ok                        bool
	}{
		{"bearer", "Authorization", "Bearer abc", "abc", true},
		{"bearer lowercase", "Authorization", "bearer abc", "abc", true},
		{"basic", "Authorization", "Basic abc", "", false},
		{"bearer empty", "Authorization", "Bearer ", "", false},
		{"x-auth-token", "X-Auth-Token", "abc", "abc", true},
		{"none", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			got, err := TokenFromRequest(r)
			if (err == nil) != tt.ok || got != tt.want {
				t.Fatalf("got %q, %v", got, err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	d := NewDirectory(map[string]tracking.Identity{
		"tok": {UserID: "stu1", Role: tracking.RoleStudent},
	})
	var denied int
	h := d.Middleware(func(w http.ResponseWriter, r *http.Request, err error) {
		denied++
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok || id.UserID != "stu1" {
			t.Errorf("identity = %+v, %t", id, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, tc := range []struct {
		token string
		want  int
	}{
		{"tok", http.StatusNoContent},
		{"bad", http.StatusUnauthorized},
		{"", http.StatusUnauthorized},
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.token != "" {
			r.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		if rec.Code != tc.want {
			t.Errorf("token %q: status %d, want %d", tc.token, rec.Code, tc.want)
		}
	}
	if denied != 2 {
		t.Fatalf("denied = %d", denied)
	}
}
