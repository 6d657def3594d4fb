package models

import (
	"errors"
	"testing"
)

func TestServerValidate(t *testing.T) {
	cases := []struct {
		name   string
		server Server
		want   error
	}{
		{
			name:   "valid password",
			server: Server{ID: "a", Name: "web", Host: "10.0.0.1", User: "root", AuthType: AuthTypePassword, Password: "pw"},
		},
		{
			name:   "valid key",
			server: Server{ID: "a", Name: "web", Host: "10.0.0.1", User: "root", AuthType: AuthTypeKey, KeyPath: "/k"},
		},
		{
			name:   "missing password",
			server: Server{ID: "a", Name: "web", Host: "10.0.0.1", User: "root", AuthType: AuthTypePassword},
			want:   ErrMissingSecret,
		},
		{
			name:   "unknown auth",
			server: Server{ID: "a", Name: "web", Host: "10.0.0.1", User: "root", AuthType: "token"},
			want:   ErrInvalidAuthType,
		},
		{
			name:   "bad port",
			server: Server{ID: "a", Name: "web", Host: "10.0.0.1", Port: 70000, User: "root", AuthType: AuthTypeKey, KeyPath: "/k"},
			want:   ErrInvalidPort,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.server.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestServerAddrDefaultsPort(t *testing.T) {
	s := Server{Host: "example.com"}
	if got := s.Addr(); got != "example.com:22" {
		t.Fatalf("expected example.com:22, got %s", got)
	}
	s.Port = 2222
	if got := s.Addr(); got != "example.com:2222" {
		t.Fatalf("expected example.com:2222, got %s", got)
	}
	s = Server{Host: "::1", Port: 22}
	if got := s.Addr(); got != "[::1]:22" {
		t.Fatalf("expected [::1]:22, got %s", got)
	}
}

func TestCommandResultCode(t *testing.T) {
	if got := (CommandResult{}).Code(); got != -1 {
		t.Fatalf("expected -1 for missing exit code, got %d", got)
	}
	code := 3
	if got := (CommandResult{ExitCode: &code}).Code(); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}
