package oauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeStore struct {
	tokens map[string]*Token
	err    error
}

func (f *fakeStore) GetToken(_ context.Context, toolName, orgID string) (*Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tokens[toolName+"/"+orgID], nil
}

func testProvider(store TokenStore) *Provider {
	return NewProvider(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGetValidAccessToken(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		token   *Token
		want    string
		wantErr error
	}{
		{
			name:  "valid token",
			token: &Token{AccessToken: "tok-1", ExpiresAt: now.Add(time.Hour)},
			want:  "tok-1",
		},
		{
			name:  "token without expiry",
			token: &Token{AccessToken: "tok-2"},
			want:  "tok-2",
		},
		{
			name:    "expired token",
			token:   &Token{AccessToken: "tok-3", ExpiresAt: now.Add(-time.Minute)},
			wantErr: ErrTokenExpired,
		},
		{
			name:    "expires within leeway",
			token:   &Token{AccessToken: "tok-4", ExpiresAt: now.Add(10 * time.Second)},
			wantErr: ErrTokenExpired,
		},
		{
			name:    "missing token",
			token:   nil,
			wantErr: ErrTokenNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{tokens: map[string]*Token{}}
			if tt.token != nil {
				store.tokens["slack/org-1"] = tt.token
			}

			got, err := testProvider(store).GetValidAccessToken(context.Background(), "slack", "org-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGetValidAccessToken_StoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	_, err := testProvider(&fakeStore{err: storeErr}).GetValidAccessToken(context.Background(), "slack", "org-1")
	if !errors.Is(err, storeErr) {
		t.Errorf("store error must be wrapped, got %v", err)
	}
}
