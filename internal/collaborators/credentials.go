package collaborators

import (
	"context"
	"errors"
)

// StaticCredentials hands back a fixed token. Real token acquisition/refresh
// is out of scope; this exists so the HTTP defaults have something to
// call during manual testing.
type StaticCredentials struct {
	token string
}

func NewStaticCredentials(token string) *StaticCredentials {
	return &StaticCredentials{token: token}
}

func (s *StaticCredentials) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", errors.New("credentials: no token configured")
	}
	return s.token, nil
}
