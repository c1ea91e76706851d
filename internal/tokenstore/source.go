package tokenstore

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// Source adapts a Store into an oauth2.TokenSource. Every Token call
// rereads the store, so tokens rotated out of band are picked up without a
// restart. oauth2.Transport consults its source on every request, which
// keeps that reread on the request path.
type Source struct {
	store Store
}

var _ oauth2.TokenSource = (*Source)(nil)

func NewSource(store Store) *Source {
	return &Source{store: store}
}

func (s *Source) Token() (*oauth2.Token, error) {
	token, err := s.store.Read(context.Background())
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("no engine token configured")
	}
	return &oauth2.Token{AccessToken: token}, nil
}
