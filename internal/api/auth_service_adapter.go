package api

import "github.com/mcoach/assessment-engine/internal/services"

type authStoreAdapter struct {
	store Store
}

func newAuthStoreAdapter(store Store) services.AuthStore {
	return &authStoreAdapter{store: store}
}

func (a *authStoreAdapter) FindActorByEmail(email string) (*services.Actor, error) {
	u, err := a.store.FindActorByEmail(email)
	if err != nil {
		return nil, err
	}
	return toServiceActor(u), nil
}

var _ services.AuthStore = (*authStoreAdapter)(nil)
