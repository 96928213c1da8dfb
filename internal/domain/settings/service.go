package settings

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"

	"github.com/xenking/giftbox/internal/domain/persistence"
)

// Service reads and writes settings, falling back to values from the
// process configuration when nothing has been stored.
type Service struct {
	repo     Repository
	fallback Gateway
}

// NewService creates a Service. fallback is used for any gateway key that
// has not been saved through the admin API.
func NewService(repo Repository, fallback Gateway) *Service {
	return &Service{repo: repo, fallback: fallback}
}

// Gateway returns the effective credential pair.
func (s *Service) Gateway(ctx context.Context) (Gateway, error) {
	secret, err := s.lookup(ctx, KeyGatewaySecret, s.fallback.SecretKey)
	if err != nil {
		return Gateway{}, err
	}
	publishable, err := s.lookup(ctx, KeyGatewayPublishable, s.fallback.PublishableKey)
	if err != nil {
		return Gateway{}, err
	}
	return Gateway{SecretKey: secret, PublishableKey: publishable}, nil
}

// SetGateway validates and stores a credential pair. An empty SecretKey
// keeps the current secret, since the admin UI never receives it back.
func (s *Service) SetGateway(ctx context.Context, g Gateway) (Gateway, error) {
	if g.SecretKey == "" {
		current, err := s.Gateway(ctx)
		if err != nil {
			return Gateway{}, err
		}
		g.SecretKey = current.SecretKey
	}
	if err := ValidateKeys(g); err != nil {
		return Gateway{}, err
	}
	if err := s.repo.Put(ctx, KeyGatewaySecret, g.SecretKey); err != nil {
		return Gateway{}, errors.Wrap(err, "store secret key")
	}
	if err := s.repo.Put(ctx, KeyGatewayPublishable, g.PublishableKey); err != nil {
		return Gateway{}, errors.Wrap(err, "store publishable key")
	}
	return g, nil
}

// PromoEnabled reports whether the storefront shows the promo-code field.
// It defaults to true.
func (s *Service) PromoEnabled(ctx context.Context) (bool, error) {
	v, err := s.lookup(ctx, KeyPromoEnabled, "true")
	if err != nil {
		return false, err
	}
	enabled, err := strconv.ParseBool(v)
	if err != nil {
		return true, nil
	}
	return enabled, nil
}

// SetPromoEnabled stores the promo-code field toggle.
func (s *Service) SetPromoEnabled(ctx context.Context, enabled bool) error {
	if err := s.repo.Put(ctx, KeyPromoEnabled, strconv.FormatBool(enabled)); err != nil {
		return errors.Wrap(err, "store promo toggle")
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, key, fallback string) (string, error) {
	v, err := s.repo.Get(ctx, key)
	switch {
	case err == nil && v != "":
		return v, nil
	case err == nil, errors.Is(err, persistence.ErrNotFound):
		return fallback, nil
	default:
		return "", errors.Wrapf(err, "get setting %s", key)
	}
}
