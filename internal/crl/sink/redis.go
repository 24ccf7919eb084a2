package sink

import (
	"context"
	"fmt"
	"math/big"

	"github.com/redis/go-redis/v9"

	"certstore/internal/certificate/models"
	"certstore/internal/crl"
	"certstore/internal/schema"
)

var _ crl.Sink = (*Redis)(nil)

// Redis keeps the revoked set of one issuing point in two keys:
//
//	crl:<point>:revoked  hash of serial → revocation info in wire form
//	crl:<point>:expired  set of serials that expired while revoked
type Redis struct {
	client     redis.UniversalClient
	revokedKey string
	expiredKey string
}

// NewRedis creates a sink for issuing point point.
func NewRedis(client redis.UniversalClient, point string) *Redis {
	prefix := "crl:" + point + ":"
	return &Redis{
		client:     client,
		revokedKey: prefix + "revoked",
		expiredKey: prefix + "expired",
	}
}

func (r *Redis) AddRevokedCert(ctx context.Context, serial *big.Int, info *models.RevocationInfo) error {
	wire, err := schema.FormatRevocationInfo(info)
	if err != nil {
		return fmt.Errorf("redis sink: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.revokedKey, serial.String(), wire)
		pipe.SRem(ctx, r.expiredKey, serial.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sink: add revoked %s: %w", serial, err)
	}
	return nil
}

func (r *Redis) AddUnrevokedCert(ctx context.Context, serial *big.Int) error {
	if err := r.client.HDel(ctx, r.revokedKey, serial.String()).Err(); err != nil {
		return fmt.Errorf("redis sink: add unrevoked %s: %w", serial, err)
	}
	return nil
}

func (r *Redis) AddExpiredCert(ctx context.Context, serial *big.Int) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.revokedKey, serial.String())
		pipe.SAdd(ctx, r.expiredKey, serial.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sink: add expired %s: %w", serial, err)
	}
	return nil
}

// Revoked loads the current revoked set keyed by decimal serial.
func (r *Redis) Revoked(ctx context.Context) (map[string]*models.RevocationInfo, error) {
	raw, err := r.client.HGetAll(ctx, r.revokedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sink: list revoked: %w", err)
	}
	out := make(map[string]*models.RevocationInfo, len(raw))
	for serial, wire := range raw {
		info, err := schema.ParseRevocationInfo(wire)
		if err != nil {
			return nil, fmt.Errorf("redis sink: serial %s: %w", serial, err)
		}
		out[serial] = info
	}
	return out, nil
}

// IsExpired reports whether serial was reported expired.
func (r *Redis) IsExpired(ctx context.Context, serial *big.Int) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.expiredKey, serial.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis sink: check expired %s: %w", serial, err)
	}
	return ok, nil
}
