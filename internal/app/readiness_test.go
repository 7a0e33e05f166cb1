package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingerStub struct{ err error }

func (p pingerStub) Ping(context.Context) error { return p.err }

type redisResultStub struct{ err error }

func (r redisResultStub) Err() error { return r.err }

type redisStub struct{ err error }

func (r redisStub) Ping(context.Context) RedisPingResult { return redisResultStub{err: r.err} }

func TestBuildReadinessChecksNilDependencies(t *testing.T) {
	db, redis, broker := BuildReadinessChecks(nil, nil, nil)
	require.Error(t, db(context.Background()))
	require.Error(t, redis(context.Background()))
	require.Error(t, broker(context.Background()))
}

func TestBuildReadinessChecksHealthy(t *testing.T) {
	db, redis, broker := BuildReadinessChecks(pingerStub{}, redisStub{}, pingerStub{})
	require.NoError(t, db(context.Background()))
	require.NoError(t, redis(context.Background()))
	require.NoError(t, broker(context.Background()))
}

func TestBuildReadinessChecksPropagatesErrors(t *testing.T) {
	db, redis, broker := BuildReadinessChecks(
		pingerStub{err: errors.New("db down")},
		redisStub{err: errors.New("redis down")},
		pingerStub{err: errors.New("broker down")},
	)
	require.EqualError(t, db(context.Background()), "db down")
	require.EqualError(t, redis(context.Background()), "redis down")
	require.EqualError(t, broker(context.Background()), "broker down")
}
