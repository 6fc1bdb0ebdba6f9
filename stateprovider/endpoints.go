package stateprovider

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// endpoint bundles the two client handles a single backing node needs: the
// high-level ethclient for typed calls, and the raw rpc client for requests
// StateProvider wants to inspect as unparsed JSON (block headers via gjson).
type endpoint struct {
	url string
	eth *ethclient.Client
	raw *rpc.Client
}

func dialEndpoint(url string) (*endpoint, error) {
	raw, err := rpc.Dial(url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &endpoint{url: url, eth: ethclient.NewClient(raw), raw: raw}, nil
}

// backoffDelay implements the fallback contract's exponential back-off:
// 50ms * 2^n capped at 2s.
func backoffDelay(attempt int) time.Duration {
	d := 50 * time.Millisecond * time.Duration(uint64(1)<<uint(attempt))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// isRetryable distinguishes transport-level failures (connection refused,
// timeout, rate limiting) from permanent decoding/protocol errors that must
// surface to the caller unchanged.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !isNonRetryable(err)
}

type pool struct {
	endpoints  []*endpoint
	maxRetries atomic.Int32
	log        zerolog.Logger
}

func newPool(urls []string, maxRetries int, log zerolog.Logger) (*pool, error) {
	if len(urls) == 0 {
		return nil, errors.New("stateprovider: at least one RPC endpoint is required")
	}
	p := &pool{log: log}
	p.maxRetries.Store(int32(maxRetries))
	for _, u := range urls {
		ep, err := dialEndpoint(u)
		if err != nil {
			return nil, err
		}
		p.endpoints = append(p.endpoints, ep)
	}
	return p, nil
}

// call runs fn against endpoints in rotation starting from a pseudo-random
// offset (spreading load across equally-valid nodes), retrying retryable
// errors up to the current retry cap before giving up.
func (p *pool) call(ctx context.Context, fn func(context.Context, *endpoint) error) error {
	start := rand.Intn(len(p.endpoints))
	retries := int(p.maxRetries.Load())
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		ep := p.endpoints[(start+attempt)%len(p.endpoints)]
		err := fn(ctx, ep)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		p.log.Warn().Str("endpoint", ep.url).Int("attempt", attempt).Err(err).Msg("rpc call failed, retrying")
		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrap(lastErr, "stateprovider: exhausted retries across all endpoints")
}
