package codec

import (
	"context"
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/time/rate"

	keyringDomain "github.com/allisson/bearertoken/internal/keyring/domain"
)

// pbkdf2Iterations and pbkdf2KeyLenBits follow the spec's legacy codec
// derivation parameters exactly: 100,000 iterations, 128-bit output.
const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLenBits = 128
)

// deriveJob is one request to the single-threaded derivation worker.
type deriveJob struct {
	passphrase []byte
	salt       keyringDomain.Salt
	result     chan<- deriveResult
}

type deriveResult struct {
	key []byte
	err error
}

// DerivationExecutor runs PBKDF2-HMAC-SHA512 on a single dedicated
// goroutine, named by the service, so request-handling goroutines never
// perform the expensive derivation directly — the spec requires this to
// keep PBKDF2 off request threads and to throttle DoS attempts against
// unknown salts, which the executor does with a token-bucket limiter
// (golang.org/x/time/rate) in front of its one worker.
type DerivationExecutor struct {
	jobs    chan deriveJob
	limiter *rate.Limiter
	done    chan struct{}
}

// NewDerivationExecutor starts the worker goroutine. ratePerSecond bounds
// how many derivations per second the executor will perform; excess
// requests wait for a token rather than spawning more workers, which is
// the throttle the codec's DoS defense relies on.
func NewDerivationExecutor(ratePerSecond float64, burst int) *DerivationExecutor {
	e := &DerivationExecutor{
		jobs:    make(chan deriveJob),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *DerivationExecutor) run() {
	for job := range e.jobs {
		key := pbkdf2.Key(job.passphrase, job.salt[:], pbkdf2Iterations, pbkdf2KeyLenBits/8, sha512.New)
		job.result <- deriveResult{key: key}
	}
	close(e.done)
}

// Derive computes or waits for the rate limiter to admit a PBKDF2
// derivation of passphrase over salt. Blocking happens on the caller's
// goroutine while waiting for the limiter token and while the single
// worker is busy with an earlier job — never by spawning a second worker.
func (e *DerivationExecutor) Derive(ctx context.Context, passphrase []byte, salt keyringDomain.Salt) ([]byte, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result := make(chan deriveResult, 1)
	select {
	case e.jobs <- deriveJob{passphrase: passphrase, salt: salt, result: result}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-result:
		return r.key, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker goroutine. Safe to call once at shutdown.
func (e *DerivationExecutor) Close() {
	close(e.jobs)
	<-e.done
}
