package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	werrors "github.com/wogdump/wogdump/internal/errors"
)

// checkRetry retries connection-level failures, 429s and 5xx responses.
// Anything a repeat attempt cannot fix is returned to the caller at once.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// The default policy already refuses unrecoverable transport
		// errors like certificate failures and bad schemes.
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented {
		return true, nil
	}
	return false, nil
}

// backoffWithJitter doubles the wait per attempt up to max, then
// randomizes half the window so parallel workers do not retry in step.
func backoffWithJitter(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	wait := min << uint(attemptNum)
	if wait > max || wait < min {
		wait = max
	}
	half := wait / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// statusError classifies a non-success response. 429 and 5xx are
// transient (they reached this point with retries exhausted); other
// statuses will not improve on retry.
func statusError(resp *http.Response) error {
	kind := werrors.ErrPermanentNetwork
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		kind = werrors.ErrTransientNetwork
	}
	return fmt.Errorf("%w: %s returned %s", kind, resp.Request.URL, resp.Status)
}

// wrapTransportError classifies a transport-level failure from the retry
// client. User cancellation passes through untouched so callers can tell
// an aborted run from a failed one; everything else, timeouts included,
// is transient.
func wrapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", werrors.ErrTransientNetwork, err)
}
