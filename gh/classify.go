package gh

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v74/github"

	"github.com/urizennnn/forkscout/scan"
)

// classify maps a raw go-github error to one of the pipeline's sentinel
// errors. A nil return means the error is transient and worth retrying.
func classify(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: resets %s", scan.ErrRateLimited, rateErr.Rate.Reset.Format("15:04:05"))
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: secondary limit", scan.ErrRateLimited)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusGone, http.StatusUnavailableForLegalReasons:
			return scan.ErrNotFound
		case http.StatusUnauthorized:
			return scan.ErrUnauthorized
		case http.StatusForbidden:
			// 403 without rate-limit headers is still almost always a
			// throttle on this API; treat it the same way.
			return fmt.Errorf("%w: forbidden", scan.ErrRateLimited)
		}
	}
	return nil
}
