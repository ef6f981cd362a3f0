package providers

import (
	"context"
	"errors"
	"net/http"

	"scenecraft/pkg/httpclient"
	"scenecraft/pkg/utils"
)

// classifyStatus maps a provider HTTP status to an error kind
func classifyStatus(status int) utils.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return utils.KindConfiguration
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return utils.KindProviderTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		return utils.KindTransientNetwork
	case status >= 400:
		return utils.KindProviderRejected
	default:
		return utils.KindInternal
	}
}

// classify turns a transport error or a non-2xx response into a taxonomy
// error. It returns nil for a successful response.
func classify(op string, resp *httpclient.Response, err error) error {
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return utils.E(utils.KindCancelled, op, err)
		case utils.IsTimeoutError(err):
			return utils.E(utils.KindProviderTimeout, op, err)
		default:
			return utils.E(utils.KindTransientNetwork, op, err)
		}
	}
	if resp == nil {
		return utils.Errorf(utils.KindInternal, op, "no response")
	}
	if statusErr := resp.Err(); statusErr != nil {
		return utils.E(classifyStatus(resp.StatusCode), op, statusErr)
	}
	return nil
}

// downloadError classifies a failed artifact download
func downloadError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return utils.E(utils.KindCancelled, op, err)
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return utils.E(utils.KindProviderRejected, op, err)
	}
	return utils.E(utils.KindDownloadFailed, op, err)
}

func missingCredential(op, name string) error {
	return utils.Errorf(utils.KindConfiguration, op, "%s credential is not configured", name)
}
