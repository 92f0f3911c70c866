package writer

import (
	"errors"
	"net/http"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	retryableHTTP = map[int]bool{
		http.StatusRequestTimeout:      true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	retryableGRPC = map[codes.Code]bool{
		codes.Aborted:           true,
		codes.DeadlineExceeded:  true,
		codes.Internal:          true,
		codes.ResourceExhausted: true,
		codes.Unavailable:       true,
	}
)

// isRetryableBigQueryError is true only when every underlying failure is
// transient. A single bad row makes the whole insert permanent.
func isRetryableBigQueryError(err error) bool {
	leaves := flatten(err)
	if len(leaves) == 0 {
		return false
	}
	for _, leaf := range leaves {
		if !transient(leaf) {
			return false
		}
	}
	return true
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		var out []error
		for _, inner := range multi {
			if inner == nil {
				continue
			}
			out = append(out, flatten(inner)...)
		}
		return nonEmpty(out, err)
	}
	var puts cbigquery.PutMultiError
	if errors.As(err, &puts) {
		var out []error
		for _, row := range puts {
			out = append(out, flatten(row.Errors)...)
		}
		return nonEmpty(out, err)
	}
	return []error{err}
}

// nonEmpty keeps an aggregate with no usable children from reading as retryable.
func nonEmpty(leaves []error, parent error) []error {
	if len(leaves) == 0 {
		return []error{parent}
	}
	return leaves
}

func transient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return retryableGRPC[st.Code()]
	}
	return false
}
