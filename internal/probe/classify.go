package probe

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/connwatch/connwatch/internal/model"
)

// Failure is the normalized form of a native probe error: a taxonomy class,
// a technology-prefixed diagnostic code, and a curated operator-safe message.
type Failure struct {
	Class   model.FailureClass
	Code    string
	Message string
}

// classifyNetwork handles the transport-level failure modes shared by every
// kind. The second return value is false when the error is not a network
// error and kind-specific classification should take over.
func classifyNetwork(prefix string, err error) (Failure, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failure{
			Class:   model.FailureTimeout,
			Code:    prefix + "-timeout",
			Message: "Connection timed out",
		}, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Failure{
			Class:   model.FailureTimeout,
			Code:    prefix + "-timeout",
			Message: "Connection timed out",
		}, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Failure{
			Class:   model.FailureUnreachable,
			Code:    prefix + "-dns",
			Message: "Host could not be resolved",
		}, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Failure{
			Class:   model.FailureUnreachable,
			Code:    prefix + "-unreachable",
			Message: "Server is unreachable — check host and port",
		}, true
	}

	// Driver-wrapped refusals that do not unwrap to *net.OpError.
	if strings.Contains(err.Error(), "connection refused") {
		return Failure{
			Class:   model.FailureUnreachable,
			Code:    prefix + "-refused",
			Message: "Server refused the connection",
		}, true
	}

	return Failure{}, false
}

func unknownFailure(prefix string) Failure {
	return Failure{
		Class:   model.FailureUnknown,
		Code:    prefix + "-unknown",
		Message: "Connection test failed",
	}
}
