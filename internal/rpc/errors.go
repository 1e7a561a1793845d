package rpc

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/vaxmatch/internal/model"
	"github.com/kkkkikiki/vaxmatch/internal/service"
)

// codeOf maps a service error to the connect code returned to callers.
func codeOf(err error) connect.Code {
	switch {
	case model.IsValidationError(err):
		return connect.CodeInvalidArgument
	case errors.Is(err, model.ErrCampaignNotFound), errors.Is(err, model.ErrInvalidToken):
		return connect.CodeNotFound
	case errors.Is(err, service.ErrCampaignNotRunning):
		return connect.CodeFailedPrecondition
	default:
		return connect.CodeInternal
	}
}
