package s3

import (
	"context"
	"errors"
	"net"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/koustreak/filehop/internal/errs"
)

// mapError translates an S3 SDK error into a *errs.Error. Service error
// codes win over the HTTP status, which wins over the fault class.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NoSuchKey", "NoSuchUpload", "NotFound":
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case "AccessDenied", "AllAccessDisabled", "InvalidAccessKeyId",
			"SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case "BucketAlreadyExists", "OperationAborted", "PreconditionFailed":
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError",
			"EntityTooSmall", "EntityTooLarge", "InvalidPart", "InvalidPartOrder",
			"InvalidArgument", "MalformedXML":
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		case "NotImplemented":
			return errs.Wrap(errs.ErrKindUnsupported, msg, err)
		case "RequestTimeout":
			return errs.Wrap(errs.ErrKindTimeout, msg, err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded",
			"InternalError", "ServiceUnavailable":
			return errs.Wrap(errs.ErrKindTransient, msg, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return errs.Wrap(errs.ErrKindNotFound, msg, err)
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
			return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
		case code == http.StatusConflict, code == http.StatusPreconditionFailed:
			return errs.Wrap(errs.ErrKindConflict, msg, err)
		case code == http.StatusTooManyRequests, code >= 500:
			return errs.Wrap(errs.ErrKindTransient, msg, err)
		case code >= 400:
			return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
		}
	}

	if apiErr != nil {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return errs.Wrap(errs.ErrKindTransient, msg, err)
		}
		return errs.Wrap(errs.ErrKindOperationFailed, msg, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
