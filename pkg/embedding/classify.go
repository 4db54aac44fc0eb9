package embedding

import (
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"aero-doc-go/pkg/retry"

	"github.com/sashabaranov/go-openai"
)

// transientStatus 判断 HTTP 状态码是否值得重试：超时、限流和服务端错误。
func transientStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// classify 给上游错误打上可重试标记；无法识别的错误按永久失败处理。
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if transientStatus(apiErr.HTTPStatusCode) {
			return retry.Transient(err)
		}
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if transientStatus(reqErr.HTTPStatusCode) {
			return retry.Transient(err)
		}
		return err
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if transientStatus(statusErr.StatusCode) {
			return retry.Transient(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Transient(err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return retry.Transient(err)
	}
	return err
}
