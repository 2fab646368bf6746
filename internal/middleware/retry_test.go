package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiaolu-workflow/crawler-service/internal/crawler"
)

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTimes:        3,
		HTTPCodes:       []int{500, 502, 503, 504, 522, 524, 408, 429},
		PriorityAdjust:  -1,
		MinBodyLength:   100,
		BlockSignatures: []string{"access denied", "blocked", "访问被拒绝", "系统繁忙", "too many requests"},
	}
}

func bigBody() []byte {
	return []byte(strings.Repeat("x", 200))
}

func TestRetryOnListedStatus(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	req := crawler.NewRequest("https://example.com/")

	out, err := p.OnResponse(context.Background(), req, &crawler.Response{StatusCode: 503, Body: bigBody()})
	require.NoError(t, err)
	require.NotNil(t, out.Reissue)
	require.Equal(t, 1, out.Reissue.Retries)
	require.Equal(t, -1, out.Reissue.Priority)
	require.Zero(t, req.Retries, "original request is not mutated")
}

func TestNoRetryOnUnlistedStatus(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	req := crawler.NewRequest("https://example.com/")

	for _, code := range []int{200, 301, 404, 403} {
		out, err := p.OnResponse(context.Background(), req, &crawler.Response{StatusCode: code, Body: bigBody()})
		require.NoError(t, err)
		require.Nil(t, out.Reissue, "status %d", code)
	}
}

func TestRetryOnShortBody(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	out, err := p.OnResponse(context.Background(), crawler.NewRequest("https://example.com/"),
		&crawler.Response{StatusCode: http.StatusOK, Body: []byte("tiny")})
	require.NoError(t, err)
	require.NotNil(t, out.Reissue)
}

func TestRetryOnBlockSignature(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	body := append(bigBody(), []byte("……系统繁忙，请稍后再试……")...)
	out, err := p.OnResponse(context.Background(), crawler.NewRequest("https://example.com/"),
		&crawler.Response{StatusCode: http.StatusOK, Body: body})
	require.NoError(t, err)
	require.NotNil(t, out.Reissue)
}

func TestBlockSignatureCaseInsensitive(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	body := append(bigBody(), []byte("Access Denied")...)
	out, err := p.OnResponse(context.Background(), crawler.NewRequest("https://example.com/"),
		&crawler.Response{StatusCode: http.StatusOK, Body: body})
	require.NoError(t, err)
	require.NotNil(t, out.Reissue)
}

func TestRetryCapEnforced(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	req := crawler.NewRequest("https://example.com/")
	req.Retries = 3

	out, err := p.OnResponse(context.Background(), req, &crawler.Response{StatusCode: 503, Body: bigBody()})
	require.NoError(t, err)
	require.Nil(t, out.Reissue, "cap reached, response surfaces untouched")
}

func TestRetryCountMonotonic(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	req := crawler.NewRequest("https://example.com/")

	for want := 1; want <= 3; want++ {
		out, err := p.OnResponse(context.Background(), req, &crawler.Response{StatusCode: 502, Body: bigBody()})
		require.NoError(t, err)
		require.NotNil(t, out.Reissue)
		require.Equal(t, want, out.Reissue.Retries)
		req = out.Reissue
	}
}

func TestExceptionRetryOnNetworkFailures(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	req := crawler.NewRequest("https://example.com/")

	for _, err := range []error{
		fmt.Errorf("read: %w", syscall.ECONNRESET),
		fmt.Errorf("dial: %w", syscall.ECONNREFUSED),
		context.DeadlineExceeded,
	} {
		require.NotNil(t, p.OnException(context.Background(), req, err), "%v", err)
	}
}

func TestExceptionNoRetryOnCancelOrUnknown(t *testing.T) {
	p := NewRetryPolicy(defaultRetryConfig(), zap.NewNop())
	req := crawler.NewRequest("https://example.com/")

	require.Nil(t, p.OnException(context.Background(), req, context.Canceled))
	require.Nil(t, p.OnException(context.Background(), req, errors.New("tls handshake failure")))
}
