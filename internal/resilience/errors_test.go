package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"explicit transient", NewTransientError(errors.New("upstream 503"), 503), ClassTransient},
		{"429 status", NewTransientError(errors.New("slow down"), 429), ClassRateLimited},
		{"rate limit message", errors.New("anthropic: rate_limit_error"), ClassRateLimited},
		{"wrapped transient", eris.Wrap(NewTransientError(errors.New("x"), 502), "classifier: classify"), ClassTransient},
		{"connection reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), ClassTransient},
		{"io timeout message", errors.New("read tcp: i/o timeout"), ClassTransient},
		{"permanent", errors.New("invalid api key"), ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient_RateLimitedIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("too many requests")))
	assert.False(t, IsTransient(nil))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}
