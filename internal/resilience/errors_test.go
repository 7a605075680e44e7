package resilience

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestClassify_FetchError(t *testing.T) {
	tests := []struct {
		name string
		kind FailureKind
	}{
		{"not found", KindNotFound},
		{"timeout", KindTimeout},
		{"rate limited", KindRateLimited},
		{"transient", KindTransient},
		{"fatal", KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewFetchError(tt.kind, "chembl", 0, errors.New("boom"))
			assert.Equal(t, tt.kind, Classify(err))
		})
	}
}

func TestClassify_WrappedFetchError(t *testing.T) {
	inner := NewFetchError(KindRateLimited, "pubmed", 429, errors.New("too many requests"))
	wrapped := eris.Wrap(inner, "fetch pubmed")
	assert.Equal(t, KindRateLimited, Classify(wrapped))
	assert.True(t, IsRecoverable(wrapped))
}

func TestClassify_NetworkHeuristics(t *testing.T) {
	assert.Equal(t, KindTransient, Classify(errors.New("read tcp: connection reset by peer")))
	assert.Equal(t, KindTransient, Classify(errors.New("dial tcp: i/o timeout")))
	assert.Equal(t, KindFatal, Classify(errors.New("invalid request payload")))
}

func TestIsRecoverable(t *testing.T) {
	assert.False(t, IsRecoverable(nil))
	assert.True(t, IsRecoverable(NewFetchError(KindTimeout, "stringdb", 0, errors.New("deadline"))))
	assert.True(t, IsRecoverable(NewFetchError(KindTransient, "stringdb", 502, errors.New("bad gateway"))))
	assert.False(t, IsRecoverable(NewFetchError(KindNotFound, "stringdb", 404, nil)))
	assert.False(t, IsRecoverable(NewFetchError(KindFatal, "stringdb", 401, errors.New("unauthorized"))))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(NewFetchError(KindFatal, "anthropic", 401, errors.New("bad credentials"))))
	assert.False(t, IsFatal(NewFetchError(KindTimeout, "anthropic", 0, errors.New("deadline"))))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewFetchError(KindNotFound, "chembl", 404, nil)))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.Equal(t, KindNotFound, ClassifyHTTPStatus(404))
	assert.Equal(t, KindRateLimited, ClassifyHTTPStatus(429))
	assert.Equal(t, KindTimeout, ClassifyHTTPStatus(408))
	assert.Equal(t, KindTransient, ClassifyHTTPStatus(500))
	assert.Equal(t, KindTransient, ClassifyHTTPStatus(503))
	assert.Equal(t, KindFatal, ClassifyHTTPStatus(400))
	assert.Equal(t, KindFatal, ClassifyHTTPStatus(401))
}
