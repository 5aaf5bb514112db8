package httputil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_AppliesConfig(t *testing.T) {
	c := NewClient(GraphClientConfig())

	assert.Equal(t, 45*time.Second, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 50, tr.MaxConnsPerHost)
	assert.Equal(t, 20, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 45*time.Second, tr.ResponseHeaderTimeout)
}

func TestNewClient_NilUsesDefaults(t *testing.T) {
	c := NewClient(nil)
	assert.Equal(t, 30*time.Second, c.Timeout)
}

func TestLLMClientConfig(t *testing.T) {
	assert.Equal(t, 90*time.Second, LLMClientConfig(90*time.Second).ResponseTimeout)
	assert.Equal(t, 30*time.Second, LLMClientConfig(0).ResponseTimeout)
}
