package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointCheckReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A 404 on a bare GET still proves the venue is up.
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &EndpointCheck{CheckName: "venue_uniswap", URL: srv.URL}
	res := c.Run(context.Background())

	assert.True(t, res.Healthy)
	assert.Equal(t, "venue_uniswap", res.Name)
}

func TestEndpointCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := &EndpointCheck{CheckName: "venue_uniswap", URL: srv.URL}
	res := c.Run(context.Background())

	assert.False(t, res.Healthy)
	assert.Contains(t, res.Detail, "reach")
}
