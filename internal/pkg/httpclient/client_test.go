package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	host string
	port int
}

func (r staticResolver) DiscoverServiceInstance(string) (string, int, error) {
	return r.host, r.port, nil
}

func TestGetJSONThroughResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carts/c1", r.URL.Path)
		_, _ = w.Write([]byte(`{"customerId":"c1"}`))
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	c := NewClient(nil, staticResolver{host: host, port: port})
	var out struct {
		CustomerID string `json:"customerId"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "cart-service", "/carts/c1", &out))
	assert.Equal(t, "c1", out.CustomerID)
}

func TestNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(nil, nil)
	err := c.Delete(context.Background(), strings.TrimPrefix(srv.URL, "http://"), "/carts/c1")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
}
