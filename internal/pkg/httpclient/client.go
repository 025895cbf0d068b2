// internal/pkg/httpclient/client.go
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Resolver finds a live instance of a named service. *nacos.Client satisfies it.
type Resolver interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned %d: %s", e.Service, e.Status, e.Body)
}

// Client is a traced HTTP client. Timeouts come from the request context only.
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	resolver   Resolver
}

// NewClient returns a client that addresses services by name through resolver.
// A nil resolver treats the service name as host:port.
func NewClient(tracer trace.Tracer, resolver Resolver) *Client {
	if tracer == nil {
		tracer = otel.Tracer("eatcloud/httpclient")
	}
	return &Client{
		Tracer: tracer,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		resolver: resolver,
	}
}

func (c *Client) baseURL(service string) (string, error) {
	if c.resolver == nil {
		return "http://" + service, nil
	}
	host, port, err := c.resolver.DiscoverServiceInstance(service)
	if err != nil {
		return "", err
	}
	return "http://" + host + ":" + strconv.Itoa(port), nil
}

// GetJSON issues GET service+path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, service, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, service, path)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(body, out), "decode %s response", service)
}

// Delete issues DELETE service+path and discards the body.
func (c *Client) Delete(ctx context.Context, service, path string) error {
	_, err := c.do(ctx, http.MethodDelete, service, path)
	return err
}

func (c *Client) do(ctx context.Context, method, service, path string) ([]byte, error) {
	ctx, span := c.Tracer.Start(ctx, "call-"+service, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	base, err := c.baseURL(service)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrapf(err, "resolve %s", service)
	}
	target := base + path

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		span.RecordError(err)
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")
	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrapf(err, "%s %s", method, target)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response", service)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{Service: service, Status: resp.StatusCode, Body: string(body)}
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Error())
		return nil, serr
	}
	return body, nil
}
