package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amoylab/hostlink/internal/common/cnst"
	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/internal/common/errorx"
	"github.com/amoylab/hostlink/internal/registry"
	"github.com/amoylab/hostlink/internal/storage"
	"github.com/amoylab/hostlink/pkg/trace"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const bringUpRetries = 3

// bringUpRequest is the body POSTed to an HTTP host to make it dial in
type bringUpRequest struct {
	RequestID  string `json:"requestId"`
	HTTPHostID string `json:"httpHostId"`
}

// Resolver finds a live Host for an Action or a page, bringing HTTP hosts up on demand
type Resolver struct {
	logger   *zap.Logger
	store    storage.Store
	registry registry.Store
	client   *http.Client
	timeout  time.Duration
	interval time.Duration
	tracer   *trace.Builder
}

func NewResolver(logger *zap.Logger, store storage.Store, reg registry.Store, cfg config.TransactionsConfig) *Resolver {
	return &Resolver{
		logger:   logger.Named("orchestrator.resolver"),
		store:    store,
		registry: reg,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport), Timeout: 10 * time.Second},
		timeout:  cfg.HostResolveTimeout,
		interval: cfg.PollInterval,
		tracer:   trace.Tracer(cnst.TraceOrchestrator),
	}
}

// ForAction resolves the Host serving action
func (r *Resolver) ForAction(ctx context.Context, action *storage.Action) (*registry.HostConn, error) {
	scope := r.tracer.Start(ctx, cnst.SpanResolveHost).
		WithAttrs(attribute.String(cnst.AttrActionID, action.ID), attribute.String(cnst.AttrActionSlug, action.Slug))
	defer scope.End()

	ids, httpHosts, err := r.store.HostsForAction(scope.Ctx, action.ID)
	if err != nil {
		scope.Fail(err)
		return nil, err
	}
	host, err := r.resolve(scope.Ctx, ids, httpHosts)
	if err != nil {
		scope.Fail(err)
		return nil, err
	}
	scope.WithAttrs(attribute.String(cnst.AttrHostID, host.ID))
	return host, nil
}

// ForActionGroup resolves the Host rendering a page
func (r *Resolver) ForActionGroup(ctx context.Context, group *storage.ActionGroup) (*registry.HostConn, error) {
	scope := r.tracer.Start(ctx, cnst.SpanResolveHost).
		WithAttrs(attribute.String(cnst.AttrActionSlug, group.Slug))
	defer scope.End()

	ids, httpHosts, err := r.store.HostsForActionGroup(scope.Ctx, group.ID)
	if err != nil {
		scope.Fail(err)
		return nil, err
	}
	host, err := r.resolve(scope.Ctx, ids, httpHosts)
	scope.Fail(err)
	return host, err
}

func (r *Resolver) resolve(ctx context.Context, onlineIDs []string, httpHosts []*storage.HTTPHost) (*registry.HostConn, error) {
	for _, id := range onlineIDs {
		host, ok := r.registry.Host(id)
		if ok && !r.registry.IsHostShuttingDown(id) {
			return host, nil
		}
	}
	if len(httpHosts) == 0 {
		return nil, errorx.New(errorx.ErrNotFound, "no host is available")
	}

	var lastErr error
	for _, h := range httpHosts {
		host, err := r.bringUp(ctx, h)
		if err == nil {
			return host, nil
		}
		r.logger.Warn("http host bring-up failed", zap.String("httpHost", h.ID), zap.Error(err))
		lastErr = err
	}
	return nil, lastErr
}

// bringUp asks an HTTP host to connect and waits for a socket tagged with the request id
func (r *Resolver) bringUp(ctx context.Context, h *storage.HTTPHost) (*registry.HostConn, error) {
	requestID := uuid.NewString()
	scope := r.tracer.Start(ctx, cnst.SpanHTTPHostBringUp).
		WithAttrs(attribute.String(cnst.AttrRequestID, requestID))
	defer scope.End()

	ctx, cancel := context.WithTimeout(scope.Ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(bringUpRequest{RequestID: requestID, HTTPHostID: h.ID})
	if err != nil {
		return nil, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.interval), bringUpRetries), ctx)
	err = backoff.Retry(func() error {
		return r.post(ctx, h.URL, body)
	}, b)
	if err != nil {
		scope.Fail(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errorx.Wrap(errorx.ErrResolutionTimeout, err, "http host %s", h.ID)
		}
		return nil, err
	}

	host, err := r.registry.WaitForHostByRequestID(ctx, requestID)
	if err != nil {
		scope.Fail(err)
		return nil, errorx.Wrap(errorx.ErrResolutionTimeout, err, "http host %s did not connect", h.ID)
	}
	return host, nil
}

func (r *Resolver) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("http host answered %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("http host answered %d", resp.StatusCode))
	}
	return nil
}
