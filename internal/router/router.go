// Package router drives a request through its lifecycle: authenticate,
// resolve, reserve spend, dispatch upstream and settle the reservation
// against what the request actually cost.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kubellm/kubellm/internal/chat"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/event"
	"github.com/kubellm/kubellm/internal/guard"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/kubellm/kubellm/internal/registry"
	"github.com/kubellm/kubellm/internal/telemetry"
	"github.com/kubellm/kubellm/internal/util"

	"go.uber.org/zap"
)

type authenticator interface {
	AuthenticateHttpRequest(req *http.Request) (*key.VirtualKey, error)
}

type routeResolver interface {
	Resolve(model string) (*registry.Route, error)
}

type reserver interface {
	Reserve(k *key.VirtualKey, requestId string, estimatedCostInUsd float64) (*guard.Reservation, error)
	Commit(r *guard.Reservation, actualCostInUsd float64) error
	Release(r *guard.Reservation) error
}

type recorder interface {
	Record(r *event.UsageRecord, costLimitUnit key.TimeUnit)
}

type TokenCounter interface {
	Count(model string, input string) (int, error)
}

type CostEstimator interface {
	EstimatePromptCost(model string, tks int) (float64, error)
	EstimateCompletionCost(model string, tks int) (float64, error)
	EstimateTotalCost(model string, promptTks, completionTks int) (float64, error)
}

// Timeouts bound the three phases of a request separately. Admission
// covers everything before the upstream call; connect and request bound
// the call itself.
type Timeouts struct {
	Admission time.Duration
	Request   time.Duration
}

type Router struct {
	auth       authenticator
	resolver   routeResolver
	guard      reserver
	ledger     recorder
	client     *http.Client
	counters   map[string]TokenCounter
	estimators map[string]CostEstimator

	timeouts                Timeouts
	defaultCompletionTokens int
}

func NewRouter(auth authenticator, resolver routeResolver, g reserver, l recorder, client *http.Client, counters map[string]TokenCounter, estimators map[string]CostEstimator, timeouts Timeouts, defaultCompletionTokens int) *Router {
	return &Router{
		auth:       auth,
		resolver:   resolver,
		guard:      g,
		ledger:     l,
		client:     client,
		counters:   counters,
		estimators: estimators,

		timeouts:                timeouts,
		defaultCompletionTokens: defaultCompletionTokens,
	}
}

// Result is the outcome of a dispatched request: exactly one of Response
// and Stream is set depending on whether the caller asked to stream.
type Result struct {
	Response *chat.Response
	Stream   *Stream
}

// Handle runs one chat completion end to end. The returned error is
// always one of the typed errors the web layer knows how to map.
func (r *Router) Handle(ctx context.Context, httpReq *http.Request, creq *chat.Request, requestId string) (*Result, error) {
	lg := util.GetLogFromCtx(ctx)
	start := time.Now()

	telemetry.Incr("kubellm.router.requests", nil, 1)

	vk, route, res, err := r.admit(ctx, httpReq, creq, requestId)
	if err != nil {
		r.recordFailure(vk, route, creq.Model, requestId, start, event.StatusFailed)
		return nil, err
	}

	publicModel := creq.Model
	creq.Model = route.TargetModel

	result, err := r.dispatch(ctx, route, res, creq, publicModel, vk, requestId, start)
	if err != nil {
		if releaseErr := r.guard.Release(res); releaseErr != nil {
			lg.Sugar().Debugf("failed to release reservation: %v", releaseErr)
		}

		status := event.StatusFailed
		var cancelled *internal_errors.CancelledError
		if errors.As(err, &cancelled) {
			status = event.StatusCancelled
		}

		r.recordFailure(vk, route, publicModel, requestId, start, status)
		telemetry.Incr("kubellm.router.dispatch.error", nil, 1)
		return nil, err
	}

	return result, nil
}

// admit covers authentication, model resolution and spend reservation.
// Resolution runs before reservation so an unknown model never touches
// key budgets.
func (r *Router) admit(ctx context.Context, httpReq *http.Request, creq *chat.Request, requestId string) (*key.VirtualKey, *registry.Route, *guard.Reservation, error) {
	actx, cancel := context.WithTimeout(ctx, r.timeouts.Admission)
	defer cancel()

	vk, err := r.auth.AuthenticateHttpRequest(httpReq)
	if err != nil {
		telemetry.Incr("kubellm.router.admit.auth_error", nil, 1)
		return nil, nil, nil, err
	}

	route, err := r.resolver.Resolve(creq.Model)
	if err != nil {
		telemetry.Incr("kubellm.router.admit.unknown_model", nil, 1)
		return vk, nil, nil, err
	}

	estimate := r.estimate(ctx, route, creq)

	if actx.Err() != nil {
		return vk, route, nil, internal_errors.NewTimeoutError("request timed out during admission", internal_errors.AdmissionTimeout)
	}

	res, err := r.guard.Reserve(vk, requestId, estimate)
	if err != nil {
		telemetry.Incr("kubellm.router.admit.reserve_blocked", nil, 1)
		return vk, route, nil, err
	}

	return vk, route, res, nil
}

// estimate computes the admission ceiling: prompt tokens priced for the
// target model plus max_tokens worth of completion, or the configured
// default when the caller sets no cap. An unpriceable model admits at
// zero; actual usage still settles against the budget at commit.
func (r *Router) estimate(ctx context.Context, route *registry.Route, creq *chat.Request) float64 {
	lg := util.GetLogFromCtx(ctx)

	promptTks := r.countPromptTokens(route, creq)

	completionTks := creq.MaxTokens
	if completionTks == 0 {
		completionTks = r.defaultCompletionTokens
	}

	if route.Setting.CostMap != nil {
		cost, err := estimateWithCostMap(route.TargetModel, promptTks, completionTks, route.Setting.CostMap.PromptCostPerModel, route.Setting.CostMap.CompletionCostPerModel)
		if err == nil {
			return cost
		}
	}

	estimator, ok := r.estimators[route.Setting.Provider]
	if !ok {
		return 0
	}

	cost, err := estimator.EstimateTotalCost(route.TargetModel, promptTks, completionTks)
	if err != nil {
		lg.Sugar().Debugf("cannot estimate cost for model %s: %v", route.TargetModel, err)
		telemetry.Incr("kubellm.router.estimate.error", nil, 1)
		return 0
	}

	return cost
}

func (r *Router) countPromptTokens(route *registry.Route, creq *chat.Request) int {
	counter, ok := r.counters[route.Setting.Provider]
	if !ok {
		return 0
	}

	count := 0
	for _, m := range creq.Messages {
		tks, err := counter.Count(route.TargetModel, m.Text())
		if err != nil {
			continue
		}

		count += tks + perMessageOverhead
	}

	return count + perRequestOverhead
}

const (
	perMessageOverhead = 4
	perRequestOverhead = 3
)

func estimateWithCostMap(model string, ptks, ctks int, promptCosts, completionCosts map[string]float64) (float64, error) {
	pcost, ok := promptCosts[model]
	if !ok {
		return 0, fmt.Errorf("%s is not present in the cost map provided", model)
	}

	ccost, ok := completionCosts[model]
	if !ok {
		return 0, fmt.Errorf("%s is not present in the cost map provided", model)
	}

	return float64(ptks)/1000*pcost + float64(ctks)/1000*ccost, nil
}

func (r *Router) dispatch(ctx context.Context, route *registry.Route, res *guard.Reservation, creq *chat.Request, publicModel string, vk *key.VirtualKey, requestId string, start time.Time) (*Result, error) {
	// the request timeout bounds streams too; once dispatched, the
	// stream owns the cancel and fires it on Close
	dctx, cancel := context.WithTimeout(ctx, r.timeouts.Request)

	handedOff := false
	defer func() {
		if !handedOff {
			cancel()
		}
	}()

	upstreamReq, dropped, err := route.Adapter.BuildRequest(dctx, route.Setting.Endpoint, route.ApiKey, creq)
	if err != nil {
		return nil, internal_errors.NewProviderProtocolError(fmt.Sprintf("cannot build %s request: %v", route.Adapter.Name(), err))
	}

	if len(dropped) != 0 {
		util.GetLogFromCtx(ctx).Info("dropped parameters the provider cannot express",
			zap.String("provider", route.Adapter.Name()),
			zap.Strings("parameters", dropped),
		)
		telemetry.Incr("kubellm.router.dispatch.dropped_parameters", nil, 1)
	}

	httpRes, err := r.client.Do(upstreamReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if httpRes.StatusCode < http.StatusOK || httpRes.StatusCode >= http.StatusMultipleChoices {
		defer httpRes.Body.Close()

		body, _ := io.ReadAll(httpRes.Body)
		return nil, route.Adapter.MapError(httpRes.StatusCode, body)
	}

	if creq.Stream {
		stream := newStream(r, dctx, cancel, httpRes.Body, route, res, creq, vk, publicModel, requestId, start)
		handedOff = true
		return &Result{Stream: stream}, nil
	}

	defer httpRes.Body.Close()

	body, err := io.ReadAll(httpRes.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	cres, err := route.Adapter.ParseResponse(body)
	if err != nil {
		return nil, err
	}

	cres.Model = publicModel

	r.settle(ctx, route, res, creq, cres, vk, publicModel, requestId, start)

	return &Result{Response: cres}, nil
}

// settle turns the upstream's reported usage into an actual cost, commits
// the reservation and records the usage. Missing usage counts are backed
// by local estimation and flagged as such on the record.
func (r *Router) settle(ctx context.Context, route *registry.Route, res *guard.Reservation, creq *chat.Request, cres *chat.Response, vk *key.VirtualKey, publicModel string, requestId string, start time.Time) {
	lg := util.GetLogFromCtx(ctx)

	usage := cres.Usage
	if usage == nil || usage.TotalTokens == 0 {
		usage = r.estimateUsage(route, creq, responseText(cres))
		cres.Usage = usage
	}

	cost := r.actualCost(ctx, route, usage)

	if err := r.guard.Commit(res, cost); err != nil {
		lg.Sugar().Debugf("failed to commit reservation: %v", err)
	}

	r.ledger.Record(&event.UsageRecord{
		Id:                   util.NewUuid(),
		RequestId:            requestId,
		CreatedAt:            time.Now().Unix(),
		KeyId:                vk.KeyId,
		Provider:             route.Setting.Provider,
		Model:                publicModel,
		PromptTokenCount:     usage.PromptTokens,
		CompletionTokenCount: usage.CompletionTokens,
		TotalTokenCount:      usage.TotalTokens,
		CostInUsd:            cost,
		Estimated:            usage.Estimated,
		Status:               event.StatusSuccess,
		LatencyInMs:          int(time.Since(start).Milliseconds()),
	}, vk.CostLimitInUsdUnit)

	tags := []string{"provider:" + route.Setting.Provider, "model:" + publicModel}
	telemetry.Incr("kubellm.router.requests.success", nil, 1)
	telemetry.Timing("kubellm.router.latency", time.Since(start), nil, 1)
	telemetry.Distribution("kubellm.router.tokens", float64(usage.TotalTokens), tags, 1)
	telemetry.Distribution("kubellm.router.cost_in_usd", cost, tags, 1)
}

func (r *Router) estimateUsage(route *registry.Route, creq *chat.Request, completionText string) *chat.Usage {
	promptTks := r.countPromptTokens(route, creq)

	completionTks := 0
	if counter, ok := r.counters[route.Setting.Provider]; ok {
		if tks, err := counter.Count(route.TargetModel, completionText); err == nil {
			completionTks = tks
		}
	}

	return &chat.Usage{
		PromptTokens:     promptTks,
		CompletionTokens: completionTks,
		TotalTokens:      promptTks + completionTks,
		Estimated:        true,
	}
}

func (r *Router) actualCost(ctx context.Context, route *registry.Route, usage *chat.Usage) float64 {
	if route.Setting.CostMap != nil {
		cost, err := estimateWithCostMap(route.TargetModel, usage.PromptTokens, usage.CompletionTokens, route.Setting.CostMap.PromptCostPerModel, route.Setting.CostMap.CompletionCostPerModel)
		if err == nil {
			return cost
		}
	}

	estimator, ok := r.estimators[route.Setting.Provider]
	if !ok {
		return 0
	}

	cost, err := estimator.EstimateTotalCost(route.TargetModel, usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		util.GetLogFromCtx(ctx).Sugar().Debugf("cannot price usage for model %s: %v", route.TargetModel, err)
		return 0
	}

	return cost
}

func (r *Router) recordFailure(vk *key.VirtualKey, route *registry.Route, model string, requestId string, start time.Time, status string) {
	if vk == nil {
		return
	}

	providerName := ""
	if route != nil {
		providerName = route.Setting.Provider
	}

	r.ledger.Record(&event.UsageRecord{
		Id:          util.NewUuid(),
		RequestId:   requestId,
		CreatedAt:   time.Now().Unix(),
		KeyId:       vk.KeyId,
		Provider:    providerName,
		Model:       model,
		Status:      status,
		LatencyInMs: int(time.Since(start).Milliseconds()),
	}, vk.CostLimitInUsdUnit)
}

func responseText(cres *chat.Response) string {
	text := ""
	for _, choice := range cres.Choices {
		text += choice.Message.Text()
	}

	return text
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return internal_errors.NewCancelledError("request cancelled by caller")
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return internal_errors.NewTimeoutError("upstream did not answer in time", internal_errors.RequestTimeout)
	}

	return internal_errors.NewProviderUnavailableError(fmt.Sprintf("cannot reach upstream: %v", err))
}
