package router

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/kubellm/kubellm/internal/chat"
	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/event"
	"github.com/kubellm/kubellm/internal/guard"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/kubellm/kubellm/internal/registry"
	"github.com/kubellm/kubellm/internal/telemetry"
	"github.com/kubellm/kubellm/internal/util"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// Stream reads translated chunks off an upstream event stream. The spend
// reservation stays open while the stream is live; Close settles it
// exactly once with whatever usage the stream produced, so callers must
// always Close, including after an error or a client disconnect.
type Stream struct {
	r      *Router
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	sc     *bufio.Scanner
	route  *registry.Route
	res    *guard.Reservation
	creq   *chat.Request
	vk     *key.VirtualKey

	publicModel string
	requestId   string
	start       time.Time

	promptTks     int
	completionTks int
	usageReported bool
	content       strings.Builder

	finished bool
	failed   bool
	settled  bool
}

func newStream(r *Router, ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, route *registry.Route, res *guard.Reservation, creq *chat.Request, vk *key.VirtualKey, publicModel string, requestId string, start time.Time) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 4096), 1024*1024)

	return &Stream{
		r:      r,
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		sc:     sc,
		route:  route,
		res:    res,
		creq:   creq,
		vk:     vk,

		publicModel: publicModel,
		requestId:   requestId,
		start:       start,
	}
}

// Next returns the next caller visible chunk, io.EOF when the stream is
// complete, or a typed error when it breaks mid-flight.
func (s *Stream) Next() (*chat.Chunk, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			return nil, s.fail(classifyContextError(err))
		}

		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return nil, s.fail(classifyTransportError(s.ctx, err))
			}

			s.finished = true
			return nil, io.EOF
		}

		line := s.sc.Bytes()
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			continue
		}

		if bytes.Equal(payload, doneSentinel) {
			s.finished = true
			return nil, io.EOF
		}

		chunk, err := s.route.Adapter.ParseChunk(payload)
		if err != nil {
			return nil, s.fail(err)
		}

		if chunk == nil {
			continue
		}

		s.observe(chunk)
		chunk.Model = s.publicModel

		return chunk, nil
	}
}

func classifyContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return internal_errors.NewTimeoutError("stream exceeded the request timeout", internal_errors.RequestTimeout)
	}

	return internal_errors.NewCancelledError("request cancelled by caller")
}

func (s *Stream) observe(chunk *chat.Chunk) {
	if chunk.Usage != nil {
		if chunk.Usage.PromptTokens > 0 {
			s.promptTks = chunk.Usage.PromptTokens
			s.usageReported = true
		}

		if chunk.Usage.CompletionTokens > 0 {
			s.completionTks = chunk.Usage.CompletionTokens
			s.usageReported = true
		}
	}

	for _, choice := range chunk.Choices {
		s.content.WriteString(choice.Delta.Content)
	}
}

func (s *Stream) fail(err error) error {
	s.failed = true
	return err
}

// Close settles the reservation. A completed stream commits actual cost
// and a cancelled one commits the partial generation delivered before
// the cut, so partial generations still count against budgets. A broken
// stream releases the hold and records its partial tokens at zero cost,
// matching the non-streaming failure path.
func (s *Stream) Close() error {
	if s.settled {
		return nil
	}
	s.settled = true

	defer s.cancel()
	defer s.body.Close()

	lg := util.GetLogFromCtx(s.ctx)

	status := event.StatusSuccess
	switch {
	case s.finished:
	case errors.Is(s.ctx.Err(), context.DeadlineExceeded):
		status = event.StatusFailed
	case errors.Is(s.ctx.Err(), context.Canceled):
		status = event.StatusCancelled
	case s.failed:
		status = event.StatusFailed
	default:
		status = event.StatusCancelled
	}

	usage := s.usage()

	cost := 0.0
	if status == event.StatusFailed {
		if err := s.r.guard.Release(s.res); err != nil {
			lg.Sugar().Debugf("failed to release stream reservation: %v", err)
		}
	} else {
		cost = s.r.actualCost(s.ctx, s.route, usage)
		if err := s.r.guard.Commit(s.res, cost); err != nil {
			lg.Sugar().Debugf("failed to commit stream reservation: %v", err)
		}
	}

	s.r.ledger.Record(&event.UsageRecord{
		Id:                   util.NewUuid(),
		RequestId:            s.requestId,
		CreatedAt:            time.Now().Unix(),
		KeyId:                s.vk.KeyId,
		Provider:             s.route.Setting.Provider,
		Model:                s.publicModel,
		PromptTokenCount:     usage.PromptTokens,
		CompletionTokenCount: usage.CompletionTokens,
		TotalTokenCount:      usage.TotalTokens,
		CostInUsd:            cost,
		Estimated:            usage.Estimated,
		Status:               status,
		LatencyInMs:          int(time.Since(s.start).Milliseconds()),
	}, s.vk.CostLimitInUsdUnit)

	if status == event.StatusSuccess {
		telemetry.Incr("kubellm.router.requests.success", nil, 1)
	} else {
		telemetry.Incr("kubellm.router.stream.interrupted", nil, 1)
	}

	tags := []string{"provider:" + s.route.Setting.Provider, "model:" + s.publicModel}
	telemetry.Timing("kubellm.router.latency", time.Since(s.start), nil, 1)
	telemetry.Distribution("kubellm.router.tokens", float64(usage.TotalTokens), tags, 1)
	telemetry.Distribution("kubellm.router.cost_in_usd", cost, tags, 1)

	return nil
}

// usage prefers counts the provider reported on the wire; otherwise it
// estimates from the prompt and the content seen so far.
func (s *Stream) usage() *chat.Usage {
	if s.usageReported {
		return &chat.Usage{
			PromptTokens:     s.promptTks,
			CompletionTokens: s.completionTks,
			TotalTokens:      s.promptTks + s.completionTks,
		}
	}

	promptTks := s.r.countPromptTokens(s.route, s.creq)

	completionTks := 0
	if counter, ok := s.r.counters[s.route.Setting.Provider]; ok {
		if tks, err := counter.Count(s.route.TargetModel, s.content.String()); err == nil {
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
