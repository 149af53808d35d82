package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/interviewd/internal/transport"
)

// Run consumes transport events and runs the monitor until the session
// closes or ctx is cancelled. A non-nil error is always a *FatalError.
func (o *Orchestrator) Run(ctx context.Context, events <-chan transport.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The monitor has nothing to do once events stop flowing.
		defer cancel()
		return o.dispatch(gctx, events)
	})
	g.Go(func() error {
		select {
		case <-o.greeted:
		case <-o.closed:
			return nil
		case <-gctx.Done():
			return nil
		}
		return o.monitor.Run(gctx)
	})

	return g.Wait()
}

func (o *Orchestrator) dispatch(ctx context.Context, events <-chan transport.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.closed:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := o.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev transport.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = o.fail(ctx, trace.SpanFromContext(ctx), kindPanic, fmt.Errorf("panic handling %s event: %v", ev.Kind, r))
		}
	}()

	switch ev.Kind {
	case transport.EventConnected:
		if err := o.Connect(ctx); err != nil {
			return err
		}
		return o.advance(ctx)

	case transport.EventDisconnected:
		o.HandleDisconnect(ctx, ev.Remaining)
		return nil

	case transport.EventMessage:
		return o.handleMessage(ctx, ev.Envelope)
	}
	return nil
}

func (o *Orchestrator) handleMessage(ctx context.Context, env transport.Envelope) error {
	switch env.Type {
	case transport.TypeResponseSubmitted:
		var payload transport.ResponseSubmitted
		if err := decodeData(env, &payload); err != nil {
			o.logger.Debug("malformed response payload", "error", err)
			o.emit(ctx, transport.TypeMessage, transport.TextPayload{Text: didntCatch})
			return nil
		}
		res, err := o.submit(ctx, payload.Response, payload.QuestionIndex)
		if err != nil {
			return err
		}
		if !res.emitted {
			o.emit(ctx, transport.TypeMessage, transport.TextPayload{Text: res.text})
		}
		if !res.accepted {
			return nil
		}
		return o.advance(ctx)

	case transport.TypeRequestHint:
		o.ProvideHint(ctx)
		return nil

	case transport.TypeRequestClarification:
		var payload transport.ClarificationRequest
		if err := decodeData(env, &payload); err != nil {
			o.logger.Debug("malformed clarification payload", "error", err)
		}
		o.HandleClarification(ctx, payload.Request)
		return nil

	default:
		o.logger.Info("ignoring unknown envelope type", "type", env.Type)
		return nil
	}
}

// advance asks the next question, or concludes, and tells the participant
// when only a filler prompt was possible.
func (o *Orchestrator) advance(ctx context.Context) error {
	turn, err := o.AskNextQuestion(ctx)
	switch {
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrInvalidState):
		return nil
	case err != nil:
		return err
	}
	if turn.Question == nil && turn.Conclusion == nil && turn.Prompt != "" {
		o.emit(ctx, transport.TypeMessage, transport.TextPayload{Text: turn.Prompt})
	}
	return nil
}

func decodeData(env transport.Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, v)
}
