package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/cmibot/internal/domain"
)

// ExecutionPublisher fans basket executions out to the signal bus. It
// publishes on ChannelExec and appends to StreamExecs.
type ExecutionPublisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewExecutionPublisher creates an ExecutionPublisher.
func NewExecutionPublisher(bus domain.SignalBus, logger *slog.Logger) *ExecutionPublisher {
	return &ExecutionPublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "exec_publisher")),
	}
}

// RecordExecution publishes exec. Bus failures are logged only.
func (p *ExecutionPublisher) RecordExecution(ctx context.Context, exec domain.Execution) {
	payload, err := json.Marshal(exec)
	if err != nil {
		p.logger.Error("marshal execution", slog.String("id", exec.ID), slog.String("error", err.Error()))
		return
	}
	if err := p.bus.Publish(ctx, ChannelExec, payload); err != nil {
		p.logger.Warn("publish execution", slog.String("id", exec.ID), slog.String("error", err.Error()))
	}
	if err := p.bus.StreamAppend(ctx, StreamExecs, payload); err != nil {
		p.logger.Warn("append execution", slog.String("id", exec.ID), slog.String("error", err.Error()))
	}
}

// ExecutionSink receives executions observed on the bus.
type ExecutionSink interface {
	RecordExecution(ctx context.Context, exec domain.Execution)
}

var errExecSubscriptionClosed = errors.New("redis: execution subscription closed")

// replayPage is the XREAD batch size used while replaying StreamExecs.
const replayPage = 100

// ExecutionFollower mirrors executions published by another process. Run
// first replays the newest entries of StreamExecs, then follows ChannelExec.
type ExecutionFollower struct {
	bus    domain.SignalBus
	sink   ExecutionSink
	replay int
	logger *slog.Logger
}

// NewExecutionFollower creates an ExecutionFollower that replays at most
// replay executions before following live ones.
func NewExecutionFollower(bus domain.SignalBus, sink ExecutionSink, replay int, logger *slog.Logger) *ExecutionFollower {
	return &ExecutionFollower{
		bus:    bus,
		sink:   sink,
		replay: replay,
		logger: logger.With(slog.String("component", "exec_follower")),
	}
}

// Run blocks until ctx is done or the subscription ends.
func (f *ExecutionFollower) Run(ctx context.Context) error {
	// Subscribe before replaying so nothing published in between is lost;
	// executions seen in both are delivered once.
	live, err := f.bus.Subscribe(ctx, ChannelExec)
	if err != nil {
		return err
	}

	replayed := f.replayRecent(ctx)
	f.logger.Info("following executions", slog.Int("replayed", len(replayed)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-live:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errExecSubscriptionClosed
			}
			exec, ok := f.decode(payload)
			if !ok {
				continue
			}
			if _, dup := replayed[exec.ID]; dup {
				delete(replayed, exec.ID)
				continue
			}
			f.sink.RecordExecution(ctx, exec)
		}
	}
}

// replayRecent reads StreamExecs to the end, keeps the newest f.replay
// entries and hands them to the sink oldest first. Read failures end the
// replay early.
func (f *ExecutionFollower) replayRecent(ctx context.Context) map[string]struct{} {
	seen := make(map[string]struct{})
	if f.replay <= 0 {
		return seen
	}

	var tail []domain.Execution
	lastID := "0"
	for {
		msgs, err := f.bus.StreamRead(ctx, StreamExecs, lastID, replayPage)
		if err != nil {
			f.logger.Warn("execution replay failed", slog.String("error", err.Error()))
			break
		}
		for _, m := range msgs {
			if exec, ok := f.decode(m.Payload); ok {
				tail = append(tail, exec)
			}
			lastID = m.ID
		}
		if over := len(tail) - f.replay; over > 0 {
			tail = append(tail[:0:0], tail[over:]...)
		}
		if len(msgs) < replayPage {
			break
		}
	}

	for _, exec := range tail {
		seen[exec.ID] = struct{}{}
		f.sink.RecordExecution(ctx, exec)
	}
	return seen
}

func (f *ExecutionFollower) decode(payload []byte) (domain.Execution, bool) {
	var exec domain.Execution
	if err := json.Unmarshal(payload, &exec); err != nil {
		f.logger.Warn("dropping malformed execution", slog.String("error", err.Error()))
		return domain.Execution{}, false
	}
	return exec, true
}
