package provider

import (
	"context"
	"log/slog"

	"github.com/bawdo/relq/exec"
)

// loggingRuntime logs every command it runs at debug level.
type loggingRuntime struct {
	exec.Runtime
	logger *slog.Logger
}

// loggingBatchRuntime keeps the batch capability of the runtime it wraps.
type loggingBatchRuntime struct {
	loggingRuntime
	batch exec.BatchRuntime
}

func newLoggingRuntime(rt exec.Runtime, logger *slog.Logger) exec.Runtime {
	lr := loggingRuntime{Runtime: rt, logger: logger}
	if br, ok := rt.(exec.BatchRuntime); ok {
		return &loggingBatchRuntime{loggingRuntime: lr, batch: br}
	}
	return &lr
}

func paramNames(cmd *exec.Command) []string {
	names := make([]string, len(cmd.Params))
	for i, p := range cmd.Params {
		names[i] = p.Name
	}
	return names
}

func (r *loggingRuntime) log(ctx context.Context, p exec.Prepared) {
	if !r.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	cmd := p.Command()
	r.logger.DebugContext(ctx, "relq: command", "text", cmd.Text, "params", paramNames(cmd))
}

func (r *loggingRuntime) Execute(ctx context.Context, p exec.Prepared, values []any) (exec.Cursor, error) {
	r.log(ctx, p)
	return r.Runtime.Execute(ctx, p, values)
}

func (r *loggingRuntime) ExecuteNonQuery(ctx context.Context, p exec.Prepared, values []any) (int64, error) {
	r.log(ctx, p)
	return r.Runtime.ExecuteNonQuery(ctx, p, values)
}

func (r *loggingBatchRuntime) ExecuteBatch(ctx context.Context, p exec.Prepared, values [][]any, batchSize int) ([]exec.BatchResult, error) {
	r.log(ctx, p)
	r.logger.DebugContext(ctx, "relq: batch", "items", len(values), "size", batchSize)
	return r.batch.ExecuteBatch(ctx, p, values, batchSize)
}
