package util

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type logKey struct{}

func NewUuid() string {
	return uuid.New().String()
}

func SetLogToCtx(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, log)
}

func GetLogFromCtx(ctx context.Context) *zap.Logger {
	log, ok := ctx.Value(logKey{}).(*zap.Logger)
	if !ok || log == nil {
		return zap.NewNop()
	}

	return log
}
