package redis

import (
	"context"
	"errors"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// OpObserver receives one observation per Redis command or pipeline.
type OpObserver interface {
	ObserveRedisOp(operation, status string, duration time.Duration)
	ObserveRedisDialError()
}

// MetricsHook implements goredis.Hook and reports every operation to an OpObserver.
type MetricsHook struct {
	obs OpObserver
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(obs OpObserver) *MetricsHook {
	return &MetricsHook{obs: obs}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.obs.ObserveRedisDialError()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.obs.ObserveRedisOp(cmd.Name(), opStatus(err), time.Since(start))
		return err
	}
}

func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.obs.ObserveRedisOp("pipeline", opStatus(err), time.Since(start))
		return err
	}
}

// opStatus treats a missing key as success.
func opStatus(err error) string {
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "error"
	}
	return "success"
}
