package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/internal/journal"
	"github.com/betbot/unitrade/internal/metrics"
)

// transition 记录一笔订单的状态迁移
type transition struct {
	c   *Coordinator
	log *logrus.Entry
	rec journal.Record
}

// to 用于提交前的迁移：日志写不进去就不下单
func (t *transition) to(ctx context.Context, state domain.OrderState, detail string) error {
	t.rec.State = state
	t.c.opts.Metrics.ObserveOrder(t.rec.Exchange, state)
	if err := t.c.opts.Journal.Record(ctx, t.rec, detail); err != nil {
		metrics.JournalErrors.Add(1)
		t.log.WithError(err).Errorf("journal %s failed, aborting before submission", state)
		return fmt.Errorf("journal %s: %w", state, err)
	}
	return nil
}

// record 用于提交后的迁移：订单可能已经落地，日志失败只告警
func (t *transition) record(ctx context.Context, state domain.OrderState, detail string) {
	t.rec.State = state
	t.c.opts.Metrics.ObserveOrder(t.rec.Exchange, state)
	if err := t.c.opts.Journal.Record(context.WithoutCancel(ctx), t.rec, detail); err != nil {
		metrics.JournalErrors.Add(1)
		t.log.WithError(err).Errorf("journal %s failed", state)
	}
}

func (t *transition) fail(ctx context.Context, out Outcome, err error) (Outcome, error) {
	out.State = domain.StateFailed
	t.rec.Error = errorOrNil(err)
	t.record(ctx, domain.StateFailed, err.Error())
	t.log.WithError(err).Warn("order failed")
	return out, err
}
