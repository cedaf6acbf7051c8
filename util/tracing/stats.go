package tracing

import (
	"context"
	"time"

	"github.com/ordishs/gocore"
)

type statsKey struct{}

var defaultStat = gocore.NewStat("nodekeeper", true)

func newStatFromContext(ctx context.Context, key string, defaultParent *gocore.Stat) (time.Time, *gocore.Stat, context.Context) {
	parentStat, ok := ctx.Value(statsKey{}).(*gocore.Stat)
	if !ok {
		parentStat = defaultParent
	}

	stat := parentStat.NewStat(key, true)

	return gocore.CurrentTime(), stat, context.WithValue(ctx, statsKey{}, stat)
}
