// Package cleanup は期限切れの進行中ログインとセッションを定期的に削除するジョブを提供する。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval は掃除ジョブの既定の実行間隔。
const DefaultInterval = time.Minute

// Sweeper は期限切れエントリを削除し、削除件数を返すレジストリ。
type Sweeper interface {
	Sweep() int
}

// Target は掃除対象のレジストリと、ログに出す名前の組。
type Target struct {
	Name     string
	Registry Sweeper
}

// CleanupJob はメモリ上のレジストリから期限切れエントリを削除するジョブ。
// 各レジストリはアクセス時にも期限を判定するため、このジョブは
// 一度も参照されないエントリがメモリに残り続けるのを防ぐ。
type CleanupJob struct {
	targets  []Target
	logger   *slog.Logger
	Interval time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
// loggerがnilの場合はslog.Default()を使用する。
func NewCleanupJob(logger *slog.Logger, targets ...Target) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		targets:  targets,
		logger:   logger,
		Interval: DefaultInterval,
	}
}

// RunOnce は全レジストリを1回掃除し、削除した合計件数を返す。
func (j *CleanupJob) RunOnce() int {
	start := time.Now()
	total := 0

	for _, t := range j.targets {
		if t.Registry == nil {
			continue
		}
		removed := t.Registry.Sweep()
		total += removed
		if removed > 0 {
			j.logger.Debug("expired entries swept",
				slog.String("registry", t.Name),
				slog.Int("removed", removed),
			)
		}
	}

	if total > 0 {
		j.logger.Info("cleanup job completed",
			slog.Int("removed_count", total),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
	}
	return total
}

// Start はIntervalごとにRunOnceを実行する。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context) {
	interval := j.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("cleanup job started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("cleanup job stopped")
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}
