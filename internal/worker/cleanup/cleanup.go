// Package cleanup はチェック履歴の自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したsource_checksを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/prodsource/internal/repository"
)

// CleanupJob は保持期間を超過したチェック履歴の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	checkRepo     repository.SourceCheckRepository
	logger        *slog.Logger
	RetentionDays int // チェック履歴の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(checkRepo repository.SourceCheckRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		checkRepo:     checkRepo,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過したチェック履歴を削除する。
// checked_atがRetentionDays日前より古い行をDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.checkRepo.DeleteOlderThan(ctx, before)
	if err != nil {
		j.logger.Error("チェック履歴クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("チェック履歴クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("チェック履歴クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
