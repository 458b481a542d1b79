package check

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
)

// SourceCheckerService はソースチェックの実行インターフェース。
type SourceCheckerService interface {
	// Check は指定ソースの可用性をチェックし、結果を永続化する。
	Check(ctx context.Context, source *model.Source) error
}

// Scheduler はソース可用性チェックのスケジューリングと並列制御を行う。
// ティッカーでチェック対象ソースを取得し、semaphoreパターンで
// 最大並列数を制御しながらチェックを実行する。
type Scheduler struct {
	sourceRepo     repository.SourceRepository
	checker        SourceCheckerService
	logger         *slog.Logger
	checkInterval  time.Duration
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	sourceRepo repository.SourceRepository,
	checker SourceCheckerService,
	logger *slog.Logger,
	checkInterval time.Duration,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	if checkInterval <= 0 {
		checkInterval = 15 * time.Minute
	}
	return &Scheduler{
		sourceRepo:     sourceRepo,
		checker:        checker,
		logger:         logger,
		checkInterval:  checkInterval,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("チェックスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("チェックサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("チェックスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("チェックサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はチェック対象ソースを1回取得し、並列でチェックを実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// チェック対象ソースを取得（FOR UPDATE SKIP LOCKED）
	sources, err := s.sourceRepo.ListDueForCheck(ctx, s.checkInterval)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		s.logger.Info("チェック対象のソースはありません")
		return nil
	}

	s.logger.Info("チェックサイクルを開始します",
		slog.Int("source_count", len(sources)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, source := range sources {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(src *model.Source) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.checker.Check(ctx, src); err != nil {
				s.logger.Error("ソースチェックに失敗しました",
					slog.String("source_id", src.ID),
					slog.String("url", src.URL),
					slog.String("error", err.Error()),
				)
			}
		}(source)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("チェックサイクルが完了しました",
		slog.Int("source_count", len(sources)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
