// Package check はソースURLのバックグラウンド可用性チェックを提供する。
// スケジューラとチェッカーを含む。
package check

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/prodsource/internal/metrics"
	"github.com/hitoshi/prodsource/internal/model"
	"github.com/hitoshi/prodsource/internal/repository"
	"github.com/hitoshi/prodsource/internal/security"
)

// userAgent は可用性チェックで使用するUser-Agent。
const userAgent = "Prodsource/1.0 Source Tracker"

// CheckerConfig はチェッカーの設定。
type CheckerConfig struct {
	Timeout time.Duration
	MaxSize int64
}

// Checker はソースURLの可用性チェックを実行する。
// 2xxを成功、それ以外とネットワークエラーを失敗として記録し、
// ソースのチェック状態とチェック履歴を更新する。
type Checker struct {
	sourceRepo repository.SourceRepository
	checkRepo  repository.SourceCheckRepository
	ssrfGuard  security.SSRFGuardService
	collector  metrics.MetricsCollector
	config     CheckerConfig
}

// NewChecker はCheckerの新しいインスタンスを生成する。
func NewChecker(
	sourceRepo repository.SourceRepository,
	checkRepo repository.SourceCheckRepository,
	ssrfGuard security.SSRFGuardService,
	collector metrics.MetricsCollector,
	config CheckerConfig,
) *Checker {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 5 * 1024 * 1024
	}
	return &Checker{
		sourceRepo: sourceRepo,
		checkRepo:  checkRepo,
		ssrfGuard:  ssrfGuard,
		collector:  collector,
		config:     config,
	}
}

// Check は指定ソースの可用性をチェックし、結果を永続化する。
// チェック自体の失敗（ネットワークエラー等）はソースのエラー状態として
// 記録され、このメソッドのエラーにはならない。
func (c *Checker) Check(ctx context.Context, source *model.Source) error {
	start := time.Now()

	ok, statusCode, checkErr := c.probe(ctx, source.URL)

	latency := time.Since(start)
	if c.collector != nil {
		c.collector.RecordCheckLatency(latency)
		if statusCode > 0 {
			c.collector.RecordCheckHTTPStatus(statusCode)
		}
		if ok {
			c.collector.RecordCheckSuccess(source.ID)
		} else {
			c.collector.RecordCheckFailure(source.ID, classifyFailure(statusCode, checkErr))
		}
	}

	now := time.Now()
	errMsg := ""
	if checkErr != nil {
		errMsg = checkErr.Error()
	} else if !ok {
		errMsg = fmt.Sprintf("HTTPステータス %d", statusCode)
	}

	// チェック履歴を記録
	check := &model.SourceCheck{
		ID:         uuid.New().String(),
		SourceID:   source.ID,
		CheckedAt:  now,
		OK:         ok,
		HTTPStatus: statusCode,
		Error:      errMsg,
	}
	if err := c.checkRepo.Create(ctx, check); err != nil {
		return fmt.Errorf("チェック履歴の記録に失敗しました: %w", err)
	}

	// ソースのチェック状態を更新
	if ok {
		source.CheckStatus = model.CheckStatusOK
		source.ErrorMessage = ""
	} else {
		source.CheckStatus = model.CheckStatusError
		source.ErrorMessage = errMsg
	}
	source.LastCheckedAt = &now

	if err := c.sourceRepo.UpdateCheckState(ctx, source); err != nil {
		return fmt.Errorf("チェック状態の更新に失敗しました: %w", err)
	}

	return nil
}

// probe はソースURLにGETリクエストを送信して可用性を判定する。
// 2xxをokとし、ボディは読み捨てる。
func (c *Checker) probe(ctx context.Context, rawURL string) (ok bool, statusCode int, err error) {
	if c.ssrfGuard != nil {
		if verr := c.ssrfGuard.ValidateURL(rawURL); verr != nil {
			return false, 0, fmt.Errorf("URLがセキュリティポリシーによりブロックされました")
		}
	}

	client := c.getHTTPClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false, 0, fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("接続に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	// ボディは読み捨て（コネクション再利用のため）
	io.Copy(io.Discard, io.LimitReader(resp.Body, c.config.MaxSize))

	ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	return ok, resp.StatusCode, nil
}

// getHTTPClient はHTTPクライアントを取得する。
func (c *Checker) getHTTPClient() *http.Client {
	if c.ssrfGuard != nil {
		return c.ssrfGuard.NewSafeClient(c.config.Timeout, c.config.MaxSize)
	}
	return &http.Client{Timeout: c.config.Timeout}
}

// classifyFailure は失敗理由をメトリクスラベル用に分類する。
func classifyFailure(statusCode int, err error) string {
	switch {
	case err != nil:
		return "network"
	case statusCode == 404 || statusCode == 410:
		return "gone"
	case statusCode == 401 || statusCode == 403:
		return "forbidden"
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	default:
		return "other"
	}
}
