// Package source はソース登録・管理のドメインロジックを提供する。
package source

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/prodsource/internal/model"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// userAgent はソース検査・チェックで使用するUser-Agent。
const userAgent = "Prodsource/1.0 Source Tracker"

// maxInspectBodySize は検査時に読み込むレスポンスボディの最大サイズ（5MB）。
const maxInspectBodySize = 5 * 1024 * 1024

// FeedType はフィードの種類（RSS/Atom）を表す。
type FeedType string

const (
	// FeedTypeRSS はRSSフィード。
	FeedTypeRSS FeedType = "rss"
	// FeedTypeAtom はAtomフィード。
	FeedTypeAtom FeedType = "atom"
)

// FeedCandidate はHTMLから検出されたフィード候補を表す。
type FeedCandidate struct {
	URL      string
	FeedType FeedType
	Title    string
}

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// InspectionResult はソースURLの検査結果。
// フィードとfaviconは見つからなくてもエラーにはならない。
type InspectionResult struct {
	// Title はページタイトルまたはフィードタイトル。検出できない場合は空。
	Title string
	// FeedURL は自動検出されたフィードURL。検出できない場合はnil。
	FeedURL *string
	// FaviconData は取得したfaviconのバイナリ。取得できない場合はnil。
	FaviconData []byte
	// FaviconMime はfaviconのMIMEタイプ。
	FaviconMime string
}

// Inspector はソースURLの検査機能を提供する。
// URLの内容を取得してタイトル・フィードURL・faviconを自動検出する。
type Inspector struct {
	ssrfGuard SSRFValidator
	favicons  FaviconFetcherService
	timeout   time.Duration
}

// NewInspector はInspectorの新しいインスタンスを生成する。
func NewInspector(ssrfGuard SSRFValidator, favicons FaviconFetcherService, timeout time.Duration) *Inspector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Inspector{
		ssrfGuard: ssrfGuard,
		favicons:  favicons,
		timeout:   timeout,
	}
}

// Inspect はソースURLを検査する。
// 1. SSRF検証を実行
// 2. URLにHTTPリクエストを送信
// 3. フィードの場合: gofeedで解析してタイトルを取得、URL自体をフィードURLとする
// 4. HTMLの場合: titleタグとheadタグ内のフィードリンクを検出
// 5. faviconを取得（失敗しても検査自体は成功）
//
// URLへの到達自体が失敗した場合のみエラーを返す。
func (i *Inspector) Inspect(ctx context.Context, inputURL string) (*InspectionResult, error) {
	if inputURL == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}

	if i.ssrfGuard != nil {
		if err := i.ssrfGuard.ValidateURL(inputURL); err != nil {
			return nil, model.NewSSRFBlockedError()
		}
	}

	client := i.getHTTPClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewFetchFailedError("HTTPステータス " + resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInspectBodySize))
	if err != nil {
		return nil, model.NewFetchFailedError("レスポンスの読み取りに失敗しました")
	}

	result := &InspectionResult{}
	contentType := resp.Header.Get("Content-Type")

	if isDirectFeed(contentType, body) {
		// URL自体がフィード: gofeedで解析してタイトルを取得
		parsed, perr := gofeed.NewParser().ParseString(string(body))
		if perr == nil && parsed != nil {
			result.Title = parsed.Title
		}
		feedURL := inputURL
		result.FeedURL = &feedURL
	} else if isHTMLContentType(contentType) {
		result.Title = extractHTMLTitle(body)
		candidates := parseFeedLinksFromHTML(body, inputURL)
		if best := selectBestFeed(candidates, inputURL); best != nil {
			feedURL := best.URL
			result.FeedURL = &feedURL
		}
	}

	// favicon取得は失敗しても検査全体は成功扱い
	if i.favicons != nil {
		data, mimeType, _ := i.favicons.FetchFaviconForSite(ctx, inputURL)
		result.FaviconData = data
		result.FaviconMime = mimeType
	}

	return result, nil
}

// getHTTPClient はHTTPクライアントを取得する。
// SSRFGuardが設定されている場合はSSRF防止付きクライアントを返す。
func (i *Inspector) getHTTPClient() *http.Client {
	if i.ssrfGuard != nil {
		return i.ssrfGuard.NewSafeClient(i.timeout, maxInspectBodySize)
	}
	return &http.Client{Timeout: i.timeout}
}

// feedContentTypes はフィードとして認識するContent-Typeのリスト。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// xmlContentTypes はXMLとして認識するContent-Type（ボディ解析が必要）。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// isDirectFeed はContent-Typeとボディを解析して、
// レスポンスがRSS/Atomフィードかどうかを判定する。
func isDirectFeed(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	for _, feedCT := range feedContentTypes {
		if mediaType == feedCT {
			return true
		}
	}

	isXML := false
	for _, xmlCT := range xmlContentTypes {
		if mediaType == xmlCT {
			isXML = true
			break
		}
	}

	if !isXML || len(body) == 0 {
		return false
	}

	return isRSSOrAtomXML(body)
}

// isRSSOrAtomXML はXMLボディの先頭部分を解析してRSS/Atomフィードかを判定する。
func isRSSOrAtomXML(body []byte) bool {
	// 先頭4KBを検査（XMLプロローグ + ルート要素が含まれるのに十分）
	checkSize := 4096
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))

	if strings.Contains(prefix, "<rss") {
		return true
	}
	if strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	if strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom") {
		return true
	}

	return false
}

// isHTMLContentType はContent-TypeがHTMLかを判定する。
func isHTMLContentType(contentType string) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	return strings.Contains(strings.ToLower(mediaType), "html")
}

// extractHTMLTitle はHTMLのtitleタグからページタイトルを抽出する。
func extractHTMLTitle(htmlBody []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inTitle := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
			if string(tn) == "body" {
				return ""
			}

		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" || string(tn) == "head" {
				return ""
			}
		}
	}
}

// parseFeedLinksFromHTML はHTMLのheadタグからRSS/Atomフィードリンクを解析・検出する。
// 相対URLはbaseURLを基準に絶対URLに解決される。
func parseFeedLinksFromHTML(htmlBody []byte, baseURL string) []FeedCandidate {
	var candidates []FeedCandidate

	baseU, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}

			if tagName == "body" {
				// bodyに入ったらheadの解析を終了
				return candidates
			}

			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			// link要素の属性を解析
			var rel, linkType, href, title string
			for {
				key, val, more := tokenizer.TagAttr()
				k := strings.ToLower(string(key))
				v := string(val)
				switch k {
				case "rel":
					rel = strings.ToLower(v)
				case "type":
					linkType = strings.ToLower(v)
				case "href":
					href = v
				case "title":
					title = v
				}
				if !more {
					break
				}
			}

			// rel="alternate" かつ RSS/Atom Content-Type のリンクのみ対象
			if rel != "alternate" || href == "" {
				continue
			}

			var feedType FeedType
			switch linkType {
			case "application/rss+xml":
				feedType = FeedTypeRSS
			case "application/atom+xml":
				feedType = FeedTypeAtom
			default:
				continue
			}

			// 相対URLを絶対URLに解決
			resolvedURL := resolveURL(baseU, href)
			if resolvedURL == "" {
				continue
			}

			candidates = append(candidates, FeedCandidate{
				URL:      resolvedURL,
				FeedType: feedType,
				Title:    title,
			})

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return candidates
			}
		}
	}
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// selectBestFeed は複数のフィード候補から優先順位に従って最適なフィードを選択する。
// 優先順位: 同一ホスト > Atom > RSS > 先頭
func selectBestFeed(candidates []FeedCandidate, inputURL string) *FeedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	inputHost := extractHost(inputURL)

	// スコアリング: 同一ホスト(+100) + Atom(+10) + 先頭優先
	bestIdx := 0
	bestScore := -1

	for i, c := range candidates {
		score := 0

		candidateHost := extractHost(c.URL)
		if candidateHost == inputHost {
			score += 100
		}

		if c.FeedType == FeedTypeAtom {
			score += 10
		}

		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	return &candidates[bestIdx]
}

// extractHost はURLからホスト名を抽出する。
func extractHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
