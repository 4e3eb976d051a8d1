package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/anpi/internal/model"
)

const (
	defaultSlackAPIBase = "https://slack.com/api"
	// BroadcastMention は全体通知のメンション。
	BroadcastMention = "<!here>"
	demoPrefix       = "[DEMO] "
)

// UserMention は個人宛メンションを返す。
func UserMention(slackUserID string) string {
	return "<@" + slackUserID + ">"
}

// Message は送信するメッセージ1件。
type Message struct {
	Text     string
	Mentions []string
	// UserID が設定されていればBotトークンでDMを送る。
	UserID string
	// Channel が空または"dm"の場合は既定チャンネルに送る。
	Channel  string
	ThreadTS string
	// Interactive が true の場合は回答ボタンを付ける。
	Interactive bool
}

// Delivery は送信結果。
type Delivery struct {
	Channel string
	TS      string
	Via     string
}

// Sink は通知の送信先。
type Sink interface {
	Send(ctx context.Context, msg Message) (Delivery, error)
	PostThreadReply(ctx context.Context, channel, threadTS, text string) error
}

// SlackConfig はSlack送信の設定。
type SlackConfig struct {
	BotToken   string
	ChannelID  string
	WebhookURL string
	// APIBaseURL は主にテストで差し替える。空なら https://slack.com/api。
	APIBaseURL string
	DemoMode   bool
	// SendRate は1秒あたりの送信数の上限。0以下なら制限しない。
	SendRate float64
	Retry    RetryConfig
}

// SlackSink はBotトークン（DM・チャンネル投稿）またはIncoming Webhookで送信するSink。
type SlackSink struct {
	cfg        SlackConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewSlackSink はSlackSinkを生成する。
func NewSlackSink(cfg SlackConfig, httpClient *http.Client, logger *slog.Logger) *SlackSink {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultSlackAPIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), 1)
	}
	return &SlackSink{cfg: cfg, httpClient: httpClient, limiter: limiter, logger: logger}
}

// Configured は送信先が1つ以上設定されているかを返す。
func (s *SlackSink) Configured() bool {
	return s.cfg.BotToken != "" || s.cfg.WebhookURL != ""
}

// Send はメッセージを送信する。
// Botトークンがあれば DM（UserID指定時）またはチャンネルに投稿し、無ければWebhookに送る。
// どちらも無い場合は設定エラーを返す。
func (s *SlackSink) Send(ctx context.Context, msg Message) (Delivery, error) {
	text := s.compose(msg)

	if s.cfg.BotToken != "" {
		channel := msg.Channel
		if channel == "" || channel == model.DefaultChannel {
			channel = s.cfg.ChannelID
		}
		if msg.UserID != "" {
			dm, err := s.openDM(ctx, msg.UserID)
			if err != nil {
				return Delivery{}, err
			}
			channel = dm
		}
		if channel != "" {
			ts, err := s.postMessage(ctx, channel, msg.ThreadTS, text, msg.Interactive)
			if err != nil {
				return Delivery{}, err
			}
			return Delivery{Channel: channel, TS: ts, Via: "bot"}, nil
		}
	}

	if s.cfg.WebhookURL != "" {
		if err := s.postWebhook(ctx, text); err != nil {
			return Delivery{}, err
		}
		return Delivery{Via: "webhook"}, nil
	}

	return Delivery{}, model.NewNoSinkConfiguredError()
}

// PostThreadReply はスレッドに返信する。Botトークンが無い場合はWebhookに本文のみ送る。
func (s *SlackSink) PostThreadReply(ctx context.Context, channel, threadTS, text string) error {
	if s.cfg.BotToken != "" && channel != "" {
		_, err := s.postMessage(ctx, channel, threadTS, s.compose(Message{Text: text}), false)
		return err
	}
	if s.cfg.WebhookURL != "" {
		return s.postWebhook(ctx, s.compose(Message{Text: text}))
	}
	return model.NewNoSinkConfiguredError()
}

func (s *SlackSink) compose(msg Message) string {
	var b strings.Builder
	if s.cfg.DemoMode {
		b.WriteString(demoPrefix)
	}
	if len(msg.Mentions) > 0 {
		b.WriteString(strings.Join(msg.Mentions, " "))
		b.WriteString("\n")
	}
	b.WriteString(msg.Text)
	return b.String()
}

// slackResponse はWeb APIの共通レスポンス。
type slackResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	TS      string `json:"ts,omitempty"`
	Channel any    `json:"channel,omitempty"`
}

type openResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
}

type textObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type blockElement struct {
	Type     string     `json:"type"`
	Text     textObject `json:"text"`
	Style    string     `json:"style,omitempty"`
	Value    string     `json:"value"`
	ActionID string     `json:"action_id"`
}

type block struct {
	Type     string         `json:"type"`
	Text     *textObject    `json:"text,omitempty"`
	Elements []blockElement `json:"elements,omitempty"`
}

type postMessageRequest struct {
	Channel  string  `json:"channel"`
	Text     string  `json:"text"`
	ThreadTS string  `json:"thread_ts,omitempty"`
	Blocks   []block `json:"blocks,omitempty"`
}

// Action IDs of the answer buttons.
const (
	ActionReportSafe = "report_safe"
	ActionReportHelp = "report_help"
)

// answerBlocks は本文と回答ボタンのBlock Kitを組み立てる。
func answerBlocks(text string) []block {
	return []block{
		{Type: "section", Text: &textObject{Type: "mrkdwn", Text: text}},
		{Type: "actions", Elements: []blockElement{
			{
				Type:     "button",
				Text:     textObject{Type: "plain_text", Text: "✅ 無事です", Emoji: true},
				Style:    "primary",
				Value:    string(model.ResponseSafe),
				ActionID: ActionReportSafe,
			},
			{
				Type:     "button",
				Text:     textObject{Type: "plain_text", Text: "⚠️ 助けが必要", Emoji: true},
				Style:    "danger",
				Value:    string(model.ResponseHelp),
				ActionID: ActionReportHelp,
			},
		}},
	}
}

func (s *SlackSink) openDM(ctx context.Context, userID string) (string, error) {
	var resp openResponse
	if err := s.callAPI(ctx, "conversations.open", map[string]string{"users": userID}, &resp); err != nil {
		return "", err
	}
	if !resp.OK || resp.Channel.ID == "" {
		return "", fmt.Errorf("slack conversations.open failed: %s", valueOr(resp.Error, "unknown"))
	}
	return resp.Channel.ID, nil
}

func (s *SlackSink) postMessage(ctx context.Context, channel, threadTS, text string, interactive bool) (string, error) {
	req := postMessageRequest{Channel: channel, Text: text, ThreadTS: threadTS}
	if interactive {
		req.Blocks = answerBlocks(text)
	}
	var resp slackResponse
	if err := s.callAPI(ctx, "chat.postMessage", req, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("slack chat.postMessage failed: %s", valueOr(resp.Error, "unknown"))
	}
	return resp.TS, nil
}

// callAPI はWeb APIを呼び出す。送信レートの制限と一時的な障害の再試行を行う。
func (s *SlackSink) callAPI(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("リクエストのJSON変換に失敗しました: %w", err)
	}
	return withRetry(ctx, s.cfg.Retry, s.logger, method, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIBaseURL+"/"+method, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("リクエスト作成に失敗しました: %w", err)
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)

		raw, err := s.do(req)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("slack %s のレスポンス解析に失敗しました: %w", method, err)
		}
		// ratelimited はボディで返るため再試行対象としてエラーにする
		if r, ok := out.(*slackResponse); ok && r.Error == "ratelimited" {
			return fmt.Errorf("slack %s: ratelimited", method)
		}
		return nil
	})
}

func (s *SlackSink) postWebhook(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("リクエストのJSON変換に失敗しました: %w", err)
	}
	return withRetry(ctx, s.cfg.Retry, s.logger, "webhook", func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("リクエスト作成に失敗しました: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		_, err = s.do(req)
		return err
	})
}

// do はリクエストを送信し、2xx以外をエラーとして返す。
func (s *SlackSink) do(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("slack response read failed: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("slack http 429: too many requests")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("slack http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

var _ Sink = (*SlackSink)(nil)
