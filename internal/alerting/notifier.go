package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bullion-pipeline/internal/pipeline"
)

// Notification 封装日报告警上下文。
type Notification struct {
	Asset         string
	Date          string
	Observations  int
	OpenPrice     decimal.Decimal
	ClosePrice    decimal.Decimal
	HighPrice     decimal.Decimal
	LowPrice      decimal.Decimal
	PercentChange decimal.Decimal
	ThresholdPct  decimal.Decimal
	Trend         pipeline.Trend
	Channels      []string
	AdditionalMsg string
}

// NewNotification builds a notification from a finished daily report.
func NewNotification(report pipeline.DailyReport, threshold decimal.Decimal, channels []string) Notification {
	return Notification{
		Asset:         report.Asset,
		Date:          report.Date,
		Observations:  report.Observations,
		OpenPrice:     report.OpenPrice.Decimal,
		ClosePrice:    report.ClosePrice.Decimal,
		HighPrice:     report.HighPrice.Decimal,
		LowPrice:      report.LowPrice.Decimal,
		PercentChange: report.PercentChange.Decimal,
		ThresholdPct:  threshold,
		Trend:         report.Trend,
		Channels:      channels,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("date", note.Date).
		Str("trend", string(note.Trend)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier writes the alert to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered message at warn level.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().
		Str("asset", note.Asset).
		Str("date", note.Date).
		Str("percent_change", note.PercentChange.String()).
		Str("threshold_pct", note.ThresholdPct.String()).
		Str("trend", string(note.Trend)).
		Msg(renderMessage(note))
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s Daily Alert]\n", strings.ToUpper(note.Asset)))
	builder.WriteString(fmt.Sprintf("Date: %s UTC\n", note.Date))
	builder.WriteString(fmt.Sprintf("Open: %s  Close: %s (per 10g)\n", note.OpenPrice.StringFixed(2), note.ClosePrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("High: %s  Low: %s\n", note.HighPrice.StringFixed(2), note.LowPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Change: %s%% (threshold %s%%)\n", note.PercentChange.StringFixed(3), note.ThresholdPct.StringFixed(3)))
	builder.WriteString(fmt.Sprintf("Trend: %s over %d observations\n", note.Trend, note.Observations))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
