package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bullion-pipeline/internal/config"
	"bullion-pipeline/internal/pipeline"
)

// Channel names accepted in alerting.channels.
const (
	ChannelTelegram = "telegram"
	ChannelLog      = "log"
)

// ReportAlerter fans a daily report out to every configured channel when the
// absolute percent change reaches the threshold.
type ReportAlerter struct {
	enabled   bool
	threshold decimal.Decimal
	channels  []string
	notifiers []Notifier
	note      string
	logger    zerolog.Logger
}

// NewReportAlerter wires an alerter from explicit notifiers.
func NewReportAlerter(threshold decimal.Decimal, channels []string, notifiers []Notifier, logger zerolog.Logger) *ReportAlerter {
	return &ReportAlerter{
		enabled:   len(notifiers) > 0,
		threshold: threshold.Abs(),
		channels:  channels,
		notifiers: notifiers,
		logger:    logger.With().Str("component", "alerting").Logger(),
	}
}

// FromConfig builds notifiers for the configured channels. Unknown channels
// and a disabled telegram section are logged and skipped.
func FromConfig(cfg config.AlertingConfig, logger zerolog.Logger) *ReportAlerter {
	if !cfg.Enabled {
		return &ReportAlerter{logger: logger.With().Str("component", "alerting").Logger()}
	}

	var (
		notifiers []Notifier
		active    []string
	)
	for _, ch := range cfg.Channels {
		switch ch {
		case ChannelTelegram:
			if !cfg.Telegram.Enabled {
				logger.Warn().Msg("telegram 渠道未启用, 跳过")
				continue
			}
			notifiers = append(notifiers, NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 0, logger))
		case ChannelLog:
			notifiers = append(notifiers, NewLogNotifier(logger))
		default:
			logger.Warn().Str("channel", ch).Msg("未知告警渠道")
			continue
		}
		active = append(active, ch)
	}

	return NewReportAlerter(decimal.NewFromFloat(cfg.ThresholdPct), active, notifiers, logger)
}

// ShouldAlert reports whether |percent_change| >= threshold.
func ShouldAlert(report pipeline.DailyReport, threshold decimal.Decimal) bool {
	return report.PercentChange.Abs().GreaterThanOrEqual(threshold.Abs())
}

// Check notifies every channel if the report crosses the threshold. It
// returns whether an alert was attempted; delivery failures are joined.
func (a *ReportAlerter) Check(ctx context.Context, report pipeline.DailyReport) (bool, error) {
	if a == nil || !a.enabled {
		return false, nil
	}
	if !ShouldAlert(report, a.threshold) {
		a.logger.Debug().
			Str("date", report.Date).
			Str("percent_change", report.PercentChange.String()).
			Msg("below alert threshold")
		return false, nil
	}

	note := NewNotification(report, a.threshold, a.channels)
	note.AdditionalMsg = a.note
	var errs []error
	for i, n := range a.notifiers {
		if err := n.Notify(ctx, note); err != nil {
			name := a.channelName(i)
			a.logger.Error().Err(err).Str("channel", name).Msg("告警发送失败")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return true, errors.Join(errs...)
}

// WithNote returns a copy of the alerter that appends note to every message.
func (a *ReportAlerter) WithNote(note string) *ReportAlerter {
	if a == nil {
		return nil
	}
	cp := *a
	cp.note = note
	return &cp
}

func (a *ReportAlerter) channelName(i int) string {
	if i < len(a.channels) {
		return a.channels[i]
	}
	return fmt.Sprintf("notifier-%d", i)
}
