package notifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/model"
)

type TelegramNotifier struct {
	cfg    config.TelegramConfig
	client *http.Client
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (t *TelegramNotifier) NotifyScanFinished(rec *model.ScanRecord) error {
	if !t.cfg.Enabled {
		return nil
	}
	return t.Send(formatScan(rec))
}

func (t *TelegramNotifier) Send(text string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID: t.cfg.ChatID,
		Text:   text,
	})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.cfg.APIBase, "/"), t.cfg.BotToken)

	resp, err := t.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		// *url.Error carries the request URL, and with it the bot token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("telegram send: %w", uerr.Err)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram http %d", resp.StatusCode)
	}
	return nil
}

func formatScan(rec *model.ScanRecord) string {
	var b strings.Builder

	switch rec.Status {
	case model.StatusCompleted:
		b.WriteString("✅ Scan completed\n")
	case model.StatusCancelled:
		b.WriteString("⏹ Scan cancelled\n")
	default:
		b.WriteString("❌ Scan failed\n")
	}
	fmt.Fprintf(&b, "ID: %s\nOwner: %s\nAssets: %d\n", rec.ID, rec.OwnerID, len(rec.Assets))

	if rec.Results != nil {
		s := rec.Results.Summary
		fmt.Fprintf(&b, "Vulnerabilities: %d (critical %d, high %d, medium %d, low %d)\n",
			s.TotalVulnerabilities, s.Critical, s.High, s.Medium, s.Low)
		fmt.Fprintf(&b, "Risk: %s, compliance %d%%\n", s.RiskLevel, s.ComplianceScore)
	}
	if rec.Status != model.StatusCompleted || rec.ReportError != "" {
		fmt.Fprintf(&b, "Message: %s\n", rec.Message)
	}
	if rec.EndTime != nil {
		fmt.Fprintf(&b, "Duration: %s\n", rec.EndTime.Sub(rec.StartTime).Round(time.Second))
	}
	return b.String()
}
