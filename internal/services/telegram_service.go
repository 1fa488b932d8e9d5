package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

const telegramAPI = "https://api.telegram.org"

// TelegramService handles sending notifications to Telegram.
type TelegramService struct {
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
	log         *zap.Logger
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string, log *zap.Logger) *TelegramService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     telegramAPI,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log.Named("telegram"),
	}
}

// WithBaseURL points the service at another Bot API host.
func (s *TelegramService) WithBaseURL(baseURL string) *TelegramService {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

// Enabled reports whether admin alerts can be delivered.
func (s *TelegramService) Enabled() bool {
	return s.botToken != "" && s.adminChatID != ""
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("bot token not configured")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("send message failed", zap.Error(err))
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Warn("unexpected status", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		s.log.Debug("admin chat id not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// OrderNotification contains order data for the admin alert.
type OrderNotification struct {
	RefNum       string
	CustomerName string
	Email        string
	Phone        string
	Items        []models.OrderLineItem
	Total        decimal.Decimal
	TrackURL     string
}

// NotifyNewOrder sends notification about a new order to the admin chat.
func (s *TelegramService) NotifyNewOrder(ctx context.Context, order OrderNotification) error {
	if !s.Enabled() {
		return nil
	}
	return s.SendToAdmin(ctx, formatOrderAlert(order))
}

func formatOrderAlert(order OrderNotification) string {
	var itemsList strings.Builder
	for i, item := range order.Items {
		fmt.Fprintf(&itemsList, "%d. <b>%s</b>\n   %d x %s = %s\n",
			i+1,
			html.EscapeString(item.Name),
			item.Qty,
			FormatPrice(item.Price, Currency),
			FormatPrice(item.LineTotal, Currency),
		)
	}

	message := fmt.Sprintf(`<b>🛒 NEW ORDER</b>
<b>📋 Order:</b> %s
<b>👤 Customer:</b> %s
<b>✉️ Email:</b> %s
<b>📞 Phone:</b> %s
<b>📦 Items:</b>
%s
<b>💰 Total:</b> %s
<b>🔗 Track:</b> %s
━━━━━━━━━━━━━━━━━━`,
		order.RefNum,
		html.EscapeString(order.CustomerName),
		html.EscapeString(order.Email),
		html.EscapeString(order.Phone),
		itemsList.String(),
		FormatPrice(order.Total, Currency),
		html.EscapeString(order.TrackURL),
	)

	return strings.TrimSpace(message)
}
