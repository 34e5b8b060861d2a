package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal        NotificationType = "signal"
	NotifyPositionOpen  NotificationType = "position_open"
	NotifyPositionClose NotificationType = "position_close"
	NotifyError         NotificationType = "error"
	NotifyInfo          NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Symbol     string
	Price      float64
	PnLPercent float64
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager(enabled bool) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   enabled,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendSignal sends an accepted-signal notification with the full plan
func (m *Manager) SendSignal(symbol, direction string, score, entry, stop, target1, target2 float64) error {
	emoji := "🟢"
	if direction == "SHORT" {
		emoji = "🔴"
	}

	return m.Send(&Notification{
		Type:      NotifySignal,
		Title:     fmt.Sprintf("%s Sweep Signal: %s", emoji, symbol),
		Message: fmt.Sprintf("%s %s (score %.1f)\nEntry: %.4f\nSL: %.4f | TP1: %.4f | TP2: %.4f",
			direction, symbol, score, entry, stop, target1, target2),
		Symbol:    symbol,
		Price:     entry,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"direction": direction,
			"score":     score,
			"stop":      stop,
			"target1":   target1,
			"target2":   target2,
		},
	})
}

// SendPositionClose sends a position closed notification
func (m *Manager) SendPositionClose(symbol, status, reason string, entry, exit, pnlPercent float64) error {
	emoji := "✅"
	if pnlPercent < 0 {
		emoji = "❌"
	}

	return m.Send(&Notification{
		Type:  NotifyPositionClose,
		Title: fmt.Sprintf("%s Position Closed: %s", emoji, symbol),
		Message: fmt.Sprintf("Entry: %.4f → Exit: %.4f\nP&L: %.2f%%\nStatus: %s\nReason: %s",
			entry, exit, pnlPercent, status, reason),
		Symbol:     symbol,
		Price:      exit,
		PnLPercent: pnlPercent,
		Timestamp:  time.Now(),
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}
