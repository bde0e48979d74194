package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/breakoutbot/execution"
	"github.com/web3guy0/breakoutbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Bracket notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🎯 Bracket submitted alerts
//   ✅ Entry fills and failed entries
//   📈 Closed trade P&L
//   🎛️ Commands (/status, /stats, /trades, /pause, /resume)
//
// ═══════════════════════════════════════════════════════════════════════════════

// Sender is the part of tgbotapi.BotAPI the bot uses
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatsProvider provides run statistics
type StatsProvider interface {
	GetStats() (trades, wins, losses int, net, equity decimal.Decimal)
	GetRecentTrades(limit int) ([]types.TradeRecord, error)
}

// TelegramBot manages the Telegram interface. It implements
// execution.Listener.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	sender  Sender
	chatID  int64
	ticker  string
	running bool
	paused  bool
	stopCh  chan struct{}

	statsProvider StatsProvider

	// Control callbacks
	onPause  func()
	onResume func()
}

// NewTelegramBot connects with token and reports to chatID
func NewTelegramBot(token string, chatID int64, ticker string) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := NewWithSender(api, chatID, ticker)
	b.api = api

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return b, nil
}

// NewWithSender creates a notify-only bot on an existing sender
func NewWithSender(sender Sender, chatID int64, ticker string) *TelegramBot {
	return &TelegramBot{
		sender: sender,
		chatID: chatID,
		ticker: ticker,
		stopCh: make(chan struct{}),
	}
}

// SetStatsProvider sets the source for /stats and /trades
func (b *TelegramBot) SetStatsProvider(p StatsProvider) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statsProvider = p
}

// SetControlCallbacks sets pause/resume handlers
func (b *TelegramBot) SetControlCallbacks(onPause, onResume func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPause = onPause
	b.onResume = onResume
}

// Start begins listening for commands. Without a live API only
// notifications are sent.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running || b.api == nil {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	if b.api != nil {
		b.api.StopReceivingUpdates()
	}
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// OnIntent implements execution.Listener
func (b *TelegramBot) OnIntent(intent *execution.OrderIntent) {
	b.sendMarkdown(formatIntent(b.ticker, intent))
}

// OnOrderStatus implements execution.Listener. Only fills and failed
// entries are reported.
func (b *TelegramBot) OnOrderStatus(intent *execution.OrderIntent, ev execution.OrderEvent) {
	switch {
	case ev.Status == execution.OrderCompleted:
		b.sendMarkdown(fmt.Sprintf("✅ *%s EXECUTED*\n\n📊 %s\n💵 Price: *%s*\n📦 Cost: *%s*",
			intent.Signal, b.ticker, ev.Price.StringFixed(5), ev.Value.StringFixed(2)))
	case ev.Status.Failed():
		b.sendMarkdown(fmt.Sprintf("⚠️ *ORDER %s*\n\n📊 %s %s\n📝 %s",
			ev.Status, b.ticker, intent.Direction, ev.Reason))
	}
}

// OnTradeReport implements execution.Listener
func (b *TelegramBot) OnTradeReport(report execution.TradeReport) {
	b.sendMarkdown(formatReport(b.ticker, report))
}

// NotifySummary sends the end-of-run summary
func (b *TelegramBot) NotifySummary(trades, wins, losses int, net, equity decimal.Decimal) {
	b.sendMarkdown(formatStats("RUN SUMMARY", trades, wins, losses, net, equity))
}

// NotifyError sends an error alert
func (b *TelegramBot) NotifyError(err error) {
	msg := fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error())
	b.sendMarkdown(msg)
}

func formatIntent(ticker string, intent *execution.OrderIntent) string {
	emoji := "🟢"
	if !intent.Direction.IsLong() {
		emoji = "🔴"
	}

	return fmt.Sprintf(`%s *OPEN %s*

📊 *%s* — %s
━━━━━━━━━━━━━━━━
💵 Close: *%s*
🎯 Limit: *%s*
🛑 Stop: *%s*
━━━━━━━━━━━━━━━━
🕯️ Candle #%d`,
		emoji, intent.Signal,
		ticker, intent.Direction,
		intent.Entry.StringFixed(5),
		intent.TakeProfit.StringFixed(5),
		intent.StopLoss.StringFixed(5),
		intent.Index,
	)
}

func formatReport(ticker string, r execution.TradeReport) string {
	emoji := "📈"
	if !r.IsWin() {
		emoji = "📉"
	}

	return fmt.Sprintf(`%s *TRADE CLOSED*

📊 %s %s — %s
💵 Gross: *%s*
💵 Net: *%s*
🕯️ Bars %d → %d`,
		emoji, ticker, r.Direction, r.Reason,
		signed(r.Gross), signed(r.Net),
		r.BarOpen, r.BarClose,
	)
}

func formatStats(title string, trades, wins, losses int, net, equity decimal.Decimal) string {
	winRate := float64(0)
	if trades > 0 {
		winRate = float64(wins) / float64(trades) * 100
	}

	emoji := "📈"
	if net.IsNegative() {
		emoji = "📉"
	}

	return fmt.Sprintf(`%s *%s*
━━━━━━━━━━━━━━━━━━━━

📊 Trades: *%d*
✅ Wins: *%d*
❌ Losses: *%d*
📈 Win Rate: *%.1f%%*

━━━━━━━━━━━━━━━━━━━━
💵 Net P&L: *%s*
💰 Equity: *%s*`,
		emoji, title,
		trades, wins, losses, winRate,
		signed(net),
		equity.StringFixed(2),
	)
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message.Command())
		}
	}
}

func (b *TelegramBot) handleCommand(command string) {
	switch strings.ToLower(command) {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "stats":
		b.cmdStats()
	case "trades":
		b.cmdTrades()
	case "pause":
		b.cmdPause()
	case "resume":
		b.cmdResume()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *BREAKOUT BOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Bot status
📈 /stats — Run statistics
📜 /trades — Last 10 trades
⏸️ /pause — Stop opening brackets
▶️ /resume — Resume opening brackets
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	b.mu.RLock()
	paused := b.paused
	b.mu.RUnlock()

	status := "🟢 RUNNING"
	if paused {
		status = "⏸️ PAUSED"
	}

	b.sendMarkdown(fmt.Sprintf("📊 *BOT STATUS*\n━━━━━━━━━━━━━━━━━━━━\n\n%s\n📊 Ticker: *%s*", status, b.ticker))
}

func (b *TelegramBot) cmdStats() {
	b.mu.RLock()
	p := b.statsProvider
	b.mu.RUnlock()

	if p == nil {
		b.send("❌ Stats not available")
		return
	}

	trades, wins, losses, net, equity := p.GetStats()
	b.sendMarkdown(formatStats("RUN STATS", trades, wins, losses, net, equity))
}

func (b *TelegramBot) cmdTrades() {
	b.mu.RLock()
	p := b.statsProvider
	b.mu.RUnlock()

	if p == nil {
		b.send("❌ Trades not available")
		return
	}

	trades, err := p.GetRecentTrades(10)
	if err != nil {
		b.send("❌ Failed to fetch trades")
		return
	}

	if len(trades) == 0 {
		b.send("📭 No trade history yet")
		return
	}

	msg := "📜 *LAST 10 TRADES*\n━━━━━━━━━━━━━━━━━━━━\n\n"

	for _, t := range trades {
		reasonEmoji := "📌"
		switch t.Reason {
		case "TAKE_PROFIT":
			reasonEmoji = "💰"
		case "STOP_LOSS":
			reasonEmoji = "🛑"
		case "END_OF_DATA", "MANUAL":
			reasonEmoji = "📊"
		}

		msg += fmt.Sprintf("%s %s %s → %s | Net: %s\n   _%s_\n\n",
			reasonEmoji, t.Direction,
			t.Entry.StringFixed(5), t.Exit.StringFixed(5),
			signed(t.Net),
			t.Timestamp.Format("Jan 2 15:04"),
		)
	}

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPause() {
	b.mu.Lock()
	b.paused = true
	cb := b.onPause
	b.mu.Unlock()

	if cb != nil {
		cb()
	}

	b.send("⏸️ Trading paused")
	log.Info().Msg("Trading paused via Telegram")
}

func (b *TelegramBot) cmdResume() {
	b.mu.Lock()
	b.paused = false
	cb := b.onResume
	b.mu.Unlock()

	if cb != nil {
		cb()
	}

	b.send("▶️ Trading resumed")
	log.Info().Msg("Trading resumed via Telegram")
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.sender.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
