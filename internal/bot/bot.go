package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"economybot/internal/logger"
	"economybot/internal/service"

	"github.com/bwmarrin/discordgo"
)

// Bot is the chat-command layer. It translates messages into engine
// calls and renders the results; it holds no economy logic of its own.
type Bot struct {
	session  *discordgo.Session
	prefix   string
	cooldown time.Duration
	admins   map[string]bool

	ledger  *service.Ledger
	shop    *service.Shop
	trades  *service.TradeManager
	stats   *service.Stats
	limiter *service.RateLimiter
}

// Options wires the bot to the engine services
type Options struct {
	Token    string
	Prefix   string
	Cooldown time.Duration
	AdminIDs []string

	Ledger  *service.Ledger
	Shop    *service.Shop
	Trades  *service.TradeManager
	Stats   *service.Stats
	Limiter *service.RateLimiter
}

// New creates the Discord bot but does not connect yet
func New(opts Options) (*Bot, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("bot token not set")
	}

	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	admins := make(map[string]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "!"
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = 3 * time.Second
	}

	b := &Bot{
		session:  session,
		prefix:   prefix,
		cooldown: cooldown,
		admins:   admins,
		ledger:   opts.Ledger,
		shop:     opts.Shop,
		trades:   opts.Trades,
		stats:    opts.Stats,
		limiter:  opts.Limiter,
	}
	session.AddHandler(b.onMessage)
	return b, nil
}

// Start opens the gateway connection
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open bot session: %w", err)
	}
	logger.Info("bot connected", "prefix", b.prefix)
	return nil
}

// Stop closes the gateway connection
func (b *Bot) Stop() error {
	return b.session.Close()
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, b.prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, b.prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]
	userID := m.Author.ID

	if ok, remaining := b.limiter.Allow(userID, command, b.cooldown); !ok {
		b.reply(m, fmt.Sprintf("Slow down! Try again in %.0fs.", remaining.Seconds()))
		return
	}

	logger.Debug("command received", "user_id", userID, "command", command)

	var err error
	switch command {
	case "balance", "bal":
		err = b.cmdBalance(m, userID)
	case "daily":
		err = b.cmdDaily(m, userID)
	case "pay":
		err = b.cmdPay(m, userID, args)
	case "shop":
		err = b.cmdShop(m, args)
	case "buy":
		err = b.cmdBuy(m, userID, args)
	case "inventory", "inv":
		err = b.cmdInventory(m, userID)
	case "trade":
		err = b.cmdTrade(m, userID)
	case "offer":
		err = b.cmdOffer(m, userID, args)
	case "withdraw":
		err = b.cmdWithdraw(m, userID, args)
	case "confirm":
		err = b.cmdConfirm(m, userID)
	case "cancel":
		err = b.cmdCancel(m, userID)
	case "top", "leaderboard":
		err = b.cmdTop(m)
	case "additem":
		err = b.cmdAddItem(m, userID, args)
	case "delitem":
		err = b.cmdDelItem(m, userID, args)
	case "help":
		err = b.cmdHelp(m)
	default:
		return
	}

	if err != nil {
		logger.Warn("command failed", "user_id", userID, "command", command, "error", err)
		b.reply(m, renderError(err))
	}
}

func (b *Bot) cmdBalance(m *discordgo.MessageCreate, userID string) error {
	balance, err := b.ledger.GetBalance(userID)
	if err != nil {
		return err
	}
	b.reply(m, fmt.Sprintf("💰 You have %s.", formatCoins(balance)))
	return nil
}

func (b *Bot) cmdDaily(m *discordgo.MessageCreate, userID string) error {
	result, err := b.ledger.ClaimDaily(userID)
	if err != nil {
		return err
	}
	if !result.Claimed {
		b.reply(m, fmt.Sprintf("⏳ Daily already claimed. Come back in %s.", formatDuration(result.NextIn)))
		return nil
	}
	b.reply(m, fmt.Sprintf("✅ You claimed %s! Streak: %d days.", formatCoins(result.Amount), result.Streak))
	return nil
}

func (b *Bot) cmdPay(m *discordgo.MessageCreate, userID string, args []string) error {
	if len(m.Mentions) == 0 || len(args) < 2 {
		b.reply(m, "Usage: "+b.prefix+"pay @user <amount>")
		return nil
	}
	amount, err := strconv.ParseInt(args[len(args)-1], 10, 64)
	if err != nil {
		b.reply(m, "Amount must be a whole number.")
		return nil
	}

	target := m.Mentions[0].ID
	ok, err := b.ledger.Transfer(userID, target, amount, "payment")
	if err != nil {
		return err
	}
	if !ok {
		b.reply(m, "❌ You can't afford that.")
		return nil
	}
	b.reply(m, fmt.Sprintf("✅ Sent %s to <@%s>.", formatCoins(amount), target))
	return nil
}

func (b *Bot) cmdShop(m *discordgo.MessageCreate, args []string) error {
	category := ""
	if len(args) > 0 {
		category = args[0]
	}
	listings, err := b.shop.ListItems(category)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		b.reply(m, "The shop is empty.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("🛒 **Shop**\n")
	for _, item := range listings {
		stock := "∞"
		if item.Stock >= 0 {
			stock = strconv.FormatInt(item.Stock, 10)
		}
		sb.WriteString(fmt.Sprintf("`%s` — %s, %s (stock: %s)\n",
			item.ID, item.Name, formatCoins(item.Price), stock))
	}
	b.reply(m, sb.String())
	return nil
}

func (b *Bot) cmdBuy(m *discordgo.MessageCreate, userID string, args []string) error {
	if len(args) == 0 {
		b.reply(m, "Usage: "+b.prefix+"buy <item> [qty]")
		return nil
	}
	qty := int64(1)
	if len(args) > 1 {
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			b.reply(m, "Quantity must be a whole number.")
			return nil
		}
		qty = n
	}

	ok, reason, err := b.shop.Purchase(userID, args[0], qty)
	if err != nil {
		return err
	}
	if !ok {
		b.reply(m, "❌ Purchase failed: "+reason+".")
		return nil
	}
	b.reply(m, fmt.Sprintf("✅ Bought %dx `%s`.", qty, args[0]))
	return nil
}

func (b *Bot) cmdInventory(m *discordgo.MessageCreate, userID string) error {
	inv, err := b.ledger.GetInventory(userID)
	if err != nil {
		return err
	}
	if len(inv) == 0 {
		b.reply(m, "Your inventory is empty.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("🎒 **Inventory**\n")
	for itemID, entry := range inv {
		sb.WriteString(fmt.Sprintf("`%s` ×%d\n", itemID, entry.Quantity))
	}
	b.reply(m, sb.String())
	return nil
}

func (b *Bot) cmdTrade(m *discordgo.MessageCreate, userID string) error {
	if len(m.Mentions) == 0 {
		b.reply(m, "Usage: "+b.prefix+"trade @user")
		return nil
	}
	target := m.Mentions[0].ID

	sessionID, err := b.trades.CreateTrade(userID, target)
	if err != nil {
		return err
	}
	logger.Info("trade session created", "session_id", sessionID, "user_a", userID, "user_b", target)
	b.reply(m, fmt.Sprintf("🤝 Trade opened with <@%s>. Stage your offer with `%soffer`, then `%sconfirm`. Expires in 5 minutes.",
		target, b.prefix, b.prefix))
	return nil
}

func (b *Bot) cmdOffer(m *discordgo.MessageCreate, userID string, args []string) error {
	sess := b.trades.GetActiveTradeFor(userID)
	if sess == nil {
		b.reply(m, "You have no active trade.")
		return nil
	}
	if len(args) < 2 {
		b.reply(m, "Usage: "+b.prefix+"offer money <amount> | "+b.prefix+"offer item <id> [qty]")
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "money":
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			b.reply(m, "Amount must be a whole number.")
			return nil
		}
		if err := b.trades.OfferMoney(sess.ID, userID, amount); err != nil {
			return err
		}
		b.reply(m, fmt.Sprintf("Added %s to your offer.", formatCoins(amount)))
	case "item":
		qty := int64(1)
		if len(args) > 2 {
			n, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				b.reply(m, "Quantity must be a whole number.")
				return nil
			}
			qty = n
		}
		ok, err := b.trades.OfferItem(sess.ID, userID, args[1], qty)
		if err != nil {
			return err
		}
		if !ok {
			b.reply(m, "❌ You don't have that many to offer.")
			return nil
		}
		b.reply(m, fmt.Sprintf("Added %dx `%s` to your offer.", qty, args[1]))
	default:
		b.reply(m, "Usage: "+b.prefix+"offer money <amount> | "+b.prefix+"offer item <id> [qty]")
	}
	return nil
}

func (b *Bot) cmdWithdraw(m *discordgo.MessageCreate, userID string, args []string) error {
	sess := b.trades.GetActiveTradeFor(userID)
	if sess == nil {
		b.reply(m, "You have no active trade.")
		return nil
	}
	if len(args) < 2 {
		b.reply(m, "Usage: "+b.prefix+"withdraw money <amount> | "+b.prefix+"withdraw item <id> [qty]")
		return nil
	}

	switch strings.ToLower(args[0]) {
	case "money":
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			b.reply(m, "Amount must be a whole number.")
			return nil
		}
		if err := b.trades.WithdrawMoney(sess.ID, userID, amount); err != nil {
			return err
		}
		b.reply(m, "Offer updated.")
	case "item":
		qty := int64(1)
		if len(args) > 2 {
			n, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				b.reply(m, "Quantity must be a whole number.")
				return nil
			}
			qty = n
		}
		ok, err := b.trades.WithdrawItem(sess.ID, userID, args[1], qty)
		if err != nil {
			return err
		}
		if !ok {
			b.reply(m, "That isn't staged in your offer.")
			return nil
		}
		b.reply(m, "Offer updated.")
	default:
		b.reply(m, "Usage: "+b.prefix+"withdraw money <amount> | "+b.prefix+"withdraw item <id> [qty]")
	}
	return nil
}

func (b *Bot) cmdConfirm(m *discordgo.MessageCreate, userID string) error {
	sess := b.trades.GetActiveTradeFor(userID)
	if sess == nil {
		b.reply(m, "You have no active trade.")
		return nil
	}
	if err := b.trades.Confirm(sess.ID, userID); err != nil {
		return err
	}

	// Execution happens here in the command layer once both parties
	// have confirmed; the escrow itself never auto-executes
	sess = b.trades.GetActiveTradeFor(userID)
	if sess == nil || !sess.ConfirmedA || !sess.ConfirmedB {
		b.reply(m, "✅ Confirmed. Waiting for the other party.")
		return nil
	}

	ok, reason, err := b.trades.Execute(sess.ID)
	if err != nil {
		return err
	}
	if !ok {
		b.reply(m, "❌ Trade failed: "+reason+".")
		return nil
	}
	b.reply(m, "🤝 Trade completed!")
	return nil
}

func (b *Bot) cmdCancel(m *discordgo.MessageCreate, userID string) error {
	sess := b.trades.GetActiveTradeFor(userID)
	if sess == nil {
		b.reply(m, "You have no active trade.")
		return nil
	}
	if err := b.trades.Cancel(sess.ID, "cancelled by "+userID); err != nil {
		return err
	}
	b.reply(m, "Trade cancelled.")
	return nil
}

func (b *Bot) cmdTop(m *discordgo.MessageCreate) error {
	entries, err := b.stats.Leaderboard(10)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		b.reply(m, "Nobody has any money yet.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("🏆 **Leaderboard**\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("%d. <@%s> — %s\n", e.Rank, e.UserID, formatCoins(e.Balance)))
	}
	b.reply(m, sb.String())
	return nil
}

func (b *Bot) cmdAddItem(m *discordgo.MessageCreate, userID string, args []string) error {
	if !b.admins[userID] {
		b.reply(m, "Admins only.")
		return nil
	}
	if len(args) < 3 {
		b.reply(m, "Usage: "+b.prefix+"additem <id> <price> <name...>")
		return nil
	}
	price, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		b.reply(m, "Price must be a whole number.")
		return nil
	}

	name := strings.Join(args[2:], " ")
	if err := b.shop.CreateItem(args[0], name, price, "", "", -1); err != nil {
		return err
	}
	b.reply(m, fmt.Sprintf("✅ Added `%s` to the shop at %s.", args[0], formatCoins(price)))
	return nil
}

func (b *Bot) cmdDelItem(m *discordgo.MessageCreate, userID string, args []string) error {
	if !b.admins[userID] {
		b.reply(m, "Admins only.")
		return nil
	}
	if len(args) == 0 {
		b.reply(m, "Usage: "+b.prefix+"delitem <id>")
		return nil
	}
	if err := b.shop.RemoveItem(args[0]); err != nil {
		return err
	}
	b.reply(m, fmt.Sprintf("Removed `%s` from the shop.", args[0]))
	return nil
}

func (b *Bot) cmdHelp(m *discordgo.MessageCreate) error {
	p := b.prefix
	help := "📚 **Commands**\n" +
		p + "balance — check your balance\n" +
		p + "daily — claim your daily reward\n" +
		p + "pay @user <amount> — send money\n" +
		p + "shop / " + p + "buy <item> [qty] — browse and buy\n" +
		p + "inventory — see what you own\n" +
		p + "trade @user — open a trade, then " + p + "offer, " + p + "confirm or " + p + "cancel\n" +
		p + "top — balance leaderboard"
	b.reply(m, help)
	return nil
}

func (b *Bot) reply(m *discordgo.MessageCreate, text string) {
	if _, err := b.session.ChannelMessageSend(m.ChannelID, text); err != nil {
		logger.Warn("failed to send message", "channel_id", m.ChannelID, "error", err)
	}
}

// renderError maps engine errors to user-facing text
func renderError(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		return "❌ That amount isn't valid."
	case errors.Is(err, service.ErrInvalidUserID):
		return "❌ That doesn't look like a valid user."
	case errors.Is(err, service.ErrInvalidItemID):
		return "❌ That doesn't look like a valid item."
	case errors.Is(err, service.ErrItemExists):
		return "❌ That item already exists."
	case errors.Is(err, service.ErrItemNotFound):
		return "❌ No such item in the shop."
	case errors.Is(err, service.ErrAlreadyTrading):
		return "❌ One of you is already in a trade."
	case errors.Is(err, service.ErrSelfTrade):
		return "❌ You can't trade with yourself."
	case errors.Is(err, service.ErrTradeExpired):
		return "❌ That trade has expired."
	case errors.Is(err, service.ErrTradeNotActive), errors.Is(err, service.ErrSessionNotFound):
		return "❌ That trade is no longer open."
	case errors.Is(err, service.ErrTradeNotConfirmed):
		return "❌ Both parties need to confirm first."
	default:
		return "Something went wrong. Please try again."
	}
}

func formatCoins(n int64) string {
	return fmt.Sprintf("%d coins", n)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
