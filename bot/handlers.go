package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/nalunchbot/bot/flow"
	tg "github.com/m3rciful/nalunchbot/core/telegram"
	"github.com/m3rciful/nalunchbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/nalunchbot/core/telegram/helpers"
	"github.com/m3rciful/nalunchbot/core/telegram/keyboard"
)

func (a *App) registerCommands(reg *tg.Registry) {
	reg.RegisterCommand("/nalunch_balances", commands.Command{
		Handler:     a.cmdBalances,
		Description: "Show the balance of every account",
	})
	reg.RegisterCommand("/nalunch_pay", commands.Command{
		Handler:     a.cmdPay,
		Description: "Pay a restaurant bill by its QR code",
	})
	reg.RegisterCommand("/nalunch_vending", commands.Command{
		Handler:     a.cmdVending,
		Description: "Buy items from a vending machine",
	})
	reg.RegisterCommand("/nalunch_history", commands.Command{
		Handler:     a.cmdHistory,
		Description: "Show recent payments of this chat",
	})
	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.cmdHelp,
		Description: "Show usage",
		Hidden:      true,
		Aliases:     []string{"/help"},
	})
}

// replyError reports a failed operation the way the vendor app would: the
// raw error text behind an Exception prefix.
func replyError(c tele.Context, err error) error {
	return tghelpers.SendText(c, "Exception: "+err.Error())
}

// sendReply renders a flow reply, attaching an inline keyboard when the
// reply carries choices.
func sendReply(c tele.Context, reply flow.Reply) error {
	if reply.Empty() {
		return nil
	}
	if len(reply.Choices) == 0 {
		return tghelpers.SendText(c, reply.Text)
	}
	return tghelpers.SendKeyboard(c, reply.Text, choiceMarkup(reply.Choices))
}

// choiceMarkup lays choices out one per row; long choosers (many accounts or
// vending machines) split into two columns to keep the keyboard short.
func choiceMarkup(choices []flow.Choice) *tele.ReplyMarkup {
	buttons := make([]keyboard.InlineBtn, 0, len(choices))
	for _, choice := range choices {
		buttons = append(buttons, keyboard.InlineBtn{
			Text:   choice.Label,
			Unique: choice.Action,
			Data:   choice.Data,
		})
	}
	if len(buttons) > 4 {
		return keyboard.InlineButtonsNPerRow(buttons, 2)
	}
	return keyboard.InlineButtons(buttons)
}

func (a *App) cmdBalances(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	report, err := a.machine.Balances(ctx)
	if err != nil {
		return replyError(c, err)
	}
	return tghelpers.SendText(c, report)
}

func (a *App) cmdPay(c tele.Context) error {
	key := a.key(c)
	sess := a.sessions.Get(key)
	sess.Lock()
	reply := a.machine.StartQrBill(key, sess)
	sess.Unlock()
	return sendReply(c, reply)
}

func (a *App) cmdVending(c tele.Context) error {
	key := a.key(c)
	sess := a.sessions.Get(key)
	sess.Lock()
	reply := a.machine.StartVending(key, sess)
	sess.Unlock()
	return sendReply(c, reply)
}

func (a *App) cmdHistory(c tele.Context) error {
	if a.repo == nil {
		return tghelpers.SendText(c, "Payment history is not configured.")
	}
	ctx := tghelpers.BuildContext(c)
	payments, err := a.repo.List(ctx, a.key(c).ChatID, 10)
	if err != nil {
		return replyError(c, err)
	}
	if len(payments) == 0 {
		return tghelpers.SendText(c, "No payments recorded yet.")
	}

	lines := make([]string, 0, len(payments))
	for _, p := range payments {
		line := fmt.Sprintf("%s  %d₽  %s (%s)",
			p.PaidAt.Format("02.01 15:04"), p.Amount, p.Account, p.Kind)
		lines = append(lines, line)
	}
	return tghelpers.SendText(c, strings.Join(lines, "\n"))
}

func (a *App) cmdHelp(c tele.Context) error {
	return tghelpers.SendText(c, strings.Join([]string{
		"/nalunch_balances — balance of every account",
		"/nalunch_pay — pay a restaurant bill by its QR code",
		"/nalunch_vending — buy items from a vending machine",
		"/nalunch_history — recent payments of this chat",
	}, "\n"))
}
