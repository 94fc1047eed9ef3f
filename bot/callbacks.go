package bot

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/nalunchbot/bot/flow"
	tg "github.com/m3rciful/nalunchbot/core/telegram"
	"github.com/m3rciful/nalunchbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/nalunchbot/core/telegram/helpers"
)

func (a *App) registerCallbacks(reg *tg.Registry) error {
	if err := reg.RegisterCallback(flow.ActionAccount, a.cbAccount); err != nil {
		return err
	}
	if err := reg.RegisterCallback(flow.ActionDevice, a.cbDevice); err != nil {
		return err
	}
	return reg.RegisterCallback(flow.ActionConfirm, a.cbConfirm)
}

func (a *App) cbAccount(c tele.Context) error {
	key := a.key(c)
	sess := a.sessions.Get(key)
	sess.Lock()
	reply, err := a.machine.ChooseAccount(key, sess, callbacks.CallbackPayload(c))
	sess.Unlock()
	if err != nil {
		return replyError(c, err)
	}
	return sendReply(c, reply)
}

func (a *App) cbDevice(c tele.Context) error {
	key := a.key(c)
	sess := a.sessions.Get(key)
	sess.Lock()
	reply, err := a.machine.ChooseDevice(key, sess, callbacks.CallbackPayload(c))
	sess.Unlock()
	if err != nil {
		return replyError(c, err)
	}
	return sendReply(c, reply)
}

func (a *App) cbConfirm(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	key := a.key(c)
	sess := a.sessions.Get(key)
	sess.Lock()
	reply, err := a.machine.Confirm(ctx, key, sess, callbacks.CallbackPayload(c))
	state := sess.State
	sess.Unlock()
	a.releaseIdle(key, state)
	if err != nil {
		return replyError(c, err)
	}
	return sendReply(c, reply)
}
