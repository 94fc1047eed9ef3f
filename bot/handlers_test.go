package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/nalunchbot/bot/flow"
)

func TestChoiceMarkupOnePerRowForShortChoosers(t *testing.T) {
	markup := choiceMarkup([]flow.Choice{
		{Label: "✅ Pay", Action: flow.ActionConfirm, Data: flow.ConfirmYes},
		{Label: "❌ Cancel", Action: flow.ActionConfirm, Data: flow.ConfirmNo},
		{Label: "➕ Add more", Action: flow.ActionConfirm, Data: flow.ConfirmMore},
	})

	require.Len(t, markup.InlineKeyboard, 3)
	for _, row := range markup.InlineKeyboard {
		require.Len(t, row, 1)
	}
	assert.Equal(t, "✅ Pay", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, flow.ActionConfirm, markup.InlineKeyboard[0][0].Unique)
}

func TestChoiceMarkupTwoColumnsForLongChoosers(t *testing.T) {
	choices := make([]flow.Choice, 5)
	for i := range choices {
		choices[i] = flow.Choice{Label: "Machine", Action: flow.ActionDevice, Data: "42"}
	}

	markup := choiceMarkup(choices)
	require.Len(t, markup.InlineKeyboard, 3)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 2)
	assert.Len(t, markup.InlineKeyboard[2], 1)
}

func TestConfirmCancelReleasesSession(t *testing.T) {
	app := testApp(t, 30*time.Millisecond)
	key := flow.Key{ChatID: 10, UserID: 20}
	sess := primeBarcodes(t, app, key, "42")

	sess.Lock()
	_, err := app.machine.CompleteBatch(context.Background(), key, sess, "42", []flow.Photo{testPhoto("water")})
	sess.Unlock()
	require.NoError(t, err)
	require.Equal(t, 1, app.sessions.Len())

	c := newStubContext(10, 20)
	c.cb = &tele.Callback{Unique: flow.ActionConfirm, Data: flow.ActionConfirm + "|" + flow.ConfirmNo}

	require.NoError(t, app.cbConfirm(c))
	assert.Equal(t, []string{"Cancelled."}, c.sentTexts())
	assert.Equal(t, 0, app.sessions.Len())
}
