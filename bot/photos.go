package bot

import (
	"fmt"
	"io"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/nalunchbot/bot/flow"
	tghelpers "github.com/m3rciful/nalunchbot/core/telegram/helpers"
)

// handlePhoto routes an inbound photo by the conversation state. QR states
// consume the photo immediately; barcode scanning goes through the batch
// aggregator so an album counts as one submission.
func (a *App) handlePhoto(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return nil
	}

	photo := a.flowPhoto(msg)
	key := a.key(c)
	sess := a.sessions.Get(key)

	sess.Lock()
	state := sess.State
	deviceID := sess.DeviceID
	if state == flow.StateAwaitingQrBill || state == flow.StateAwaitingVendingQr {
		ctx := tghelpers.BuildContext(c)
		reply, err := a.machine.HandlePhoto(ctx, key, sess, photo)
		state = sess.State
		sess.Unlock()
		a.releaseIdle(key, state)
		if err != nil {
			return replyError(c, err)
		}
		return sendReply(c, reply)
	}
	sess.Unlock()

	if state != flow.StateAwaitingBarcodes {
		return sendReply(c, a.machine.RejectUnknown())
	}

	// deviceID pins the batch to the machine it was scanned for; a batch
	// that outlives a flow restart onto another machine gets dropped.
	a.agg.Add(a.batchGroup(msg, key, deviceID), photo, func(groupID string, photos []flow.Photo) {
		for i := range photos {
			photos[i].Label = fmt.Sprintf("photo %d", i+1)
		}
		ctx := tghelpers.BuildContext(c)
		sess.Lock()
		reply, err := a.machine.CompleteBatch(ctx, key, sess, deviceID, photos)
		state := sess.State
		sess.Unlock()
		a.releaseIdle(key, state)
		if err != nil {
			_ = replyError(c, err)
			return
		}
		_ = sendReply(c, reply)
	})
	return nil
}

// flowPhoto wraps the largest photo size as a lazily-downloaded flow photo.
func (a *App) flowPhoto(msg *tele.Message) flow.Photo {
	fileID := msg.Photo.FileID
	return flow.Photo{
		Label: "photo",
		Open: func() (io.ReadCloser, error) {
			return a.openFile(fileID)
		},
	}
}

// batchGroup keys barcode batches by the Telegram album when there is one.
// Photos sent one by one share a per-conversation, per-device group, so a
// rapid sequence of singles still debounces into one batch without leaking
// into a restarted flow on another machine.
func (a *App) batchGroup(msg *tele.Message, key flow.Key, deviceID string) string {
	if msg.AlbumID != "" {
		return msg.AlbumID
	}
	return fmt.Sprintf("chat:%d:user:%d:dev:%s", key.ChatID, key.UserID, deviceID)
}
