// Package flow implements the purchase conversation engine: a typed state
// machine that walks one chat user from account selection through evidence
// photos to settlement, independent of the Telegram transport.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/m3rciful/nalunchbot/barcode"
	"github.com/m3rciful/nalunchbot/core/logger"
	"github.com/m3rciful/nalunchbot/core/metrics"
	"github.com/m3rciful/nalunchbot/nalunch"
)

// AccountClient is the subset of vendor operations the flow drives.
// *nalunch.Account satisfies it.
type AccountClient interface {
	Name() string
	GetBalance(ctx context.Context) (int, error)
	Pay(ctx context.Context, path string) (int, error)
	PayVending(ctx context.Context, deviceID string, items []nalunch.VendingItem) (int, error)
	GetVendingName(ctx context.Context, deviceID string) (string, error)
}

// Catalog resolves a vending device's product list, cached or not.
type Catalog interface {
	Products(ctx context.Context, deviceID string) (map[string]nalunch.Product, error)
}

// Device is a vending machine known from configuration.
type Device struct {
	ID   string
	Name string
}

// Settlement describes one completed payment for optional history recording.
type Settlement struct {
	Key      Key
	Account  string
	Kind     string // "qr" or "vending"
	DeviceID string
	Amount   int
	Items    int
}

// Recorder persists settlements. Recording failures must not disturb the
// flow; the payment has already happened.
type Recorder interface {
	Record(ctx context.Context, s Settlement)
}

// ErrUnknownDevice reports a device-chooser payload outside the known table.
var ErrUnknownDevice = errors.New("unknown vending device")

// ErrUnknownAccount reports an account-chooser payload outside the account list.
var ErrUnknownAccount = errors.New("unknown account")

const unknownOperationText = "Unknown operation"

// Machine holds the immutable collaborators of the purchase flow. Sessions
// are passed into every transition explicitly, so tests drive the machine
// without any transport.
type Machine struct {
	accounts []AccountClient
	devices  []Device
	catalog  Catalog
	decoder  barcode.Decoder
	recorder Recorder
}

// NewMachine wires the flow engine. recorder may be nil.
func NewMachine(accounts []AccountClient, devices []Device, cat Catalog, dec barcode.Decoder, rec Recorder) *Machine {
	return &Machine{
		accounts: accounts,
		devices:  devices,
		catalog:  cat,
		decoder:  dec,
		recorder: rec,
	}
}

// Balances fetches every configured account's balance in configuration
// order. Any single failure aborts the whole report.
func (m *Machine) Balances(ctx context.Context) (string, error) {
	lines := make([]string, 0, len(m.accounts))
	for _, acc := range m.accounts {
		balance, err := acc.GetBalance(ctx)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s: %d₽", acc.Name(), balance))
	}
	return strings.Join(lines, "\n"), nil
}

// StartQrBill abandons any in-flight session and opens the QR bill flow with
// an account chooser.
func (m *Machine) StartQrBill(key Key, sess *Session) Reply {
	return m.start(key, sess, PurposeQrBill)
}

// StartVending abandons any in-flight session and opens the vending flow
// with an account chooser.
func (m *Machine) StartVending(key Key, sess *Session) Reply {
	return m.start(key, sess, PurposeVending)
}

func (m *Machine) start(key Key, sess *Session, purpose Purpose) Reply {
	if sess.State != StateIdle {
		logger.Debug(context.Background(), "flow", "flow.abandon",
			slog.Int64("chat_id", key.ChatID),
			slog.Int64("user_id", key.UserID),
			slog.String("state", string(sess.State)),
		)
	}
	sess.reset()
	sess.Purpose = purpose
	sess.State = StateAwaitingAccountChoice

	choices := make([]Choice, 0, len(m.accounts))
	for i, acc := range m.accounts {
		choices = append(choices, Choice{
			Label:  acc.Name(),
			Action: ActionAccount,
			Data:   strconv.Itoa(i),
		})
	}
	return Reply{Text: "Choose an account to pay with:", Choices: choices}
}

// ChooseAccount handles the account-selection callback. Valid only while the
// session awaits an account choice.
func (m *Machine) ChooseAccount(key Key, sess *Session, payload string) (Reply, error) {
	if sess.State != StateAwaitingAccountChoice {
		return Reply{Text: unknownOperationText}, nil
	}
	idx, err := strconv.Atoi(payload)
	if err != nil || idx < 0 || idx >= len(m.accounts) {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownAccount, payload)
	}
	sess.Account = m.accounts[idx]

	logger.Debug(context.Background(), "flow", "flow.account",
		slog.Int64("chat_id", key.ChatID),
		slog.Int64("user_id", key.UserID),
		slog.String("account", sess.Account.Name()),
		slog.String("purpose", string(sess.Purpose)),
	)

	if sess.Purpose == PurposeQrBill {
		sess.State = StateAwaitingQrBill
		return Reply{Text: fmt.Sprintf("Paying with %s. Send a photo of the bill QR code.", sess.Account.Name())}, nil
	}

	sess.State = StateAwaitingVendingChoice
	choices := make([]Choice, 0, len(m.devices)+1)
	for _, dev := range m.devices {
		choices = append(choices, Choice{Label: dev.Name, Action: ActionDevice, Data: dev.ID})
	}
	choices = append(choices, Choice{Label: "Other (scan QR)", Action: ActionDevice, Data: DeviceOther})
	return Reply{Text: "Choose a vending machine:", Choices: choices}, nil
}

// ChooseDevice handles the device-selection callback. Valid only while the
// session awaits a vending machine choice.
func (m *Machine) ChooseDevice(key Key, sess *Session, payload string) (Reply, error) {
	if sess.State != StateAwaitingVendingChoice {
		return Reply{Text: unknownOperationText}, nil
	}

	if payload == DeviceOther {
		sess.State = StateAwaitingVendingQr
		return Reply{Text: "Send a photo of the QR code on the vending machine."}, nil
	}

	var dev *Device
	for i := range m.devices {
		if m.devices[i].ID == payload {
			dev = &m.devices[i]
			break
		}
	}
	// Choices are generated from the device table, so this only fires on a
	// stale or forged callback.
	if dev == nil {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownDevice, payload)
	}

	sess.DeviceID = dev.ID
	sess.Codes = nil
	sess.State = StateAwaitingBarcodes
	return Reply{Text: fmt.Sprintf("Buying at %s. Send photos of the item barcodes.", dev.Name)}, nil
}

// HandlePhoto processes a single photo for the states that expect exactly
// one: the bill QR and the device-identifying QR. Barcode photos are batched
// by the caller and arrive through CompleteBatch instead.
func (m *Machine) HandlePhoto(ctx context.Context, key Key, sess *Session, photo Photo) (Reply, error) {
	switch sess.State {
	case StateAwaitingQrBill:
		return m.payQrBill(ctx, key, sess, photo)
	case StateAwaitingVendingQr:
		return m.identifyDevice(ctx, key, sess, photo)
	default:
		return Reply{Text: unknownOperationText}, nil
	}
}

func (m *Machine) payQrBill(ctx context.Context, key Key, sess *Session, photo Photo) (Reply, error) {
	payload, err := m.decodePhoto(photo)
	if err != nil {
		// Re-prompt instead of aborting: a blurry shot should not cost the
		// user the whole flow.
		return Reply{Text: "Could not read a QR code from that photo. Send another one."}, nil
	}

	account := sess.Account
	amount, err := account.Pay(ctx, payload)
	sess.reset()
	if err != nil {
		return Reply{}, err
	}

	m.record(ctx, Settlement{
		Key:     key,
		Account: account.Name(),
		Kind:    "qr",
		Amount:  amount,
	})
	metrics.PaymentSettled("qr", amount)
	return Reply{Text: fmt.Sprintf("Paid %d₽ from %s.", amount, account.Name())}, nil
}

func (m *Machine) identifyDevice(ctx context.Context, key Key, sess *Session, photo Photo) (Reply, error) {
	deviceID, err := m.decodePhoto(photo)
	if err != nil {
		return Reply{Text: "Could not read a QR code from that photo. Send another one."}, nil
	}

	name, err := sess.Account.GetVendingName(ctx, deviceID)
	if err != nil {
		return Reply{}, err
	}

	sess.DeviceID = deviceID
	sess.Codes = nil
	sess.State = StateAwaitingBarcodes
	return Reply{Text: fmt.Sprintf("Buying at %s. Send photos of the item barcodes.", name)}, nil
}

// CompleteBatch resolves one debounced batch of barcode photos. deviceID is
// the machine the batch was collected for. Batches that fire after the
// session has left the barcode state (the purchase was already confirmed or
// cancelled, or a new flow started), or whose device no longer matches the
// live session, are dropped silently.
func (m *Machine) CompleteBatch(ctx context.Context, key Key, sess *Session, deviceID string, photos []Photo) (Reply, error) {
	if sess.State != StateAwaitingBarcodes || sess.DeviceID != deviceID {
		logger.Debug(ctx, "flow", "flow.batch.drop",
			slog.Int64("chat_id", key.ChatID),
			slog.Int64("user_id", key.UserID),
			slog.String("state", string(sess.State)),
			slog.String("device_id", deviceID),
		)
		return Reply{}, nil
	}

	var failed []string
	for _, photo := range photos {
		code, err := m.decodePhoto(photo)
		if err != nil {
			failed = append(failed, photo.Label)
			continue
		}
		sess.Codes = append(sess.Codes, code)
	}

	logger.Debug(ctx, "flow", "flow.batch",
		slog.Int64("chat_id", key.ChatID),
		slog.Int64("user_id", key.UserID),
		slog.Int("decoded", len(photos)-len(failed)),
		slog.Int("failed", len(failed)),
	)

	if len(failed) > 0 {
		return Reply{Text: fmt.Sprintf(
			"Could not read a barcode from: %s. Send replacement photos for those items.",
			strings.Join(failed, ", "),
		)}, nil
	}

	products, err := m.catalog.Products(ctx, sess.DeviceID)
	if err != nil {
		return Reply{}, err
	}

	counts := make(map[string]int, len(sess.Codes))
	for _, code := range sess.Codes {
		if _, ok := products[code]; !ok {
			// A code the machine does not sell means a mis-scan; retrying
			// the same photos would loop forever, so abort the whole flow.
			sess.reset()
			return Reply{Text: fmt.Sprintf(
				"Scanned code %s is not sold by this machine — most likely a mis-scan. The purchase was aborted; start over.",
				code,
			)}, nil
		}
		counts[code]++
	}

	total := 0
	lines := make([]string, 0, len(counts))
	for code, count := range counts {
		product := products[code]
		total += product.Price * count
		lines = append(lines, fmt.Sprintf("%d × %s — %d₽", count, product.Name, product.Price*count))
	}
	sort.Strings(lines)

	sess.Pending = &Purchase{ItemCounts: counts, TotalPrice: total}
	sess.State = StateAwaitingPurchaseConfirmation

	text := fmt.Sprintf("%s\nTotal: %d₽", strings.Join(lines, "\n"), total)
	return Reply{
		Text: text,
		Choices: []Choice{
			{Label: "✅ Pay", Action: ActionConfirm, Data: ConfirmYes},
			{Label: "❌ Cancel", Action: ActionConfirm, Data: ConfirmNo},
			{Label: "➕ Add more", Action: ActionConfirm, Data: ConfirmMore},
		},
	}, nil
}

// Confirm handles the yes/no/add-more callback on a pending purchase.
func (m *Machine) Confirm(ctx context.Context, key Key, sess *Session, data string) (Reply, error) {
	if sess.State != StateAwaitingPurchaseConfirmation || sess.Pending == nil {
		return Reply{Text: unknownOperationText}, nil
	}

	switch data {
	case ConfirmYes:
		items := make([]nalunch.VendingItem, 0, len(sess.Pending.ItemCounts))
		for id, count := range sess.Pending.ItemCounts {
			items = append(items, nalunch.VendingItem{ID: id, Count: count})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

		account := sess.Account
		deviceID := sess.DeviceID
		// A failed payment is not retried automatically; either way the
		// flow is over.
		amount, err := account.PayVending(ctx, deviceID, items)
		sess.reset()
		if err != nil {
			return Reply{}, err
		}

		m.record(ctx, Settlement{
			Key:      key,
			Account:  account.Name(),
			Kind:     "vending",
			DeviceID: deviceID,
			Amount:   amount,
			Items:    len(items),
		})
		metrics.PaymentSettled("vending", amount)
		return Reply{Text: fmt.Sprintf("Paid %d₽ from %s.", amount, account.Name())}, nil

	case ConfirmNo:
		sess.reset()
		return Reply{Text: "Cancelled."}, nil

	case ConfirmMore:
		sess.Pending = nil
		sess.State = StateAwaitingBarcodes
		return Reply{Text: "Send more item barcode photos."}, nil

	default:
		return Reply{Text: unknownOperationText}, nil
	}
}

// RejectUnknown is the reply for callbacks and photos no state expects.
func (m *Machine) RejectUnknown() Reply {
	return Reply{Text: unknownOperationText}
}

func (m *Machine) decodePhoto(photo Photo) (string, error) {
	rc, err := photo.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return m.decoder.Decode(rc)
}

func (m *Machine) record(ctx context.Context, s Settlement) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(ctx, s)
}
