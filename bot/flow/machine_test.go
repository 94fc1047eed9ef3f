package flow

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/nalunchbot/barcode"
	"github.com/m3rciful/nalunchbot/nalunch"
)

type fakeAccount struct {
	name       string
	balance    int
	balanceErr error

	payAmount int
	payErr    error
	paidPath  string

	vendAmount int
	vendErr    error
	vendDevice string
	vendItems  []nalunch.VendingItem

	vendingNames map[string]string
}

func (a *fakeAccount) Name() string { return a.name }

func (a *fakeAccount) GetBalance(context.Context) (int, error) {
	return a.balance, a.balanceErr
}

func (a *fakeAccount) Pay(_ context.Context, path string) (int, error) {
	a.paidPath = path
	return a.payAmount, a.payErr
}

func (a *fakeAccount) PayVending(_ context.Context, deviceID string, items []nalunch.VendingItem) (int, error) {
	a.vendDevice = deviceID
	a.vendItems = items
	return a.vendAmount, a.vendErr
}

func (a *fakeAccount) GetVendingName(_ context.Context, deviceID string) (string, error) {
	name, ok := a.vendingNames[deviceID]
	if !ok {
		return "", errors.New("no such device")
	}
	return name, nil
}

// fakeDecoder maps photo contents to code payloads; unknown contents fail.
type fakeDecoder struct {
	codes map[string]string
}

func (d *fakeDecoder) Decode(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	code, ok := d.codes[string(raw)]
	if !ok {
		return "", barcode.ErrNotFound
	}
	return code, nil
}

type fakeCatalog struct {
	products map[string]map[string]nalunch.Product
	err      error
}

func (c *fakeCatalog) Products(_ context.Context, deviceID string) (map[string]nalunch.Product, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.products[deviceID], nil
}

type fakeRecorder struct {
	settlements []Settlement
}

func (r *fakeRecorder) Record(_ context.Context, s Settlement) {
	r.settlements = append(r.settlements, s)
}

func photoOf(label, content string) Photo {
	return Photo{
		Label: label,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func testMachine(t *testing.T) (*Machine, *fakeAccount, *fakeAccount, *fakeRecorder) {
	t.Helper()
	main := &fakeAccount{
		name:      "main",
		balance:   1250,
		payAmount: 420,
		vendingNames: map[string]string{
			"77": "Office Lobby",
		},
	}
	spare := &fakeAccount{name: "spare", balance: 90}
	catalog := &fakeCatalog{
		products: map[string]map[string]nalunch.Product{
			"42": {
				"4601234567890": {ID: "4601234567890", Name: "Water", Price: 150},
				"4609876543210": {ID: "4609876543210", Name: "Sandwich", Price: 300},
			},
		},
	}
	decoder := &fakeDecoder{codes: map[string]string{
		"bill":     "/payment/check/abc123",
		"water":    "4601234567890",
		"sandwich": "4609876543210",
		"plate":    "77",
	}}
	recorder := &fakeRecorder{}
	devices := []Device{{ID: "42", Name: "Kitchen"}, {ID: "43", Name: "Floor 3"}}
	m := NewMachine([]AccountClient{main, spare}, devices, catalog, decoder, recorder)
	return m, main, spare, recorder
}

func TestBalancesReportsEveryAccountInOrder(t *testing.T) {
	m, _, _, _ := testMachine(t)

	report, err := m.Balances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main: 1250₽\nspare: 90₽", report)
}

func TestBalancesAbortsOnFirstError(t *testing.T) {
	m, main, _, _ := testMachine(t)
	main.balanceErr = errors.New("billing unavailable")

	_, err := m.Balances(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing unavailable")
}

func TestStartOverridesInFlightSession(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateAwaitingBarcodes, DeviceID: "42", Codes: []string{"4601234567890"}}

	reply := m.StartQrBill(key, sess)

	assert.Equal(t, StateAwaitingAccountChoice, sess.State)
	assert.Equal(t, PurposeQrBill, sess.Purpose)
	assert.Empty(t, sess.Codes)
	assert.Empty(t, sess.DeviceID)
	require.Len(t, reply.Choices, 2)
	assert.Equal(t, "main", reply.Choices[0].Label)
	assert.Equal(t, ActionAccount, reply.Choices[0].Action)
	assert.Equal(t, "0", reply.Choices[0].Data)
}

func TestChooseAccountForQrBill(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartQrBill(key, sess)

	reply, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingQrBill, sess.State)
	assert.Contains(t, reply.Text, "main")
	assert.Empty(t, reply.Choices)
}

func TestChooseAccountForVendingOffersDevicesAndOther(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartVending(key, sess)

	reply, err := m.ChooseAccount(key, sess, "1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingVendingChoice, sess.State)
	require.Len(t, reply.Choices, 3)
	assert.Equal(t, "42", reply.Choices[0].Data)
	assert.Equal(t, DeviceOther, reply.Choices[2].Data)
}

func TestChooseAccountRejectsBadIndex(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartQrBill(key, sess)

	_, err := m.ChooseAccount(key, sess, "9")
	require.ErrorIs(t, err, ErrUnknownAccount)
}

func TestChooseAccountOutsideStateIsUnknownOperation(t *testing.T) {
	m, _, _, _ := testMachine(t)
	sess := &Session{State: StateIdle}

	reply, err := m.ChooseAccount(Key{}, sess, "0")
	require.NoError(t, err)
	assert.Equal(t, "Unknown operation", reply.Text)
	assert.Equal(t, StateIdle, sess.State)
}

func TestChooseDeviceKnown(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartVending(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)

	reply, err := m.ChooseDevice(key, sess, "42")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingBarcodes, sess.State)
	assert.Equal(t, "42", sess.DeviceID)
	assert.Contains(t, reply.Text, "Kitchen")
}

func TestChooseDeviceOtherAsksForQr(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartVending(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)

	_, err = m.ChooseDevice(key, sess, DeviceOther)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingVendingQr, sess.State)
}

func TestChooseDeviceUnknown(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartVending(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)

	_, err = m.ChooseDevice(key, sess, "999")
	require.ErrorIs(t, err, ErrUnknownDevice)
	assert.Equal(t, StateAwaitingVendingChoice, sess.State)
}

func TestQrBillPaymentSettles(t *testing.T) {
	m, main, _, recorder := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartQrBill(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)

	reply, err := m.HandlePhoto(context.Background(), key, sess, photoOf("photo 1", "bill"))
	require.NoError(t, err)
	assert.Equal(t, "/payment/check/abc123", main.paidPath)
	assert.Equal(t, "Paid 420₽ from main.", reply.Text)
	assert.Equal(t, StateIdle, sess.State)
	require.Len(t, recorder.settlements, 1)
	assert.Equal(t, "qr", recorder.settlements[0].Kind)
	assert.Equal(t, 420, recorder.settlements[0].Amount)
}

func TestQrBillDecodeFailureReprompts(t *testing.T) {
	m, main, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartQrBill(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)

	reply, err := m.HandlePhoto(context.Background(), key, sess, photoOf("photo 1", "blurry"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Send another one")
	assert.Equal(t, StateAwaitingQrBill, sess.State)
	assert.Empty(t, main.paidPath)
}

func TestQrBillPaymentFailureEndsFlow(t *testing.T) {
	m, main, _, recorder := testMachine(t)
	main.payErr = errors.New("Unable to pay: code = 402, text = insufficient funds")
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartQrBill(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)

	_, err = m.HandlePhoto(context.Background(), key, sess, photoOf("photo 1", "bill"))
	require.Error(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Empty(t, recorder.settlements)
}

func TestVendingQrIdentifiesDevice(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartVending(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)
	_, err = m.ChooseDevice(key, sess, DeviceOther)
	require.NoError(t, err)

	reply, err := m.HandlePhoto(context.Background(), key, sess, photoOf("photo 1", "plate"))
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingBarcodes, sess.State)
	assert.Equal(t, "77", sess.DeviceID)
	assert.Contains(t, reply.Text, "Office Lobby")
}

func barcodeSession(t *testing.T, m *Machine) (Key, *Session) {
	t.Helper()
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}
	m.StartVending(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)
	_, err = m.ChooseDevice(key, sess, "42")
	require.NoError(t, err)
	return key, sess
}

func TestCompleteBatchTalliesDuplicates(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key, sess := barcodeSession(t, m)

	reply, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{
		photoOf("photo 1", "water"),
		photoOf("photo 2", "water"),
		photoOf("photo 3", "sandwich"),
	})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPurchaseConfirmation, sess.State)
	require.NotNil(t, sess.Pending)
	assert.Equal(t, 600, sess.Pending.TotalPrice)
	assert.Equal(t, map[string]int{"4601234567890": 2, "4609876543210": 1}, sess.Pending.ItemCounts)
	assert.Contains(t, reply.Text, "2 × Water — 300₽")
	assert.Contains(t, reply.Text, "1 × Sandwich — 300₽")
	assert.Contains(t, reply.Text, "Total: 600₽")
	require.Len(t, reply.Choices, 3)
}

func TestCompleteBatchReportsUndecodablePhotos(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key, sess := barcodeSession(t, m)

	reply, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{
		photoOf("photo 1", "water"),
		photoOf("photo 2", "blurry"),
	})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingBarcodes, sess.State)
	assert.Contains(t, reply.Text, "photo 2")
	// The readable code is kept so only the failed photo needs resending.
	assert.Equal(t, []string{"4601234567890"}, sess.Codes)
}

func TestCompleteBatchAbortsOnUnknownCode(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key, sess := barcodeSession(t, m)

	reply, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{
		photoOf("photo 1", "plate"),
	})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Contains(t, reply.Text, "77")
	assert.Contains(t, reply.Text, "aborted")
}

func TestCompleteBatchDroppedWhenFlowMovedOn(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key := Key{ChatID: 1, UserID: 2}
	sess := &Session{State: StateIdle}

	reply, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{
		photoOf("photo 1", "water"),
	})
	require.NoError(t, err)
	assert.True(t, reply.Empty())
	assert.Equal(t, StateIdle, sess.State)
}

func TestCompleteBatchDroppedWhenDeviceChanged(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key, sess := barcodeSession(t, m)

	// The user restarted the flow and picked another machine before the
	// batch collected for the first one fired.
	m.StartVending(key, sess)
	_, err := m.ChooseAccount(key, sess, "0")
	require.NoError(t, err)
	_, err = m.ChooseDevice(key, sess, "43")
	require.NoError(t, err)

	reply, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{
		photoOf("photo 1", "water"),
	})
	require.NoError(t, err)
	assert.True(t, reply.Empty())
	assert.Equal(t, StateAwaitingBarcodes, sess.State)
	assert.Equal(t, "43", sess.DeviceID)
	assert.Nil(t, sess.Pending)
	assert.Empty(t, sess.Codes)
}

func TestConfirmYesPaysSortedItems(t *testing.T) {
	m, main, _, recorder := testMachine(t)
	main.vendAmount = 600
	key, sess := barcodeSession(t, m)
	_, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{
		photoOf("photo 1", "sandwich"),
		photoOf("photo 2", "water"),
		photoOf("photo 3", "water"),
	})
	require.NoError(t, err)

	reply, err := m.Confirm(context.Background(), key, sess, ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, "Paid 600₽ from main.", reply.Text)
	assert.Equal(t, StateIdle, sess.State)
	assert.Equal(t, "42", main.vendDevice)
	require.Equal(t, []nalunch.VendingItem{
		{ID: "4601234567890", Count: 2},
		{ID: "4609876543210", Count: 1},
	}, main.vendItems)
	require.Len(t, recorder.settlements, 1)
	assert.Equal(t, "vending", recorder.settlements[0].Kind)
	assert.Equal(t, "42", recorder.settlements[0].DeviceID)
}

func TestConfirmYesPaymentFailureStillEndsFlow(t *testing.T) {
	m, main, _, recorder := testMachine(t)
	main.vendErr = errors.New("Unable to pay for vending: code = 500, text = oops")
	key, sess := barcodeSession(t, m)
	_, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{photoOf("photo 1", "water")})
	require.NoError(t, err)

	_, err = m.Confirm(context.Background(), key, sess, ConfirmYes)
	require.Error(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Empty(t, recorder.settlements)
}

func TestConfirmNoCancels(t *testing.T) {
	m, main, _, _ := testMachine(t)
	key, sess := barcodeSession(t, m)
	_, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{photoOf("photo 1", "water")})
	require.NoError(t, err)

	reply, err := m.Confirm(context.Background(), key, sess, ConfirmNo)
	require.NoError(t, err)
	assert.Equal(t, "Cancelled.", reply.Text)
	assert.Equal(t, StateIdle, sess.State)
	assert.Empty(t, main.vendDevice)
}

func TestConfirmMoreKeepsCodes(t *testing.T) {
	m, _, _, _ := testMachine(t)
	key, sess := barcodeSession(t, m)
	_, err := m.CompleteBatch(context.Background(), key, sess, "42", []Photo{photoOf("photo 1", "water")})
	require.NoError(t, err)

	_, err = m.Confirm(context.Background(), key, sess, ConfirmMore)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingBarcodes, sess.State)
	assert.Nil(t, sess.Pending)
	assert.Equal(t, []string{"4601234567890"}, sess.Codes)

	// The next batch re-tallies everything scanned so far.
	_, err = m.CompleteBatch(context.Background(), key, sess, "42", []Photo{photoOf("photo 2", "sandwich")})
	require.NoError(t, err)
	require.NotNil(t, sess.Pending)
	assert.Equal(t, 450, sess.Pending.TotalPrice)
}

func TestConfirmOutsideStateIsUnknownOperation(t *testing.T) {
	m, _, _, _ := testMachine(t)
	sess := &Session{State: StateIdle}

	reply, err := m.Confirm(context.Background(), Key{}, sess, ConfirmYes)
	require.NoError(t, err)
	assert.Equal(t, "Unknown operation", reply.Text)
}

func TestPhotoOutsideStateIsUnknownOperation(t *testing.T) {
	m, _, _, _ := testMachine(t)
	sess := &Session{State: StateIdle}

	reply, err := m.HandlePhoto(context.Background(), Key{}, sess, photoOf("photo 1", "bill"))
	require.NoError(t, err)
	assert.Equal(t, "Unknown operation", reply.Text)
}
