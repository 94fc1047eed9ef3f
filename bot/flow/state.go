package flow

// State identifies the step a purchase conversation is waiting on.
type State string

const (
	// StateIdle indicates there is no active purchase flow.
	StateIdle State = "idle"
	// StateAwaitingAccountChoice waits for an account-selection callback.
	StateAwaitingAccountChoice State = "awaiting_account_choice"
	// StateAwaitingVendingChoice waits for a device-selection callback.
	StateAwaitingVendingChoice State = "awaiting_vending_choice"
	// StateAwaitingQrBill waits for a single bill QR photo.
	StateAwaitingQrBill State = "awaiting_qr_bill"
	// StateAwaitingVendingQr waits for a device-identifying QR photo.
	StateAwaitingVendingQr State = "awaiting_vending_qr"
	// StateAwaitingBarcodes waits for one or more item barcode photos.
	StateAwaitingBarcodes State = "awaiting_barcodes"
	// StateAwaitingPurchaseConfirmation waits for a yes/no/add-more callback.
	StateAwaitingPurchaseConfirmation State = "awaiting_purchase_confirmation"
)

// Purpose selects which payment flavor an account is being chosen for.
type Purpose string

const (
	// PurposeQrBill pays a restaurant bill by its QR code.
	PurposeQrBill Purpose = "qr_bill"
	// PurposeVending pays for items bought from a vending machine.
	PurposeVending Purpose = "vending"
)
