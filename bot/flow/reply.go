package flow

// Choice is one selectable option attached to a reply. The transport renders
// choices as inline keyboard buttons and feeds the pressed one back as a
// callback with the same action and data.
type Choice struct {
	Label  string
	Action string
	Data   string
}

// Reply is the single outbound message a transition produces. A zero Reply
// means the transition emits nothing.
type Reply struct {
	Text    string
	Choices []Choice
}

// Empty reports whether the reply carries no message.
func (r Reply) Empty() bool {
	return r.Text == "" && len(r.Choices) == 0
}

// Callback actions understood by the flow.
const (
	// ActionAccount carries the index of the chosen account.
	ActionAccount = "naacct"
	// ActionDevice carries the chosen device id or DeviceOther.
	ActionDevice = "nadev"
	// ActionConfirm carries one of ConfirmYes/ConfirmNo/ConfirmMore.
	ActionConfirm = "naconf"
)

// DeviceOther is the device-chooser payload for "scan the machine instead".
const DeviceOther = "other"

// Confirmation payloads.
const (
	ConfirmYes  = "yes"
	ConfirmNo   = "no"
	ConfirmMore = "more"
)
