package tgui

import tele "gopkg.in/telebot.v4"

// ConfirmInline builds a simple 2-button confirm keyboard.
func ConfirmInline(yes, no tele.Btn) *Inline {
	return NewInline().Row(yes, no)
}

// CancelBtn is the standard dismiss button. Handlers for the "ui"
// scope edit the prompt away when it fires.
func CancelBtn() tele.Btn {
	return Btn("Cancel", Data("ui", "cancel", ""))
}
