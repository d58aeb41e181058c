// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (scope:action:payload)
//   - A message builder with safe HTML defaults
//
// Everything here renders for ParseMode="HTML"; plain user input is
// escaped before it touches a message.
package tgui
