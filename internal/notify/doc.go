// Package notify formats monitor notifications and delivers them.
//
// Delivery goes through the Notifier interface. Implementations live in
// the telegram and discord subpackages; ConsoleNotifier prints messages
// instead of sending them and backs dry-run mode.
//
// Messages use Telegram's HTML parse mode, so every piece of page text is
// escaped before it is embedded.
package notify
