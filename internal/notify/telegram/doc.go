// Package telegram delivers monitor notifications through the Telegram Bot API.
//
// The client is built on telebot. The bot token is checked with getMe when
// the client is created. Messages go to a single chat, identified either by
// a numeric chat ID or by an @channel username.
package telegram
