// Package matrix connects the bot to a Matrix homeserver with mautrix.
//
// The bridge auto-joins rooms it is invited to, ignores its own and
// pre-start events, drops redelivered events, and feeds each user's messages
// to the bot through a per-user inbox so they are handled in order. It also
// implements SendText and SetTyping for outbound traffic, remembering which
// room each user talks in.
package matrix
