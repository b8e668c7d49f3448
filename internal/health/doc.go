// Package health decides whether the bot is in maintenance mode.
//
// The agent service's unauthenticated health endpoint is checked at startup
// and then on a robfig/cron schedule. While a check fails the bot tells users
// it is under maintenance instead of queueing their messages.
package health
