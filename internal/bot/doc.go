// Package bot implements the conversation flow independent of the chat platform.
//
// /start asks an unknown user for a pseudonym; their next message is taken
// as that pseudonym and triggers provisioning. Registered users' messages are
// queued for the delivery loop. /forget removes the agent and the user record.
package bot
