// Package delivery runs the background loop that forwards queued user
// messages to their agent and routes the reply back.
//
// Each pass visits every known user in the queue's stable order and delivers
// at most one message per user before moving on, so one chatty user delays
// others by at most one delivery. After each pass the loop pauses for the
// poll interval; when a pass found nothing it also waits for an enqueue
// signal instead of spinning.
//
// Delivery is at most once per dequeue. A failed message is answered with an
// apology and never re-enqueued. A user with no agent bound is told to
// register again and nothing is sent upstream.
package delivery
