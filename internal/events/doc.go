// Package events is the process-wide publish/subscribe channel that carries
// acquisition progress and log entries to every attached observer.
//
// A Broadcaster fans each published value out to all current subscribers.
// Publishing never blocks: every subscription owns an unbounded FIFO that a
// dedicated goroutine drains into the subscriber's channel, so a slow observer
// delays only itself. All subscribers see values in publish order. There is no
// replay buffer: a subscription receives only what is published after it was
// created.
//
// Bus bundles the two topics observers consume:
//
//	bus := events.NewBus()
//	sub := bus.Logs.Subscribe()
//	defer sub.Unsubscribe()
//	for entry := range sub.C() {
//	    fmt.Println(entry.Level, entry.Message)
//	}
package events
