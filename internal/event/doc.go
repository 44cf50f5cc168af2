/*
Package event provides the event bus between the orchestration engine and
presentation sinks (console renderer, SSE stream).

Publish calls typed subscribers synchronously in the publisher's goroutine, in
subscription order, so a renderer sees assistant output and tool events in the
order the session produced them. The same event is also JSON encoded onto a
watermill GoChannel topic; Stream exposes it to consumers that want a channel,
such as the HTTP event stream.

Subscribers run inside the orchestration loop and must return quickly. They
must not publish from within a callback.

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.ToolFinished, func(e event.Event) {
		data := e.Data.(event.ToolData)
		fmt.Println(data.Call.Name, data.Result.Status)
	})
	defer unsubscribe()

Components that only emit events depend on the Sink interface. Discard drops
everything.
*/
package event
