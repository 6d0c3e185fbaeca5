// Package scheduler runs push event handlers in partition order.
//
// Every partition id owns a task queue. The first Add for an idle partition
// starts a worker goroutine which drains the queue one task at a time and
// exits once the queue is empty. Tasks of one partition therefore never
// overlap and run in the order they were added, while different partitions
// run concurrently. Partition id -1 (not partition bound) is a partition of
// its own.
//
// A handler failure (returned error or panic) is counted and reported to the
// OnError callback as an ErrorEvent. The callback may replace the error and
// may mark the event handled. Failures nobody handled are counted separately
// and logged.
//
// Example:
//
//	s := scheduler.New()
//	s.OnError(func(ev *scheduler.ErrorEvent) { ev.Handled = true })
//	sub := scheduler.NewSubscription(func(msg *protocol.Message) error {
//		fmt.Println(msg)
//		return nil
//	})
//	s.Add(sub, event)
//	_ = s.Dispose(ctx)
package scheduler
