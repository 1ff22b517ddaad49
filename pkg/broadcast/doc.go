// Package broadcast provides a typed, non-blocking, in-memory fan-out.
//
//	b := broadcast.New[Event](16)
//	defer b.Close()
//
//	sub := b.Subscribe(ctx)
//	go func() {
//		for ev := range sub.C() {
//			fmt.Println(ev)
//		}
//	}()
//	b.Publish(ev)
//
// Publish never blocks the caller; slow subscribers miss values instead.
package broadcast
