// Package sched holds per-task execution state and the ready queues.
//
// Tasks move through Ready, Running, Blocked and Dead. A blocking call
// registers a Waiter with the awaited resource, releases the resource lock,
// then calls Block. Whoever satisfies the condition fires the waiter, which
// puts the task back on its ready queue. A waiter fires at most once, so a
// wake that races with a timeout or a kill is never lost or doubled.
//
// Lock order is Task.mu before Scheduler.mu. Resource locks may be held while
// firing a waiter, but never while calling Block.
package sched
