/*
Package resilience bounds the kernel's fallible internal paths.

The kernel must never wait without limit when an internal resource such as a
physical frame is unavailable. Two tools cover that:

  - Retry repeats a call a fixed number of times with doubling backoff.
  - Breaker fails calls fast once a run of consecutive failures has been seen,
    then admits a single probe after a cooldown.

The frame allocation path composes them:

	breaker := resilience.New("frames", resilience.Settings{
		Threshold: 8,
		Cooldown:  50 * time.Millisecond,
		IsFailure: func(err error) bool { return errors.Is(err, kerr.ErrOutOfMemory) },
	})

	pa, err := resilience.Do(breaker, func() (mm.PhysAddr, error) {
		var pa mm.PhysAddr
		err := resilience.Retry(ctx, policy, func() (err error) {
			pa, err = frames.AllocFrame()
			return err
		})
		return pa, err
	})

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open --[probe ok]-> Closed
	                                  ^                     |
	                                  +----[probe failed]---+
*/
package resilience
