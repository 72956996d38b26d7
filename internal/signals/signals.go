// Package signals is a tiny in-process wakeup bus, used to nudge background
// workers instead of having them rely on polling intervals alone.
package signals

import (
	"math/rand"
	"sync"
)

type Signal string

// NewReport a bulk run finished and enqueued its delivery report.
const NewReport Signal = "new-report"

var mu sync.RWMutex
var sigs = map[Signal][]chan struct{}{}

// Notify wakes one random listener, if any. Never blocks.
func Notify(channel Signal) {
	mu.RLock()
	defer mu.RUnlock()
	chans := sigs[channel]
	l := len(chans)
	if l > 0 {
		select {
		case chans[rand.Intn(l)] <- struct{}{}:
		default:
		}
	}
}

// Broadcast wakes every listener. Never blocks.
func Broadcast(channel Signal) {
	mu.RLock()
	defer mu.RUnlock()
	for _, c := range sigs[channel] {
		select {
		case c <- struct{}{}:
		default:
		}
	}
}

func Listen(channel Signal) (signal <-chan struct{}, cancel func()) {
	mu.Lock()
	defer mu.Unlock()
	c := make(chan struct{}, 1)
	sigs[channel] = append(sigs[channel], c)

	return c, func() {
		mu.Lock()
		defer mu.Unlock()

		var chans []chan struct{}
		for _, cc := range sigs[channel] {
			if cc == c {
				continue
			}
			chans = append(chans, cc)
		}
		sigs[channel] = chans
	}
}
