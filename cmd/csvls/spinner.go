package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// spinner animates a progress line. When animate is false it prints the
// message once, so logs and pipes stay readable.
type spinner struct {
	out     io.Writer
	frames  []string
	delay   time.Duration
	stop    chan struct{}
	done    chan struct{}
	msg     string
	animate bool
	mu      sync.Mutex
}

func newSpinner(out io.Writer, msg string, animate bool) *spinner {
	return &spinner{
		out:     out,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		delay:   80 * time.Millisecond,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		msg:     msg,
		animate: animate,
	}
}

func (s *spinner) Start() {
	if !s.animate {
		fmt.Fprintf(s.out, "│%s\n", s.msg)
		close(s.done)
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.delay)
		defer ticker.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r%s%s", s.frames[i%len(s.frames)], s.msg)
			s.mu.Unlock()
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *spinner) Stop() {
	s.StopWithSymbol("✓")
}

func (s *spinner) StopWithSymbol(symbol string) {
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.animate {
		// Clear line and print final state
		fmt.Fprintf(s.out, "\r\033[K%s%s\n", symbol, s.msg)
		return
	}
	fmt.Fprintf(s.out, "%s%s\n", symbol, s.msg)
}
