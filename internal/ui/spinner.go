package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// SimpleSpinner is a blocking line spinner for steps that run before the
// console starts.
type SimpleSpinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once

	mu      sync.Mutex
	message string
}

func newSpinner(s spinner.Spinner, interval time.Duration, message string) *SimpleSpinner {
	return &SimpleSpinner{
		out:      os.Stderr,
		spinner:  s,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// NewSimpleSpinner creates a spinner for general loading operations (Dot style)
func NewSimpleSpinner(message string) *SimpleSpinner {
	return newSpinner(spinner.Dot, 80*time.Millisecond, message)
}

// NewConnectionSpinner creates a spinner for network operations (Globe style)
func NewConnectionSpinner(message string) *SimpleSpinner {
	return newSpinner(spinner.Globe, 180*time.Millisecond, message)
}

func (s *SimpleSpinner) Start() {
	go func() {
		defer close(s.stopped)
		frames := s.spinner.Frames
		tick := time.NewTicker(s.interval)
		defer tick.Stop()

		for i := 0; ; i++ {
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), msg)

			select {
			case <-s.done:
				return
			case <-tick.C:
			}
		}
	}()
}

// Stop halts the spinner and clears its line. It is safe to call twice.
func (s *SimpleSpinner) Stop() {
	s.once.Do(func() {
		close(s.done)
		<-s.stopped
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *SimpleSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

func (s *SimpleSpinner) Error(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(IconError), message)
}

func (s *SimpleSpinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// RunSpinner starts a loading spinner and returns a stop function
func RunSpinner(message string) func() {
	sp := NewSimpleSpinner(message)
	sp.Start()
	return sp.Stop
}

// RunConnectionSpinner starts a connection spinner and returns it so the
// caller can finish with Success or Error.
func RunConnectionSpinner(message string) *SimpleSpinner {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp
}
