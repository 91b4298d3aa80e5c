package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"qxGateway/internal/ports"
)

// StdinCodeProvider prompts on a terminal and reads one line per request.
type StdinCodeProvider struct {
	in       *bufio.Reader
	out      io.Writer
	mu       sync.Mutex
	inflight chan codeLine // read left running by a canceled request
}

type codeLine struct {
	text string
	err  error
}

// NewStdinCodeProvider reads answers from in and writes prompts to out.
func NewStdinCodeProvider(in io.Reader, out io.Writer) *StdinCodeProvider {
	return &StdinCodeProvider{in: bufio.NewReader(in), out: out}
}

// RequestCode prints prompt and waits for a line. The read runs in its own
// goroutine so ctx can end the wait; a read abandoned that way is picked up
// by the next request instead of starting a second reader.
func (p *StdinCodeProvider) RequestCode(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := fmt.Fprint(p.out, prompt); err != nil {
		return "", err
	}

	ch := p.inflight
	if ch == nil {
		ch = make(chan codeLine, 1)
		go func() {
			text, err := p.in.ReadString('\n')
			if err == io.EOF && text != "" {
				err = nil
			}
			ch <- codeLine{text: strings.TrimSpace(text), err: err}
		}()
	}

	select {
	case l := <-ch:
		p.inflight = nil
		if l.err != nil {
			return "", fmt.Errorf("read code: %w", l.err)
		}
		return l.text, nil
	case <-ctx.Done():
		p.inflight = ch
		return "", ctx.Err()
	}
}

// ErrNoPendingCode is returned by Submit when nobody is waiting for a code.
var ErrNoPendingCode = errors.New("no two-factor code is being awaited")

// ChannelCodeProvider hands codes from Submit (e.g. an HTTP handler) to a
// waiting login.
type ChannelCodeProvider struct {
	mu      sync.Mutex
	pending chan string
	prompt  string
}

// NewChannelCodeProvider creates an idle provider.
func NewChannelCodeProvider() *ChannelCodeProvider {
	return &ChannelCodeProvider{}
}

// RequestCode blocks until Submit delivers a code or ctx ends.
func (p *ChannelCodeProvider) RequestCode(ctx context.Context, prompt string) (string, error) {
	ch := make(chan string, 1)
	p.mu.Lock()
	p.pending = ch
	p.prompt = prompt
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending == ch {
			p.pending = nil
			p.prompt = ""
		}
		p.mu.Unlock()
	}()

	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the prompt of the request currently waiting, if any.
func (p *ChannelCodeProvider) Pending() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompt, p.pending != nil
}

// Submit delivers code to the waiting request.
func (p *ChannelCodeProvider) Submit(code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return ErrNoPendingCode
	}
	select {
	case p.pending <- code:
		p.pending = nil
		p.prompt = ""
		return nil
	default:
		return ErrNoPendingCode
	}
}

var (
	_ ports.CodeProvider = (*StdinCodeProvider)(nil)
	_ ports.CodeProvider = (*ChannelCodeProvider)(nil)
)
