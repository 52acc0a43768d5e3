package core

import (
	"fmt"
	"strings"
	"sync"
)

// CommandHandler handles one received command. cmd is the full frame text,
// verb included; the handler parses its own arguments.
type CommandHandler func(cmd string) error

// Command is one entry of a dispatch table
type Command struct {
	Prefix  string
	Handler CommandHandler
}

// CommandTable maps frame prefixes to handlers. Lookup walks the entries in
// registration order and the first prefix that matches wins.
type CommandTable struct {
	mu       sync.RWMutex
	commands []Command
}

// NewCommandTable creates an empty table
func NewCommandTable() *CommandTable {
	return &CommandTable{}
}

// Register appends a command. Registering a prefix twice keeps the first
// entry.
func (t *CommandTable) Register(prefix string, handler CommandHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.commands {
		if c.Prefix == prefix {
			return
		}
	}
	t.commands = append(t.commands, Command{Prefix: prefix, Handler: handler})
}

// Lookup returns the first command whose prefix starts frame
func (t *CommandTable) Lookup(frame string) (Command, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, c := range t.commands {
		if strings.HasPrefix(frame, c.Prefix) {
			return c, true
		}
	}
	return Command{}, false
}

// Count returns the number of registered commands
func (t *CommandTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.commands)
}

// Dispatch calls the handler matching frame
func (t *CommandTable) Dispatch(frame string) error {
	c, ok := t.Lookup(frame)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoMatch, frame)
	}
	return c.Handler(frame)
}

// Dictionary returns the registered prefixes, one per line, in table order
func (t *CommandTable) Dictionary() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b strings.Builder
	for _, c := range t.commands {
		b.WriteString(c.Prefix)
		b.WriteByte('\n')
	}
	return b.String()
}
