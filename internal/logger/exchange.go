package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	exchangeMu  sync.Mutex
	exchangeLog *log.Logger
)

// SetExchangeWriter routes raw provider prompts and responses to w. A nil
// writer disables the dump.
func SetExchangeWriter(w io.Writer) {
	exchangeMu.Lock()
	defer exchangeMu.Unlock()
	if w == nil {
		exchangeLog = nil
		return
	}
	exchangeLog = log.New(w, "", log.LstdFlags)
}

// LogProviderExchange writes one prompt/response pair for provider.
func LogProviderExchange(provider, purpose, prompt, response string) {
	exchangeMu.Lock()
	out := exchangeLog
	exchangeMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[PROVIDER][")
	b.WriteString(provider)
	b.WriteString("]")
	if purpose != "" {
		b.WriteString("[")
		b.WriteString(purpose)
		b.WriteString("]")
	}
	b.WriteString("\n--- PROMPT ---\n")
	b.WriteString(strings.TrimRight(prompt, "\n"))
	b.WriteString("\n--- RESPONSE ---\n")
	b.WriteString(strings.TrimRight(response, "\n"))
	b.WriteString("\n=====\n")
	out.Print(b.String())
}
