package supervisor

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

var signals = map[string]os.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGINT":  syscall.SIGINT,
	"SIGKILL": syscall.SIGKILL,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGHUP":  syscall.SIGHUP,
}

// ParseSignal maps a signal name such as "SIGTERM" or "term" to a signal.
// An empty name is SIGTERM.
func ParseSignal(name string) (os.Signal, error) {
	if name == "" {
		return syscall.SIGTERM, nil
	}
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	sig, ok := signals[n]
	if !ok {
		return nil, fmt.Errorf("supervisor: unknown stop signal %q", name)
	}
	return sig, nil
}
