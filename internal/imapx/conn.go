package imapx

import (
	"context"
	"time"

	"github.com/brandon/mailsync/pkg/types"
)

// Address is one structured sender/recipient entry.
type Address struct {
	Name  string
	Email string
}

// Envelope carries the header fields the sync engine normalizes. Sender
// and recipient may arrive as a pre-rendered display string, a structured
// address list, or both, depending on the upstream provider.
type Envelope struct {
	Subject     string
	Date        time.Time
	FromDisplay string
	From        []Address
	ToDisplay   string
	To          []Address
}

// RawMessage is one transport-layer message as fetched from the server.
type RawMessage struct {
	UID      uint32
	Flags    []string
	Raw      []byte
	Envelope Envelope
}

// Conn is a single logical connection to a mailbox server.
type Conn interface {
	// OpenFolder selects a folder and returns the server-reported total
	// message count.
	OpenFolder(name string) (total uint32, err error)
	// EnumerateUIDs lists all message identifiers in the currently open
	// folder. The upstream protocol offers no reliable server-side
	// "greater than" filter, so callers diff against their cursor.
	EnumerateUIDs() ([]uint32, error)
	// FetchMessage retrieves one message with its flags and raw bytes.
	FetchMessage(uid uint32) (*RawMessage, error)
	// Probe performs a lightweight round-trip health check.
	Probe() error
	// Authenticated reports whether the connection is in an
	// authenticated protocol state.
	Authenticated() bool
	Close() error
}

// Dialer constructs connections for an account.
type Dialer interface {
	Dial(ctx context.Context, account *types.Account) (Conn, error)
}
