package txn

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrNotActive         = errors.New("transaction is not active")
	ErrExpired           = errors.New("transaction expired")
	ErrConflict          = errors.New("transaction conflict")
	ErrLimitExceeded     = errors.New("transaction limit exceeded")
	ErrSavepointNotFound = errors.New("savepoint not found")
)

// Isolation is the visibility guarantee a transaction runs under.
type Isolation int

const (
	ReadUncommitted Isolation = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case ReadUncommitted:
		return "read_uncommitted"
	case ReadCommitted:
		return "read_committed"
	case RepeatableRead:
		return "repeatable_read"
	case Serializable:
		return "serializable"
	default:
		return fmt.Sprintf("isolation(%d)", int(i))
	}
}

// ParseIsolation accepts snake_case, CamelCase or spaced names.
func ParseIsolation(s string) (Isolation, error) {
	norm := strings.ToLower(s)
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)
	switch norm {
	case "readuncommitted":
		return ReadUncommitted, nil
	case "readcommitted", "":
		return ReadCommitted, nil
	case "repeatableread":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	default:
		return 0, fmt.Errorf("unknown isolation level %q", s)
	}
}

// validates reports whether commit checks observed versions.
func (i Isolation) validates() bool {
	return i == RepeatableRead || i == Serializable
}

type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Info is a read-only view of a transaction.
type Info struct {
	ID        string
	Isolation Isolation
	Status    Status
	Started   time.Time
	Deadline  time.Time
	Writes    int
	Reads     int
	Expired   bool
}

// Options tunes a Manager. Zero values select the defaults noted per field.
type Options struct {
	// DefaultTimeout applies when Begin is called without a timeout; zero means none.
	DefaultTimeout time.Duration
	// LockWait bounds how long a serializable Begin waits for the serialization slot. Default 30s.
	LockWait time.Duration
	// MaxActive caps concurrently active transactions. Default 1000.
	MaxActive int
	// MaxKeys caps the write set of one transaction. Default 10000.
	MaxKeys int
	// History is how many finished transaction ids are remembered. Default 4096.
	History int
}

func (o Options) withDefaults() Options {
	if o.LockWait <= 0 {
		o.LockWait = 30 * time.Second
	}
	if o.MaxActive <= 0 {
		o.MaxActive = 1000
	}
	if o.MaxKeys <= 0 {
		o.MaxKeys = 10000
	}
	if o.History <= 0 {
		o.History = 4096
	}
	return o
}
