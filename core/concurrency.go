package core

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// concurrencyModeKind is unexported so the set of WriteConcurrencyMode values
// cannot be extended outside this package.
type concurrencyModeKind uint8

const (
	singleWriterKind concurrencyModeKind = iota
	optimisticConcurrencyControlKind

	// numConcurrencyModeKinds must stay last.
	numConcurrencyModeKinds
)

// WriteConcurrencyMode selects how concurrent writers coordinate access to
// the same table. Values are immutable and safe to share between goroutines.
// The zero value is SingleWriter.
type WriteConcurrencyMode struct {
	kind concurrencyModeKind
}

var (
	// SingleWriter allows only one active writer to the table. No locking or
	// conflict detection is required.
	SingleWriter = WriteConcurrencyMode{kind: singleWriterKind}

	// OptimisticConcurrencyControl allows multiple writers. The write path must
	// acquire a lock and run lazy conflict detection; only one writer succeeds
	// when several write to the same file group.
	OptimisticConcurrencyControl = WriteConcurrencyMode{kind: optimisticConcurrencyControlKind}
)

// ModeVisitor has one method per WriteConcurrencyMode variant. Anything that
// branches on the mode should implement it so that a new variant fails to
// compile until every branch handles it.
type ModeVisitor[T any] interface {
	SingleWriter() T
	OptimisticConcurrencyControl() T
}

// VisitMode dispatches m to the matching method of v.
func VisitMode[T any](m WriteConcurrencyMode, v ModeVisitor[T]) T {
	switch m.kind {
	case singleWriterKind:
		return v.SingleWriter()
	case optimisticConcurrencyControlKind:
		return v.OptimisticConcurrencyControl()
	default:
		panic(fmt.Sprintf("core: unhandled write concurrency mode kind %d", m.kind))
	}
}

// WriteConcurrencyModes returns every mode in declaration order.
func WriteConcurrencyModes() []WriteConcurrencyMode {
	return []WriteConcurrencyMode{SingleWriter, OptimisticConcurrencyControl}
}

// DefaultWriteConcurrencyMode is the mode used when nothing is configured.
func DefaultWriteConcurrencyMode() WriteConcurrencyMode {
	return SingleWriter
}

type identityVisitor struct{}

func (identityVisitor) SingleWriter() string                 { return "single_writer" }
func (identityVisitor) OptimisticConcurrencyControl() string { return "optimistic_concurrency_control" }

type descriptionVisitor struct{}

func (descriptionVisitor) SingleWriter() string {
	return "Only one active writer to the table. Maximizes throughput."
}

func (descriptionVisitor) OptimisticConcurrencyControl() string {
	return "Multiple writers can operate on the table with lazy conflict resolution using locks. " +
		"This means that only one writer will succeed if multiple write to the same file group"
}

type occVisitor struct{}

func (occVisitor) SingleWriter() bool                 { return false }
func (occVisitor) OptimisticConcurrencyControl() bool { return true }

// String returns the canonical lowercase identity of the mode. This is the
// only form that is ever persisted.
func (m WriteConcurrencyMode) String() string {
	return VisitMode[string](m, identityVisitor{})
}

// Value is an alias of String.
func (m WriteConcurrencyMode) Value() string {
	return m.String()
}

// Description returns the human-readable help text of the mode.
func (m WriteConcurrencyMode) Description() string {
	return VisitMode[string](m, descriptionVisitor{})
}

// IsDefault reports whether m is the mode used when nothing is configured.
func (m WriteConcurrencyMode) IsDefault() bool {
	return m == DefaultWriteConcurrencyMode()
}

// SupportsOptimisticConcurrencyControl reports whether the write path must
// engage its lock provider and conflict resolution.
func (m WriteConcurrencyMode) SupportsOptimisticConcurrencyControl() bool {
	return VisitMode[bool](m, occVisitor{})
}

// ParseWriteConcurrencyMode converts a configuration value to a mode. The
// input is lowercased before matching and is otherwise compared verbatim.
// An unknown value yields a *ConfigurationError wrapping
// ErrInvalidConcurrencyMode.
func ParseWriteConcurrencyMode(raw string) (WriteConcurrencyMode, error) {
	// A Caser holds state and must not be shared across goroutines.
	folded := cases.Lower(language.Und).String(raw)
	for _, m := range WriteConcurrencyModes() {
		if m.String() == folded {
			return m, nil
		}
	}
	return WriteConcurrencyMode{}, &ConfigurationError{
		Key:   WriteConcurrencyModeKey,
		Value: raw,
		Err:   ErrInvalidConcurrencyMode,
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m WriteConcurrencyMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with the same rules as
// ParseWriteConcurrencyMode. On error m is left unchanged.
func (m *WriteConcurrencyMode) UnmarshalText(text []byte) error {
	parsed, err := ParseWriteConcurrencyMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
