package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic       = errors.New("invalid magic number: expected STRA")
	ErrVersionMismatch    = errors.New("package version mismatch")
	ErrCorruptHeader      = errors.New("corrupt package header")
	ErrCorruptData        = errors.New("corrupt package data")
	ErrUnexpectedEOF      = errors.New("unexpected end of package data")
	ErrInvalidNameIndex   = errors.New("invalid name index")
	ErrInvalidObjectIndex = errors.New("invalid object index")
	ErrInvalidText        = errors.New("text is not valid UTF-8 or contains a zero character")

	ErrPackageNotFound  = errors.New("package not found")
	ErrNoStore          = errors.New("runtime has no package store")
	ErrTransientPackage = errors.New("transient package cannot be saved")
	ErrPrivateReference = errors.New("graph is linked to a private object in another package")
	ErrConformMismatch  = errors.New("package does not conform to previous generation")
	ErrNameCollision    = errors.New("object name already in use")
	ErrNotLinked        = errors.New("struct is not linked")
	ErrAbstractClass    = errors.New("cannot instantiate abstract class")
	ErrWrongOuter       = errors.New("outer object is not of the class's within class")
	ErrDependencyCycle  = errors.New("export dependency cycle")
)

// FatalError reports a reflection self-inconsistency. The layout system can no
// longer be trusted once one is raised, so it travels as a panic.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Msg
}

func fatalf(format string, args ...any) *FatalError {
	return &FatalError{Msg: fmt.Sprintf(format, args...)}
}

// PackageError ties a load or save failure to the package being processed.
type PackageError struct {
	Package string
	Op      string
	Err     error
}

func packageErrf(pkg, op string, err error) error {
	return &PackageError{Package: pkg, Op: op, Err: err}
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

func (e *PackageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Package, e.Err)
}
