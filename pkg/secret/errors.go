package secret

import "fmt"

// IdentityError is returned when no bare name can be recovered from the
// inputs given to Naming.Parse.
type IdentityError struct {
	Source Source
}

func (e IdentityError) Error() string {
	return fmt.Sprintf("cannot derive secret name from name=%q pointer=%q store key=%q",
		e.Source.Name, e.Source.PointerName, e.Source.StoreKey)
}

// StageLabelError is returned by Naming.ParseStage for labels that are not
// ours.
type StageLabelError struct {
	Label  string
	Prefix string
}

func (e StageLabelError) Error() string {
	return fmt.Sprintf("version stage %q does not match %q<number>", e.Label, e.Prefix)
}

// PointerValueError is returned when a pointer variable holds something other
// than an integer version number.
type PointerValueError struct {
	PointerName string
	Value       string
	Err         error
}

func (e PointerValueError) Error() string {
	return fmt.Sprintf("pointer %s has invalid version number %q", e.PointerName, e.Value)
}

func (e PointerValueError) Unwrap() error {
	return e.Err
}
