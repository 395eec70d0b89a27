package cagent

import "fmt"

// UnknownAttribDefError is returned when publishing a schema
// from an attribute definition the agent does not have.
type UnknownAttribDefError struct {
	Name string
}

func (e *UnknownAttribDefError) Error() string {
	return fmt.Sprintf("unknown attribute definition %q", e.Name)
}
