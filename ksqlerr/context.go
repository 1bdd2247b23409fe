package ksqlerr

import "fmt"

// WrapQuery wraps err with the query id and source name so that errors
// surfaced by sinks are self-describing for log correlation.
func WrapQuery(err error, component, queryID, source string) error {
	return fmt.Errorf("%s[query=%s source=%s]: %w", component, queryID, source, err)
}
