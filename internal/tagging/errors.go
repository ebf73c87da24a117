package tagging

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedOutput is matched by every ParseError.
	ErrUnexpectedOutput = errors.New("unexpected command output")
	// ErrUnknownTagger is returned by Lookup for unregistered names.
	ErrUnknownTagger = errors.New("unknown tagger")
	// ErrNoCommitSource is returned by the sha tagger when Env has no CommitSource.
	ErrNoCommitSource = errors.New("no commit source configured")
)

// ParseError reports a probe whose output did not contain the expected
// marker. Scanned holds the text that was searched.
type ParseError struct {
	Cmd     string
	Want    string
	Scanned string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("did not find %s in output of `%s`: %s", e.Want, e.Cmd, e.Scanned)
}

func (e *ParseError) Unwrap() error { return ErrUnexpectedOutput }
