package dag

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateCommit reports that the computed state is already recorded.
	// Callers usually adopt the existing commit, see DuplicateCommitError.
	ErrDuplicateCommit = errors.New("duplicate commit")
	// ErrUnknownParent reports a parent that has not been inserted yet.
	ErrUnknownParent = errors.New("unknown parent commit")
	// ErrMultipleTips is returned by Partition.Commit while history is
	// diverged. Merge first.
	ErrMultipleTips = errors.New("partition has multiple tips")
	// ErrNotATip is returned by Partition.Merge for a non-tip argument.
	ErrNotATip = errors.New("commit is not a tip")
	// ErrNoCommonAncestor means two commits share no ancestor. The root is
	// an ancestor of everything, so this signals a corrupt graph.
	ErrNoCommonAncestor = errors.New("no common ancestor")
	ErrSelfParent       = errors.New("commit lists itself as parent")
	ErrParentCount      = errors.New("invalid parent list")
	// ErrIntegrity reports a commit whose replayed state does not hash to
	// its id.
	ErrIntegrity       = errors.New("commit integrity check failed")
	ErrUnknownCommit   = errors.New("unknown commit")
	ErrNotConflicted   = errors.New("element is not conflicted")
	ErrAmbiguousPrefix = errors.New("ambiguous commit prefix")
)

// DuplicateCommitError carries the commit that already holds the state.
type DuplicateCommitError struct {
	Existing *Commit
}

func (e *DuplicateCommitError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDuplicateCommit, e.Existing.ID.Short())
}

func (e *DuplicateCommitError) Is(target error) bool {
	return target == ErrDuplicateCommit
}

// UnknownParentError names the missing parent.
type UnknownParentError struct {
	Parent Sum
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnknownParent, e.Parent.Short())
}

func (e *UnknownParentError) Is(target error) bool {
	return target == ErrUnknownParent
}

// IntegrityError reports the sum a commit claimed and the one its state
// actually hashes to.
type IntegrityError struct {
	Claimed Sum
	Actual  Sum
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: commit %s replays to %s", ErrIntegrity, e.Claimed.Short(), e.Actual.Short())
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
