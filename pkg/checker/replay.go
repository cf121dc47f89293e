package checker

import "fmt"

// Replay restores the application to match stack's top state: find the deepest ancestor on stack holding a Snapshot,
// restore it, then re-execute the Executed request recorded on each
// intervening State until the target depth is reached. Called after
// every backtrack, since the live application has already advanced
// past whatever ancestor exploration resumes from.
func Replay(app Application, stack []*State) error {
	if len(stack) == 0 {
		return nil
	}

	anchor := -1
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].Snapshot != nil {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		return fmt.Errorf("checker: replay found no ancestor snapshot (checkpoint_period misconfigured?)")
	}

	if err := app.RestoreSnapshot(stack[anchor].Snapshot); err != nil {
		return &Error{Kind: KindIoError, Err: err}
	}

	for i := anchor; i < len(stack)-1; i++ {
		prev := stack[i]
		if prev.Executed == nil {
			return fmt.Errorf("checker: replay hit a state with no recorded request at depth %d", i)
		}
		if err := app.Execute(prev.Executed.Actor, *prev.Executed); err != nil {
			return &Error{Kind: KindIoError, Err: err}
		}
	}
	return nil
}
