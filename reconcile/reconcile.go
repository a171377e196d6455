/*
DESCRIPTION
  Package reconcile provides the dedupe, merge and separate operations
  over a working set of subscriptions. The operations are pure and
  in-memory; any user choice they need is gathered up front through a
  Chooser, and any container they touch must already be loaded.

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean).

  This is free software: you can redistribute it and/or modify it
  under the terms of the GNU General Public License as published by
  the Free Software Foundation, either version 3 of the License, or
  (at your option) any later version.

  This is distributed in the hope that it will be useful, but WITHOUT
  ANY WARRANTY; without even the implied warranty of MERCHANTABILITY
  or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public
  License for more details.

  You should have received a copy of the GNU General Public License in
  gpl.txt. If not, see http://www.gnu.org/licenses/.
*/

// Package reconcile dedupes, merges and separates subscriptions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ausocean/subsync/model"
)

// ErrCancelled is returned by a Chooser when the user backs out. It
// aborts the current operation only.
var ErrCancelled = errors.New("cancelled")

// VetoError is a user-visible validation failure. The operation that
// returned it made no changes.
type VetoError struct {
	Msg string
}

func (e *VetoError) Error() string { return e.Msg }

// Veto returns a *VetoError with a formatted message.
func Veto(format string, args ...interface{}) error {
	return &VetoError{Msg: fmt.Sprintf(format, args...)}
}

// IsVeto returns true if err is or wraps a *VetoError.
func IsVeto(err error) bool {
	var v *VetoError
	return errors.As(err, &v)
}

// CaseMode selects how query texts are compared.
type CaseMode int

const (
	Caseless CaseMode = iota // "Samus_Aran" equals "samus_aran".
	Cased                    // Exact text equality.
)

func (m CaseMode) String() string {
	if m == Cased {
		return "cased"
	}
	return "caseless"
}

// Key returns the key under which text is compared in mode m.
func (m CaseMode) Key(text string) string {
	if m == Caseless {
		return strings.ToLower(text)
	}
	return text
}

// SeparateMode selects how Separate splits a subscription.
type SeparateMode int

const (
	SeparateHalf  SeparateMode = iota // Two halves by sorted query text.
	SeparateWhole                     // One subscription per query.
	SeparatePart                      // A chosen subset of queries.
)

func (m SeparateMode) String() string {
	switch m {
	case SeparateHalf:
		return "half"
	case SeparateWhole:
		return "whole"
	case SeparatePart:
		return "part"
	default:
		return fmt.Sprintf("SeparateMode(%d)", int(m))
	}
}

// ParseSeparateMode parses "half", "whole" or "part".
func ParseSeparateMode(s string) (SeparateMode, error) {
	switch strings.ToLower(s) {
	case "half":
		return SeparateHalf, nil
	case "whole":
		return SeparateWhole, nil
	case "part":
		return SeparatePart, nil
	}
	return 0, fmt.Errorf("unknown separate mode %q", s)
}

// Chooser resolves the choices an operation needs from the user. Every
// method returns ErrCancelled if the user backs out.
type Chooser interface {
	// ChooseCaseMode picks one of the available modes.
	ChooseCaseMode(ctx context.Context, available []CaseMode) (CaseMode, error)

	// ChooseGUG picks the downloader group to work on.
	ChooseGUG(ctx context.Context, names []string) (string, error)

	// ChooseTexts picks a non-empty subset of texts.
	ChooseTexts(ctx context.Context, prompt string, texts []string) ([]string, error)

	// ChooseMaster picks the subscription that keeps deduplicated queries.
	// Candidates are ranked, best first.
	ChooseMaster(ctx context.Context, candidates []MasterCandidate) (*model.Subscription, error)

	// ChoosePrimary picks the subscription that absorbs a merge group.
	ChoosePrimary(ctx context.Context, group []*model.Subscription) (*model.Subscription, error)

	// ChooseName returns a name, or current to keep it.
	ChooseName(ctx context.Context, prompt, current string) (string, error)

	// ChooseSeparateMode picks how to separate a subscription.
	ChooseSeparateMode(ctx context.Context, sub *model.Subscription) (SeparateMode, error)

	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, question string) (bool, error)
}
