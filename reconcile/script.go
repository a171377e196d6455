/*
DESCRIPTION
  Script is a Chooser that answers from choices resolved in advance,
  e.g., from command line flags.

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

package reconcile

import (
	"context"

	"github.com/ausocean/subsync/model"
)

// Script answers every choice from its fields. Zero values select the
// default: the first offered mode, the only or first downloader, all
// offered texts, the top-ranked master, the first primary and the
// current name.
type Script struct {
	CaseMode     *CaseMode         // Nil selects the first available mode.
	GUG          string            // Downloader name.
	Texts        []string          // Texts to select.
	Master       string            // Master subscription name.
	Primary      map[string]bool   // Preferred primary subscription names.
	Names        map[string]string // Maps current names to new names.
	SeparateMode SeparateMode      // How to separate.
	Yes          bool              // Answer to every confirmation.
	Log          func(string)      // Optional, receives each prompt.
}

var _ Chooser = (*Script)(nil)

func (s *Script) log(msg string) {
	if s.Log != nil {
		s.Log(msg)
	}
}

func (s *Script) ChooseCaseMode(ctx context.Context, available []CaseMode) (CaseMode, error) {
	if len(available) == 0 {
		return 0, ErrCancelled
	}
	if s.CaseMode != nil {
		for _, m := range available {
			if m == *s.CaseMode {
				return m, nil
			}
		}
		return 0, ErrCancelled
	}
	return available[0], nil
}

func (s *Script) ChooseGUG(ctx context.Context, names []string) (string, error) {
	if len(names) == 0 {
		return "", ErrCancelled
	}
	if s.GUG == "" {
		return names[0], nil
	}
	if !contains(names, s.GUG) {
		return "", ErrCancelled
	}
	return s.GUG, nil
}

func (s *Script) ChooseTexts(ctx context.Context, prompt string, texts []string) ([]string, error) {
	s.log(prompt)
	if s.Texts == nil {
		return texts, nil
	}
	chosen := matchTexts(texts, s.Texts)
	if len(chosen) == 0 {
		return nil, ErrCancelled
	}
	return chosen, nil
}

// matchTexts returns the offered texts named by want. A wanted text
// matches exactly if it can, otherwise ignoring case.
func matchTexts(offered, want []string) []string {
	exact := make(map[string]bool, len(offered))
	for _, o := range offered {
		exact[o] = true
	}
	var cased, caseless []string
	for _, w := range want {
		if exact[w] {
			cased = append(cased, w)
		} else {
			caseless = append(caseless, w)
		}
	}
	chosen := make(map[string]bool)
	for _, o := range intersect(offered, cased, Cased) {
		chosen[o] = true
	}
	for _, o := range intersect(offered, caseless, Caseless) {
		chosen[o] = true
	}
	var res []string
	for _, o := range offered {
		if chosen[o] {
			res = append(res, o)
		}
	}
	return res
}

func (s *Script) ChooseMaster(ctx context.Context, candidates []MasterCandidate) (*model.Subscription, error) {
	if len(candidates) == 0 {
		return nil, ErrCancelled
	}
	if s.Master == "" {
		return candidates[0].Subscription, nil
	}
	for _, c := range candidates {
		if c.Subscription.Name == s.Master {
			return c.Subscription, nil
		}
	}
	return nil, ErrCancelled
}

func (s *Script) ChoosePrimary(ctx context.Context, group []*model.Subscription) (*model.Subscription, error) {
	if len(group) == 0 {
		return nil, ErrCancelled
	}
	for _, g := range group {
		if s.Primary[g.Name] {
			return g, nil
		}
	}
	return group[0], nil
}

func (s *Script) ChooseName(ctx context.Context, prompt, current string) (string, error) {
	s.log(prompt)
	if n, ok := s.Names[current]; ok && n != "" {
		return n, nil
	}
	return current, nil
}

func (s *Script) ChooseSeparateMode(ctx context.Context, sub *model.Subscription) (SeparateMode, error) {
	return s.SeparateMode, nil
}

func (s *Script) Confirm(ctx context.Context, question string) (bool, error) {
	s.log(question)
	return s.Yes, nil
}
