/*
 * Fork Journal
 *
 * Copyright 2019 Dapper Labs, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package journal

import (
	"fmt"
)

// Status of a journal record.
type Status int

const (
	Pending Status = iota
	Confirmed
	Failed
	RolledBack
)

var statusNames = map[Status]string{
	Pending:    "pending",
	Confirmed:  "confirmed",
	Failed:     "failed",
	RolledBack: "rolled_back",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// IsTerminal reports whether no further execution transition is possible.
func (s Status) IsTerminal() bool {
	return s == Failed || s == RolledBack
}

// transitions lists the allowed target states for each status. Repeating the current
// status is allowed so that acknowledgements are idempotent.
var transitions = map[Status][]Status{
	Pending:    {Confirmed, Failed, RolledBack},
	Confirmed:  {Confirmed, RolledBack},
	Failed:     {Failed},
	RolledBack: {RolledBack},
}

func (s Status) canTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}
