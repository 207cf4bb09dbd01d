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

package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

var ServerErr = errors.New("something went wrong, we are looking into the issue")

// UserError is a malformed request.
type UserError struct {
	msg string
}

func NewUserError(msg string) *UserError {
	return &UserError{msg}
}

func (i *UserError) Error() string {
	return fmt.Sprintf("user error: %s", i.msg)
}
