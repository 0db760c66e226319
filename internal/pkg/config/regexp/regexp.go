// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package regexp provides a regular expression type that can be decoded
// from configuration files.
package regexp

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Regexp delegates to a Regexp while enabling unmarshalling.
// Any unspecified / nil matcher will return vacuous truth in MatchString
type Regexp struct {
	r *regexp.Regexp
}

// New compiles expr. It panics if expr is not a valid regular expression,
// and is meant for built-in defaults.
func New(expr string) *Regexp {
	return &Regexp{r: regexp.MustCompile(expr)}
}

// MatchString delegates matching to the regex package.
func (mr *Regexp) MatchString(s string) bool {
	return mr.r == nil || mr.r.MatchString(s)
}

// String returns the source text of the expression.
func (mr *Regexp) String() string {
	if mr.r == nil {
		return ""
	}
	return mr.r.String()
}

// UnmarshalJSON implements json.Unmarshaler
func (mr *Regexp) UnmarshalJSON(data []byte) error {
	var matcher string
	if err := json.Unmarshal(data, &matcher); err != nil {
		return err
	}
	if matcher == "" {
		return fmt.Errorf("empty string cannot be used as regexp")
	}

	r, err := regexp.Compile(matcher)
	if err != nil {
		return err
	}
	mr.r = r
	return nil
}

// MarshalJSON implements json.Marshaler
func (mr *Regexp) MarshalJSON() ([]byte, error) {
	return json.Marshal(mr.String())
}
