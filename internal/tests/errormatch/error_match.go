/*
Copyright 2024 The cert-manager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errormatch provides small, composable assertions for table-driven
// tests that need to match a returned error both by transaction.Kind and
// by message content.
package errormatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cert-manager/cmp-client/transaction"
)

// Matcher checks one aspect of err and reports whether it matched.
type Matcher func(t testing.TB, err error) bool

// NoError matches only a nil error.
func NoError() Matcher {
	return func(tb testing.TB, err error) bool {
		tb.Helper()
		return assert.NoError(tb, err)
	}
}

// Kind matches a *transaction.Error carrying the given Kind.
func Kind(kind transaction.Kind) Matcher {
	return func(tb testing.TB, err error) bool {
		tb.Helper()

		var te *transaction.Error
		if !assert.True(tb, errors.As(err, &te), "expected a *transaction.Error, got %T: %v", err, err) {
			return false
		}
		return assert.Equal(tb, kind, te.Kind)
	}
}

// ErrorContains matches any error whose message contains the given substring.
func ErrorContains(contains string) Matcher {
	return func(tb testing.TB, err error) bool {
		tb.Helper()
		return assert.ErrorContains(tb, err, contains)
	}
}

// All runs every matcher in order without stopping at the first failure,
// so a single test run surfaces every mismatch instead of only the first.
func All(matchers ...Matcher) Matcher {
	return func(tb testing.TB, err error) bool {
		tb.Helper()

		ok := true
		for _, m := range matchers {
			if !m(tb, err) {
				ok = false
			}
		}
		return ok
	}
}
