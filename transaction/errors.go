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

package transaction

import (
	"errors"
	"fmt"
)

// Kind classifies the errors this module can return, per the error
// taxonomy of the specification. Concrete Kind values are stable strings
// so tests and callers can match on them with errors.Is.
type Kind string

const (
	TransferError                  Kind = "TransferError"
	TotalTimeout                   Kind = "TotalTimeout"
	UnexpectedBody                 Kind = "UnexpectedBody"
	ReceivedError                  Kind = "ReceivedError"
	UnexpectedPKIStatus            Kind = "UnexpectedPKIStatus"
	UnknownPKIStatus               Kind = "UnknownPKIStatus"
	MultipleResponsesNotSupported  Kind = "MultipleResponsesNotSupported"
	BadCheckAfter                  Kind = "BadCheckAfter"
	PollingFailed                  Kind = "PollingFailed"
	EncounteredWaiting             Kind = "EncounteredWaiting"
	EncounteredKeyUpdateWarning    Kind = "EncounteredKeyUpdateWarning"
	RequestRejectedByServer        Kind = "RequestRejectedByServer"
	CertificateNotFound            Kind = "CertificateNotFound"
	CertificateNotAccepted         Kind = "CertificateNotAccepted"
	WrongRPComponentCount          Kind = "WrongRPComponentCount"
	WrongCertIdInRP                Kind = "WrongCertIdInRP"
	WrongSerialInRP                Kind = "WrongSerialInRP"
	Malformed                      Kind = "Malformed"
	Unsupported                    Kind = "Unsupported"
	MissingOldCert                 Kind = "MissingOldCert"
)

// Error is the concrete error type every exported operation in this
// package returns on failure. Diagnostic, when non-empty, is the rendered
// "PKIStatus: ...; PKIFailureInfo: ...; StatusString(s): ..." trail
// computed from the context at the moment of failure — the core never
// swallows this, even when the caller only cares about Kind.
type Error struct {
	Kind       Kind
	Msg        string
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Diagnostic != "" {
		s += "; " + e.Diagnostic
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, &transaction.Error{Kind: transaction.TotalTimeout}).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return te.Kind == e.Kind
}

// withDiagnostic attaches the context's current rendered status to err, if
// err is one of this package's *Error values and doesn't already carry one.
func withDiagnostic(c *Context, err error) error {
	var te *Error
	if !errors.As(err, &te) || te.Diagnostic != "" {
		return err
	}
	if rendered, rerr := c.Render(); rerr == nil {
		te.Diagnostic = rendered
	}
	return err
}
