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

// Package transaction implements the CMP client core: the transaction
// driver, message exchange, polling and certificate-response handling
// described by the specification this module follows. A Context is the
// single piece of mutable state shared by all of them; exactly one logical
// transaction may be in flight on a given Context at a time.
package transaction

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/pkistatus"
)

// TransferFunc is the pluggable transport: send req and return the parsed
// response, or a non-nil error if the round trip itself failed (not to be
// confused with the server answering with a negative PKIStatus, which is
// a successful transfer carrying a rejection). Implementations must honor
// the deadline carried by goCtx, which MessageExchange derives from
// Context.MsgTimeout/TotalTimeout before every call.
type TransferFunc func(goCtx context.Context, tctx *Context, req message.Message) (message.Message, error)

// VerificationHook authenticates a received response and decides whether
// its body type may be treated as confirmed. tolerates reports whether the
// unprotected/ill-protected exception applies to resp, for hooks that want
// to relax protection checks for the narrow set of responses Context's
// UnprotectedErrors policy covers. ok is false to reject the message
// outright (equivalent to returning a negative value in the source this
// module follows).
type VerificationHook func(tctx *Context, req, resp message.Message, tolerates bool, expected message.BodyType) (confirmed message.BodyType, ok bool)

// CertConfirmFunc lets the caller accept or reject a newly enrolled
// certificate. failInfo is the core's pre-computed failure bitset (e.g.
// IncorrectData if the key-match check failed); the callback returns the
// bitset it wants to act on — zero to accept — and may set *text to a
// human-readable reason that is then sent to the server in certConf.
type CertConfirmFunc func(tctx *Context, cert *x509.Certificate, failInfo uint32, text *string) uint32

// CertPathValidator validates cert against a trust anchor, using untrusted
// as an additional pool of intermediate certificates (typically the
// response's extraCerts). A non-nil error means validation failed.
type CertPathValidator func(cert *x509.Certificate, untrusted []*x509.Certificate) error

// Context holds everything a single CMP transaction needs: the injected
// collaborators, timeouts and policy flags, the input material for the
// request being built, and the output fields a completed or failed
// transaction leaves behind for postmortem inspection.
type Context struct {
	// Collaborators. Transfer and Verify are mandatory; CertConfirm and
	// CertPathValidator are optional.
	Transfer          TransferFunc
	Verify            VerificationHook
	CertConfirm       CertConfirmFunc
	CertPathValidator CertPathValidator
	Factory           message.Factory

	// Log receives warn/info/debug diagnostics; the zero value is a no-op
	// logger, matching logr's documented default behavior.
	Log logr.Logger
	// Clock abstracts time.Now/time.Sleep so tests can run the full
	// polling loop without waiting in real time.
	Clock clock.Clock

	// MsgTimeout bounds a single round trip; zero means infinite.
	MsgTimeout time.Duration
	// TotalTimeout bounds the whole transaction, including polling; zero
	// means infinite.
	TotalTimeout time.Duration
	// endTime is the wall-clock deadline derived from TotalTimeout; it is
	// set at the start of each new transaction (not when a poll is
	// resumed), and is meaningful only when TotalTimeout > 0.
	endTime time.Time

	// UnprotectedErrors tolerates a narrow set of unprotected or
	// ill-protected negative responses (see Context.tolerates).
	UnprotectedErrors bool
	// DisableConfirm suppresses the certConf/PKIconf exchange entirely.
	DisableConfirm bool
	// FuzzingTolerant downgrades certain revocation-response mismatches
	// (WrongCertIdInRP, WrongSerialInRP) from errors to warnings. This is a
	// runtime policy field rather than a build-time switch, per the
	// design notes.
	FuzzingTolerant bool

	// OldCert is the certificate being revoked or updated.
	OldCert *x509.Certificate
	// EnrollmentPublicKey is the public half of the key pair a CR/IR/KUR is
	// requesting a certificate for; used for the key-match check. Decrypting
	// an encrypted CertResponse is left to message.CertResponse.Certificate.
	EnrollmentPublicKey interface{}

	// OutTrusted, when set, makes DefaultCertConfirm run CertPathValidator
	// on a newly issued certificate. The pool itself is not passed to the
	// validator, which validates against the trust anchors it holds itself.
	OutTrusted *x509.CertPool

	// Output fields. Status is pkistatus.Unset until the first response has
	// been processed.
	Status       int
	FailInfoCode uint32
	StatusString []string
	NewCert      *x509.Certificate
	CAPubs       []*x509.Certificate
	ExtraCertsIn []*x509.Certificate

	sem       *semaphore.Weighted
	requestID int
	reqType   message.BodyType
}

// NewContext returns a Context with its output fields reset to their
// initial sentinels and an in-flight-transaction guard ready to use.
func NewContext() *Context {
	return &Context{
		Status: pkistatus.Unset,
		sem:    semaphore.NewWeighted(1),
		Clock:  clock.RealClock{},
		Log:    logr.Discard(),
	}
}

// ErrTransactionInProgress is returned by begin when a transaction is
// already running on this Context.
var ErrTransactionInProgress = fmt.Errorf("transaction: a transaction is already in progress on this context")

// begin acquires the single-transaction guard. Re-entrant calls while
// status is Waiting are polling continuations, not new transactions, and
// must not call begin again; see driver.go.
func (c *Context) begin() error {
	if !c.sem.TryAcquire(1) {
		return ErrTransactionInProgress
	}
	return nil
}

func (c *Context) end() {
	c.sem.Release(1)
}

// resetForNewTransaction clears per-transaction output state and, when
// TotalTimeout > 0, (re)computes the absolute deadline. It must only be
// called when starting a brand new transaction, never when resuming a poll.
func (c *Context) resetForNewTransaction() {
	c.Status = pkistatus.Unset
	c.FailInfoCode = 0
	c.StatusString = nil
	c.NewCert = nil
	c.CAPubs = nil
	c.ExtraCertsIn = nil
	c.requestID = 0
	c.reqType = message.Unspecified

	if c.TotalTimeout > 0 {
		c.endTime = c.Clock.Now().Add(c.TotalTimeout)
	}
}

// timeLeft returns the time remaining before endTime. It is only valid
// when TotalTimeout > 0.
func (c *Context) timeLeft() time.Duration {
	return c.endTime.Sub(c.Clock.Now())
}

// saveStatusInfo copies status, failure bits and status strings from si
// into the context's output fields. Per the design notes this is treated
// as an atomic operation: on the one internal failure mode (an unknown
// PKIStatus value), the context's Status field is still set so a caller's
// subsequent Render call can report it, but callers must treat the save
// itself as failed and must not rely on FailInfoCode/StatusString, which
// this function always repopulates from scratch anyway.
func (c *Context) saveStatusInfo(si message.PKIStatusInfo) error {
	c.Status = pkistatus.StatusOf(si)
	c.FailInfoCode = pkistatus.FailureBits(si)
	c.StatusString = append([]string(nil), si.StatusString...)

	if _, ok := pkistatus.Name(c.Status); !ok {
		return &Error{Kind: Malformed, Msg: fmt.Sprintf("invalid PKIStatus value %d", c.Status)}
	}
	return nil
}

// Render formats the context's current status/failInfo/statusString using
// pkistatus.Render.
func (c *Context) Render() (string, error) {
	return pkistatus.Render(c.Status, c.FailInfoCode, c.StatusString)
}

// tolerates implements the unprotected-exception adjudicator of the
// MessageExchange component: it returns true iff UnprotectedErrors is set
// and msg is one of the narrow set of message kinds the protocol allows an
// end entity to accept without valid protection.
func (c *Context) tolerates(msg message.Message) bool {
	if !c.UnprotectedErrors || msg == nil {
		return false
	}

	switch msg.BodyType() {
	case message.ErrorMsg:
		return true
	case message.PKIConf:
		return true
	case message.RR:
		// not applicable here: RR is a request, never a received message
		return false
	case message.RP:
		rc, ok := msg.RevRepContent()
		if !ok {
			return false
		}
		status := rc.Status()
		return len(status) == 1 && status[0].Status == pkistatus.Rejection
	default:
		if !msg.BodyType().IsCertRep() {
			return false
		}
		crm, ok := msg.CertRepMessage()
		if !ok {
			return false
		}
		responses := crm.Responses()
		if len(responses) != 1 {
			// A CertRep with more than one CertResponse is never an
			// accepted exception; this module supports single-response
			// CertRep only (see Non-goals).
			return false
		}
		return responses[0].Status().Status == pkistatus.Rejection
	}
}
