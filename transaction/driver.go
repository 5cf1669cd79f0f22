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
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/pkistatus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// certReqID is the fixed request id this module uses for every CR/IR/KUR
// exchange; only P10CR starts with -1 and adopts the server-assigned id
// from the response, per RFC 4210's OSSL_CMP_CERTREQID convention.
const certReqID = 0

// ExecEnroll drives a full IR/CR/KUR/P10CR exchange to completion,
// blocking through any required polling. kind must be one of message.IR,
// message.CR, message.KUR or message.P10CR.
func (c *Context) ExecEnroll(goCtx context.Context, kind message.BodyType) (*x509.Certificate, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	respType, ok := message.ResponseFor(kind)
	if !ok {
		return nil, &Error{Kind: Malformed, Msg: fmt.Sprintf("%q is not an enrollment request type", kind)}
	}

	c.resetForNewTransaction()

	req, err := c.Factory.NewCertReq(kind)
	if err != nil {
		return nil, &Error{Kind: Malformed, Msg: "failed to build request", Err: err}
	}

	resp, err := c.sendReceiveCheck(goCtx, req, respType)
	if err != nil {
		return nil, err
	}

	rid := certReqID
	if kind == message.P10CR {
		rid = -1
	}

	cert, _, _, err := c.handleCertResponse(goCtx, true, rid, resp, kind, respType)
	if err != nil {
		return nil, err
	}
	return cert, nil
}

// ExecRevoke sends an RR for Context.OldCert and validates the response per
// §4.5: exactly one PKIStatusInfo, a revCerts CertId (if present) matching
// the request, and a crls sequence (if present) of length 1. On success it
// returns Context.OldCert.
func (c *Context) ExecRevoke(goCtx context.Context) (*x509.Certificate, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	if c.OldCert == nil {
		return nil, &Error{Kind: MissingOldCert, Msg: "ExecRevoke requires Context.OldCert to be set"}
	}
	c.resetForNewTransaction()

	req, err := c.Factory.NewRR()
	if err != nil {
		return nil, &Error{Kind: Malformed, Msg: "failed to build rr", Err: err}
	}

	resp, err := c.sendReceiveCheck(goCtx, req, message.RP)
	if err != nil {
		return nil, err
	}

	rc, ok := resp.RevRepContent()
	if !ok {
		return nil, &Error{Kind: Malformed, Msg: "RP body carried no RevRepContent"}
	}

	statuses := rc.Status()
	if len(statuses) != 1 {
		return nil, &Error{Kind: WrongRPComponentCount, Msg: fmt.Sprintf("expected exactly one PKIStatusInfo in RP, got %d", len(statuses))}
	}
	si := statuses[0]

	if err := c.saveStatusInfo(si); err != nil {
		return nil, err
	}

	var result *x509.Certificate
	switch c.Status {
	case pkistatus.Accepted, pkistatus.GrantedWithMods, pkistatus.RevocationWarning:
		result = c.OldCert
	case pkistatus.RevocationNotification:
		c.Log.Info("revocation accepted with 'revocationNotification'; interpretation as warning or error depends on the CA")
		result = c.OldCert
	case pkistatus.Rejection:
		return nil, withDiagnostic(c, &Error{Kind: RequestRejectedByServer, Msg: "server rejected the revocation request"})
	case pkistatus.Waiting, pkistatus.KeyUpdateWarning:
		return nil, withDiagnostic(c, &Error{Kind: UnexpectedPKIStatus, Msg: fmt.Sprintf("status %d is not valid in a revocation response", c.Status)})
	default:
		return nil, withDiagnostic(c, &Error{Kind: UnknownPKIStatus, Msg: fmt.Sprintf("unknown PKIStatus %d", c.Status)})
	}

	if err := c.checkRevCertsAndCRLs(rc); err != nil {
		return nil, withDiagnostic(c, err)
	}

	return result, nil
}

func (c *Context) checkRevCertsAndCRLs(rc message.RevRepContent) error {
	var errs []error

	if revCerts, ok := rc.RevCerts(); ok {
		if len(revCerts) != 1 {
			errs = append(errs, &Error{Kind: WrongRPComponentCount, Msg: fmt.Sprintf("expected exactly one revCerts entry, got %d", len(revCerts))})
		} else {
			got := revCerts[0]
			wantIssuer := c.OldCert.Issuer
			wantSerial := c.OldCert.SerialNumber

			if !sameName(got.Issuer, wantIssuer) {
				errs = append(errs, c.revMismatch(WrongCertIdInRP, "revCerts issuer does not match the request"))
			}
			if got.SerialNumber == nil || wantSerial == nil || got.SerialNumber.Cmp(wantSerial) != 0 {
				errs = append(errs, c.revMismatch(WrongSerialInRP, "revCerts serial number does not match the request"))
			}
		}
	}

	if crls, ok := rc.CRLs(); ok && len(crls) != 1 {
		errs = append(errs, &Error{Kind: WrongRPComponentCount, Msg: fmt.Sprintf("expected exactly one crls entry, got %d", len(crls))})
	}

	return utilerrors.NewAggregate(errs)
}

// revMismatch downgrades a revCerts mismatch to a warning log when
// Context.FuzzingTolerant is set, returning nil in that case, or otherwise
// returns the corresponding typed error.
func (c *Context) revMismatch(kind Kind, msg string) error {
	if c.FuzzingTolerant {
		c.Log.Info("tolerating revocation response mismatch", "reason", msg)
		return nil
	}
	return &Error{Kind: kind, Msg: msg}
}

func sameName(a, b pkix.Name) bool {
	return a.String() == b.String()
}

// ExecGenm sends a general message carrying requestInfos and returns the
// InfoTypeAndValue sequence of the response, whose ownership transfers to
// the caller.
func (c *Context) ExecGenm(goCtx context.Context, requestInfos []message.InfoTypeAndValue) ([]message.InfoTypeAndValue, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.end()

	req, err := c.Factory.NewGenm(requestInfos)
	if err != nil {
		return nil, &Error{Kind: Malformed, Msg: "failed to build genm", Err: err}
	}

	resp, err := c.sendReceiveCheck(goCtx, req, message.GenP)
	if err != nil {
		return nil, err
	}

	infos, ok := resp.GenRepContent()
	if !ok {
		return nil, &Error{Kind: Malformed, Msg: "GenP body carried no InfoTypeAndValue sequence"}
	}
	return infos, nil
}

// TryCertReq is the non-blocking variant of ExecEnroll. When the context is
// not already waiting on a poll, it behaves like ExecEnroll but returns
// immediately instead of sleeping. When Context.Status is pkistatus.Waiting,
// it resumes polling: isAbort, or a negative kind, aborts the poll by
// sending an ERROR body to the server.
//
// It returns (cert, true, 0, nil) when the certificate is available,
// (nil, false, checkAfter, nil) while still waiting, or a non-nil error.
func (c *Context) TryCertReq(goCtx context.Context, kind message.BodyType, isAbort bool) (cert *x509.Certificate, done bool, checkAfter time.Duration, err error) {
	if c.Status != pkistatus.Waiting {
		if err := c.begin(); err != nil {
			return nil, false, 0, err
		}
		defer c.end()

		respType, ok := message.ResponseFor(kind)
		if !ok {
			return nil, false, 0, &Error{Kind: Malformed, Msg: fmt.Sprintf("%q is not an enrollment request type", kind)}
		}
		c.resetForNewTransaction()

		req, berr := c.Factory.NewCertReq(kind)
		if berr != nil {
			return nil, false, 0, &Error{Kind: Malformed, Msg: "failed to build request", Err: berr}
		}

		resp, serr := c.sendReceiveCheck(goCtx, req, respType)
		if serr != nil {
			return nil, false, 0, serr
		}

		rid := certReqID
		if kind == message.P10CR {
			rid = -1
		}
		cert, waiting, ca, herr := c.handleCertResponse(goCtx, false, rid, resp, kind, respType)
		return cert, !waiting, ca, herr
	}

	// Already polling.
	if isAbort || kind < 0 {
		return nil, false, 0, c.exchangeError(goCtx, pkistatus.Rejection, 0, "polling aborted", 0, "by application")
	}

	outcome, perr := c.poll(goCtx, false, c.requestID)
	if perr != nil {
		return nil, false, 0, &Error{Kind: PollingFailed, Err: perr}
	}
	if !outcome.Done {
		return nil, false, outcome.CheckAfter, nil
	}

	resultCert, waiting, ca, herr := c.handleCertResponse(goCtx, false, c.requestID, outcome.Response, c.reqType, message.Unspecified)
	return resultCert, !waiting, ca, herr
}

// exchangeCertConf builds and sends a certConf carrying failInfo/text, then
// waits for PKIconf.
func (c *Context) exchangeCertConf(goCtx context.Context, failInfo uint32, text string) error {
	req, err := c.Factory.NewCertConf(failInfo, text)
	if err != nil {
		return &Error{Kind: Malformed, Msg: "failed to build certConf", Err: err}
	}
	_, err = c.sendReceiveCheck(goCtx, req, message.PKIConf)
	return err
}

// exchangeError builds and sends a standalone ERROR body, then waits for
// PKIconf. It is exported as ExchangeError for callers that want to report
// an application-level error to the server outside of a normal transaction.
func (c *Context) exchangeError(goCtx context.Context, status int, failInfo uint32, text string, errorCode int64, details string) error {
	req, err := c.Factory.NewError(status, failInfo, text, errorCode, details)
	if err != nil {
		return &Error{Kind: Malformed, Msg: "failed to build error message", Err: err}
	}
	_, err = c.sendReceiveCheck(goCtx, req, message.PKIConf)
	return err
}

// ExchangeCertConf is the exported form of exchangeCertConf.
func (c *Context) ExchangeCertConf(goCtx context.Context, failInfo uint32, text string) error {
	return c.exchangeCertConf(goCtx, failInfo, text)
}

// ExchangeError is the exported form of exchangeError.
func (c *Context) ExchangeError(goCtx context.Context, status int, failInfo uint32, text string, errorCode int64, details string) error {
	return c.exchangeError(goCtx, status, failInfo, text, errorCode, details)
}
