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
	"crypto"
	"crypto/x509"
	"fmt"
	"reflect"
	"time"

	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/pkistatus"
)

// handleCertResponse implements the CertResponseHandler component: it
// extracts the CertResponse matching requestID from resp (polling via
// Context.poll whenever status is 'waiting'), evaluates the resulting
// PKIStatus, runs the key-match check and the cert-confirm callback, and
// performs the certConf/PKIconf handshake unless implicit confirmation was
// granted or DisableConfirm is set.
//
// It returns either a certificate (waiting == false, err == nil), a
// still-waiting outcome (waiting == true, checkAfter set, err == nil,
// non-blocking mode only), or an error.
func (c *Context) handleCertResponse(goCtx context.Context, sleepMode bool, requestID int, resp message.Message, reqType, expectedType message.BodyType) (cert *x509.Certificate, waiting bool, checkAfter time.Duration, err error) {
	for {
		crm, ok := resp.CertRepMessage()
		if !ok {
			return nil, false, 0, &Error{Kind: Malformed, Msg: "response carried no CertRepMessage"}
		}
		responses := crm.Responses()
		if len(responses) > 1 {
			return nil, false, 0, &Error{Kind: MultipleResponsesNotSupported, Msg: "CertRepMessage with more than one CertResponse is not supported"}
		}
		if len(responses) == 0 {
			return nil, false, 0, &Error{Kind: Malformed, Msg: "CertRepMessage carried no CertResponse"}
		}
		crep := responses[0]

		if serr := c.saveStatusInfo(crep.Status()); serr != nil {
			return nil, false, 0, serr
		}

		if requestID == -1 {
			requestID = crep.CertReqID()
			if requestID == -1 {
				return nil, false, 0, &Error{Kind: Malformed, Msg: "P10CR response carried no certReqId"}
			}
		}

		if c.Status == pkistatus.Waiting {
			c.requestID = requestID
			c.reqType = reqType
			outcome, perr := c.poll(goCtx, sleepMode, requestID)
			if perr != nil {
				return nil, false, 0, &Error{Kind: PollingFailed, Err: perr}
			}
			if !outcome.Done {
				return nil, true, outcome.CheckAfter, nil
			}
			resp = outcome.Response
			continue
		}

		cert, err = c.finishCertResponse(goCtx, crep, resp, reqType)
		return cert, false, 0, err
	}
}

func (c *Context) finishCertResponse(goCtx context.Context, crep message.CertResponse, resp message.Message, reqType message.BodyType) (*x509.Certificate, error) {
	cert, err := c.extractCertificate(crep, reqType)
	if err != nil {
		return nil, withDiagnostic(c, err)
	}

	crm, _ := resp.CertRepMessage()
	if caPubs := crm.CAPubs(); len(caPubs) > 0 {
		c.CAPubs = caPubs
	}
	c.ExtraCertsIn = resp.ExtraCerts()
	c.NewCert = cert

	failInfo := c.keyMatchFailInfo(cert)
	var text string
	if c.CertConfirm != nil {
		failInfo = c.CertConfirm(c, cert, failInfo, &text)
	}
	if failInfo != 0 {
		c.FailInfoCode = failInfo
		if text != "" {
			c.StatusString = []string{text}
		}
		c.Log.Info("rejecting newly enrolled certificate", "subject", cert.Subject)
	}

	if !c.DisableConfirm && !resp.ImplicitConfirm() {
		if err := c.exchangeCertConf(goCtx, failInfo, text); err != nil {
			return nil, err
		}
	}

	if failInfo != 0 {
		msg := "newly enrolled certificate was not accepted"
		if text != "" {
			msg += ": " + text
		}
		return nil, withDiagnostic(c, &Error{Kind: CertificateNotAccepted, Msg: msg})
	}

	return cert, nil
}

// extractCertificate implements get1_cert_status: it pulls the certificate
// out of crep according to the PKIStatus just saved into the context,
// logging for the statuses that carry a cert but also a caveat.
func (c *Context) extractCertificate(crep message.CertResponse, reqType message.BodyType) (*x509.Certificate, error) {
	switch c.Status {
	case pkistatus.Waiting:
		// Not reachable from handleCertResponse, which polls again whenever
		// the saved status is 'waiting', including after a Done outcome.
		return nil, &Error{Kind: EncounteredWaiting, Msg: "received 'waiting' status for a certificate response"}
	case pkistatus.Rejection:
		return nil, &Error{Kind: RequestRejectedByServer, Msg: "server rejected the request"}
	case pkistatus.KeyUpdateWarning:
		if reqType != message.KUR {
			return nil, &Error{Kind: EncounteredKeyUpdateWarning, Msg: "received 'keyUpdateWarning' for a non-KUR request"}
		}
	case pkistatus.Accepted, pkistatus.GrantedWithMods:
		// no extra logging
	case pkistatus.RevocationWarning:
		c.Log.Info("received 'revocationWarning' - a revocation of the certificate is imminent")
	case pkistatus.RevocationNotification:
		c.Log.Info("received 'revocationNotification' - a revocation of the certificate has occurred")
	default:
		return nil, &Error{Kind: UnknownPKIStatus, Msg: fmt.Sprintf("unsupported PKIStatus %d for a certificate response", c.Status)}
	}

	cert, ok, err := crep.Certificate()
	if err != nil {
		return nil, &Error{Kind: Malformed, Msg: "failed to extract certificate from response", Err: err}
	}
	if !ok || cert == nil {
		return nil, &Error{Kind: CertificateNotFound, Msg: "PKIStatus implied a certificate but none was found in the response"}
	}
	return cert, nil
}

// keyMatchFailInfo implements the key-match check of step 6: it returns the
// IncorrectData bit set if an enrollment key is configured and it doesn't
// match cert's public key. It never aborts by itself — the cert-confirm
// callback gets the final say.
func (c *Context) keyMatchFailInfo(cert *x509.Certificate) uint32 {
	if c.EnrollmentPublicKey == nil {
		return 0
	}
	if keysEqual(c.EnrollmentPublicKey, cert.PublicKey) {
		return 0
	}
	c.Log.Info("public key in new certificate does not match the enrollment key")
	return 1 << pkistatus.IncorrectData
}

func keysEqual(a, b interface{}) bool {
	type equaler interface{ Equal(x crypto.PublicKey) bool }
	if ea, ok := a.(equaler); ok {
		return ea.Equal(b)
	}
	return reflect.DeepEqual(a, b)
}

// DefaultCertConfirm is the built-in cert-confirm callback described in
// §9: it returns any failure bits already set by the core unchanged, and
// otherwise, when both Context.OutTrusted and Context.CertPathValidator are
// set, runs CertPathValidator on cert with Context.ExtraCertsIn as the
// untrusted pool, setting IncorrectData on failure. OutTrusted is not passed
// to the validator; it only enables the check.
func DefaultCertConfirm(c *Context, cert *x509.Certificate, failInfo uint32, text *string) uint32 {
	if failInfo != 0 {
		return failInfo
	}
	if c.OutTrusted == nil || c.CertPathValidator == nil {
		return 0
	}
	if err := c.CertPathValidator(cert, c.ExtraCertsIn); err != nil {
		*text = fmt.Sprintf("certificate path validation failed: %v", err)
		return 1 << pkistatus.IncorrectData
	}
	return 0
}
