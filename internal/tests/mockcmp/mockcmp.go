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

// Package mockcmp provides a minimal, in-memory implementation of the
// message package's interfaces, for tests that need a concrete
// message.Message/message.Factory without pulling in a real ASN.1 codec.
package mockcmp

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/transaction"
)

// Msg is a fully settable, in-memory message.Message.
type Msg struct {
	Type            message.BodyType
	Implicit        bool
	CertRep         *CertRep
	RevRep          *RevRep
	PollRep         *PollRepC
	ErrorContent    *ErrorContent
	GenRep          []message.InfoTypeAndValue
	ExtraCertsValue []*x509.Certificate
}

func NewSimpleMessage(t message.BodyType) *Msg {
	return &Msg{Type: t}
}

func (m *Msg) BodyType() message.BodyType     { return m.Type }
func (m *Msg) ImplicitConfirm() bool          { return m.Implicit }
func (m *Msg) ExtraCerts() []*x509.Certificate { return m.ExtraCertsValue }

func (m *Msg) CertRepMessage() (message.CertRepMessage, bool) {
	if m.CertRep == nil {
		return nil, false
	}
	return m.CertRep, true
}

func (m *Msg) RevRepContent() (message.RevRepContent, bool) {
	if m.RevRep == nil {
		return nil, false
	}
	return m.RevRep, true
}

func (m *Msg) PollRepContent() (message.PollRepContent, bool) {
	if m.PollRep == nil {
		return nil, false
	}
	return m.PollRep, true
}

func (m *Msg) ErrorMsgContent() (message.ErrorMsgContent, bool) {
	if m.ErrorContent == nil {
		return nil, false
	}
	return m.ErrorContent, true
}

func (m *Msg) GenRepContent() ([]message.InfoTypeAndValue, bool) {
	if m.GenRep == nil {
		return nil, false
	}
	return m.GenRep, true
}

// CertRep is an in-memory message.CertRepMessage.
type CertRep struct {
	ResponsesValue []message.CertResponse
	CAPubsValue    []*x509.Certificate
}

func (c *CertRep) Responses() []message.CertResponse { return c.ResponsesValue }
func (c *CertRep) CAPubs() []*x509.Certificate        { return c.CAPubsValue }

// CertResp is an in-memory message.CertResponse.
type CertResp struct {
	ReqID    int
	StatusV  message.PKIStatusInfo
	Cert     *x509.Certificate
	CertOK   bool
	CertErr  error
}

func (c *CertResp) CertReqID() int                 { return c.ReqID }
func (c *CertResp) Status() message.PKIStatusInfo   { return c.StatusV }
func (c *CertResp) Certificate() (*x509.Certificate, bool, error) {
	return c.Cert, c.CertOK, c.CertErr
}

// RevRep is an in-memory message.RevRepContent.
type RevRep struct {
	StatusValue   []message.PKIStatusInfo
	RevCertsValue []message.CertId
	RevCertsSet   bool
	CRLsValue     [][]byte
	CRLsSet       bool
}

func (r *RevRep) Status() []message.PKIStatusInfo { return r.StatusValue }
func (r *RevRep) RevCerts() ([]message.CertId, bool) {
	return r.RevCertsValue, r.RevCertsSet
}
func (r *RevRep) CRLs() ([][]byte, bool) { return r.CRLsValue, r.CRLsSet }

// PollRepC is an in-memory message.PollRepContent.
type PollRepC struct {
	EntriesValue []message.PollRep
}

func (p *PollRepC) Entries() []message.PollRep { return p.EntriesValue }

// ErrorContent is an in-memory message.ErrorMsgContent.
type ErrorContent struct {
	StatusV       message.PKIStatusInfo
	ErrorCodeV    int64
	ErrorCodeSet  bool
	ErrorDetailsV []string
}

func (e *ErrorContent) Status() message.PKIStatusInfo { return e.StatusV }
func (e *ErrorContent) ErrorCode() (int64, bool)      { return e.ErrorCodeV, e.ErrorCodeSet }
func (e *ErrorContent) ErrorDetails() []string         { return e.ErrorDetailsV }

// Factory is an in-memory message.Factory. Each constructor calls its
// matching *Func field when set, so a test can capture arguments or return
// an error, and otherwise returns a bare Msg of the matching body type.
type Factory struct {
	NewCertReqFunc  func(kind message.BodyType) (message.Message, error)
	NewRRFunc       func() (message.Message, error)
	NewPollReqFunc  func(certReqID int) (message.Message, error)
	NewCertConfFunc func(failInfo uint32, text string) (message.Message, error)
	NewErrorFunc    func(status int, failInfo uint32, text string, errorCode int64, details string) (message.Message, error)
	NewGenmFunc     func(requestInfos []message.InfoTypeAndValue) (message.Message, error)
}

func (f *Factory) NewCertReq(kind message.BodyType) (message.Message, error) {
	if f.NewCertReqFunc != nil {
		return f.NewCertReqFunc(kind)
	}
	return &Msg{Type: kind}, nil
}

func (f *Factory) NewRR() (message.Message, error) {
	if f.NewRRFunc != nil {
		return f.NewRRFunc()
	}
	return &Msg{Type: message.RR}, nil
}

func (f *Factory) NewPollReq(certReqID int) (message.Message, error) {
	if f.NewPollReqFunc != nil {
		return f.NewPollReqFunc(certReqID)
	}
	return &Msg{Type: message.PollReq}, nil
}

func (f *Factory) NewCertConf(failInfo uint32, text string) (message.Message, error) {
	if f.NewCertConfFunc != nil {
		return f.NewCertConfFunc(failInfo, text)
	}
	return &Msg{Type: message.CertConf}, nil
}

func (f *Factory) NewError(status int, failInfo uint32, text string, errorCode int64, details string) (message.Message, error) {
	if f.NewErrorFunc != nil {
		return f.NewErrorFunc(status, failInfo, text, errorCode, details)
	}
	return &Msg{Type: message.ErrorMsg}, nil
}

func (f *Factory) NewGenm(requestInfos []message.InfoTypeAndValue) (message.Message, error) {
	if f.NewGenmFunc != nil {
		return f.NewGenmFunc(requestInfos)
	}
	return &Msg{Type: message.GenM}, nil
}

// Script drives a scripted TransferFunc: each call to Transfer pops the
// next entry off Responses, feeding CertResponseHandler/poll round trips
// in integration tests without a real server.
type Script struct {
	Responses []ScriptedResponse
	calls     int
}

// ScriptedResponse is one canned transport round trip.
type ScriptedResponse struct {
	Response message.Message
	Err      error
}

// Transfer implements transaction.TransferFunc: it can be assigned directly
// to Context.Transfer.
func (s *Script) Transfer(_ context.Context, _ *transaction.Context, req message.Message) (message.Message, error) {
	if s.calls >= len(s.Responses) {
		return nil, fmt.Errorf("mockcmp: script exhausted after %d calls (request %s)", s.calls, req.BodyType())
	}
	r := s.Responses[s.calls]
	s.calls++
	return r.Response, r.Err
}

// AcceptAll is a VerificationHook that treats every response as carrying
// its own body type, i.e. no protection checking at all — suitable only
// for tests exercising the transaction core's own logic.
func AcceptAll(_ *transaction.Context, _, resp message.Message, _ bool, _ message.BodyType) (message.BodyType, bool) {
	return resp.BodyType(), true
}
