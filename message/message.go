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

// Package message defines the wire-level contract the transaction core
// consumes: a closed set of PKIMessage body types and the accessors needed
// to read a CertRepMessage, RevRepContent, PollRepContent, ErrorMsgContent
// or general-message content out of a parsed message.
//
// ASN.1 DER encoding/decoding lives entirely outside this package; a
// concrete Message implementation is produced and owned by whatever
// component performed the parsing (typically the transfer callback or its
// transport), and is free to discard anything the core doesn't ask for
// through these accessors.
package message

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
)

// BodyType enumerates the closed set of PKIMessage bodies this module
// understands (RFC 4210 section 5.1.2). The zero value is never a body a
// parsed message may report; it exists only as an invalid/unset sentinel.
type BodyType int

const (
	Unspecified BodyType = iota
	IR
	IP
	CR
	CP
	KUR
	KUP
	P10CR
	RR
	RP
	PKIConf
	PollReq
	PollRep
	GenM
	GenP
	ErrorMsg
	CertConf
)

var bodyTypeNames = map[BodyType]string{
	Unspecified: "unspecified",
	IR:          "ir",
	IP:          "ip",
	CR:          "cr",
	CP:          "cp",
	KUR:         "kur",
	KUP:         "kup",
	P10CR:       "p10cr",
	RR:          "rr",
	RP:          "rp",
	PKIConf:     "pkiconf",
	PollReq:     "pollReq",
	PollRep:     "pollRep",
	GenM:        "genm",
	GenP:        "genp",
	ErrorMsg:    "error",
	CertConf:    "certConf",
}

func (t BodyType) String() string {
	if name, ok := bodyTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsCertRep reports whether t is one of the three CertRepMessage bodies
// (IP, CP, KUP) — the "server answered with the real result" family that
// MessageExchange must also accept in place of a PollRep.
func (t BodyType) IsCertRep() bool {
	return t == IP || t == CP || t == KUP
}

// ResponseFor returns the CertRepMessage body type matching a request body
// type (IR->IP, CR->CP, KUR->KUP, P10CR->CP), and false for any other kind.
func ResponseFor(reqType BodyType) (BodyType, bool) {
	switch reqType {
	case IR:
		return IP, true
	case CR:
		return CP, true
	case KUR:
		return KUP, true
	case P10CR:
		return CP, true
	default:
		return Unspecified, false
	}
}

// PKIStatusInfo is the decoded form of a PKIStatusInfo ASN.1 structure:
// a mandatory status, an optional failure-info bitset (bits 0..26), and
// an optional ordered sequence of UTF-8 free-text strings.
type PKIStatusInfo struct {
	Status       int
	FailInfo     *uint32
	StatusString []string
}

// Message is the opaque, parsed form of a single PKIMessage. Everything
// the transaction core needs from a received or about-to-be-sent message
// flows through these accessors; the concrete layout behind them (ASN.1
// structures, byte slices, whatever the transport produced) is never
// visible to the core.
type Message interface {
	BodyType() BodyType
	// ImplicitConfirm reports the header's implicitConfirm generalInfo flag.
	ImplicitConfirm() bool
	CertRepMessage() (CertRepMessage, bool)
	RevRepContent() (RevRepContent, bool)
	PollRepContent() (PollRepContent, bool)
	ErrorMsgContent() (ErrorMsgContent, bool)
	// GenRepContent returns the InfoTypeAndValue sequence of a GenP body.
	GenRepContent() ([]InfoTypeAndValue, bool)
	// ExtraCerts returns the message's extraCerts field, if any.
	ExtraCerts() []*x509.Certificate
}

// CertRepMessage is the content of an IP/CP/KUP body: a list of per-request
// responses plus an optional caPubs certificate set.
type CertRepMessage interface {
	Responses() []CertResponse
	CAPubs() []*x509.Certificate
}

// CertResponse is one entry of a CertRepMessage. CertReqID is -1 only on
// the request side of a P10CR exchange before the server has assigned one;
// a received CertResponse always carries the server-assigned id.
type CertResponse interface {
	CertReqID() int
	Status() PKIStatusInfo
	// Certificate returns the issued certificate, decrypting it first if
	// the server encrypted it under the enrollment key (RFC 4210
	// newPkey encryption). ok is false when the response carries no
	// certificate at all (e.g. a rejection).
	Certificate() (cert *x509.Certificate, ok bool, err error)
}

// CertId names a certificate by issuer and serial number, as used in a
// revocation request/response to cross-check which certificate a RevRep
// entry applies to.
type CertId struct {
	Issuer       pkix.Name
	SerialNumber *big.Int
}

// RevRepContent is the content of an RP body.
type RevRepContent interface {
	// Status returns the PKIStatusInfo sequence; exactly one entry is
	// expected per revocation request sent by this module.
	Status() []PKIStatusInfo
	RevCerts() ([]CertId, bool)
	CRLs() ([][]byte, bool)
}

// PollRep is one entry of a PollRepContent.
type PollRep struct {
	CertReqID  int
	CheckAfter int64 // seconds, as reported by the server
	Reason     []string
}

// PollRepContent is the content of a POLLREP body.
type PollRepContent interface {
	Entries() []PollRep
}

// ErrorMsgContent is the content of an ERROR body.
type ErrorMsgContent interface {
	Status() PKIStatusInfo
	ErrorCode() (int64, bool)
	ErrorDetails() []string
}

// InfoTypeAndValue is one entry of a general message/response body; Value
// holds the opaque DER encoding of the infoValue, left to the caller (or a
// later collaborator) to interpret per OID.
type InfoTypeAndValue struct {
	OID   asn1.ObjectIdentifier
	Value []byte
}
