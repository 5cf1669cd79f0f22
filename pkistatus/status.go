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

// Package pkistatus interprets PKIStatusInfo values: decoding a status
// code and failure-info bitset into names, and rendering the combination
// of status, failure bits and status strings into the one diagnostic
// format used throughout the transaction core's error trail.
package pkistatus

import (
	"fmt"
	"strings"

	"github.com/cert-manager/cmp-client/message"
)

// The seven PKIStatus values (RFC 4210 section 5.2.3) plus Unset, the
// sentinel a transaction Context starts in before any response has been
// processed.
const (
	Unset                   = -1
	Accepted                = 0
	GrantedWithMods         = 1
	Rejection               = 2
	Waiting                 = 3
	RevocationWarning       = 4
	RevocationNotification  = 5
	KeyUpdateWarning        = 6
)

var statusNames = map[int]string{
	Accepted:               "accepted",
	GrantedWithMods:        "grantedWithMods",
	Rejection:              "rejection",
	Waiting:                "waiting",
	RevocationWarning:      "revocationWarning",
	RevocationNotification: "revocationNotification",
	KeyUpdateWarning:       "keyUpdateWarning",
}

// MaxFailureBit is the highest valid PKIFailureInfo bit index (RFC 4210
// section 5.2.3): 0..26.
const MaxFailureBit = 26

var failureInfoNames = [MaxFailureBit + 1]string{
	"badAlg", "badMessageCheck", "badRequest", "badTime", "badCertId",
	"badDataFormat", "wrongAuthority", "incorrectData", "missingTimeStamp",
	"badPOP", "certRevoked", "certConfirmed", "wrongIntegrity",
	"badRecipientNonce", "timeNotAvailable", "unacceptedPolicy",
	"unacceptedExtension", "addInfoNotAvailable", "badSenderNonce",
	"badCertTemplate", "signerNotTrusted", "transactionIdInUse",
	"unsupportedVersion", "notAuthorized", "systemUnavail",
	"systemFailure", "duplicateCertReq",
}

// Failure-info bit indices, named for callers that need to set or test
// individual bits (e.g. the key-match check setting IncorrectData).
const (
	BadAlg = iota
	BadMessageCheck
	BadRequest
	BadTime
	BadCertId
	BadDataFormat
	WrongAuthority
	IncorrectData
	MissingTimeStamp
	BadPOP
	CertRevoked
	CertConfirmed
	WrongIntegrity
	BadRecipientNonce
	TimeNotAvailable
	UnacceptedPolicy
	UnacceptedExtension
	AddInfoNotAvailable
	BadSenderNonce
	BadCertTemplate
	SignerNotTrusted
	TransactionIdInUse
	UnsupportedVersion
	NotAuthorized
	SystemUnavail
	SystemFailure
	DuplicateCertReq
)

// Name returns the declared identifier for a PKIStatus value, as specified
// in RFC 4210 Appendix F.
func Name(status int) (string, bool) {
	name, ok := statusNames[status]
	return name, ok
}

// FailureInfoNames returns the set bits of a PKIFailureInfo bitset as their
// declared names, in ascending bit order.
func FailureInfoNames(bits uint32) []string {
	var names []string
	for i := 0; i <= MaxFailureBit; i++ {
		if bits&(1<<uint(i)) != 0 {
			names = append(names, failureInfoNames[i])
		}
	}
	return names
}

// StatusOf returns the integer PKIStatus carried by si.
func StatusOf(si message.PKIStatusInfo) int {
	return si.Status
}

// FailureBits folds si's FailInfo bitstring (bits 0..MaxFailureBit) into a
// single uint32 mask. A nil FailInfo yields zero.
func FailureBits(si message.PKIStatusInfo) uint32 {
	if si.FailInfo == nil {
		return 0
	}
	return *si.FailInfo
}

// Render formats status/failInfo/statusString the way the transaction
// core's diagnostic trail does everywhere:
//
//	PKIStatus: <name>[; PKIFailureInfo: f1, f2, ...][; StatusString(s): "s1", "s2"]
//
// If status is not accepted/grantedWithMods and no failure bits are set,
// "; <no failure info>" is appended, matching the original implementation's
// behavior of flagging a rejection-like status with neither explanation.
// Render fails only when status is not one of the seven known PKIStatus
// values (including the Unset sentinel).
func Render(status int, failInfo uint32, statusStrings []string) (string, error) {
	name, ok := Name(status)
	if !ok {
		return "", fmt.Errorf("pkistatus: render: unknown or unset PKIStatus %d", status)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "PKIStatus: %s", name)

	names := FailureInfoNames(failInfo)
	switch {
	case len(names) > 0:
		fmt.Fprintf(&b, "; PKIFailureInfo: %s", strings.Join(names, ", "))
	case status != Accepted && status != GrantedWithMods:
		b.WriteString("; <no failure info>")
	}

	if n := len(statusStrings); n > 0 {
		label := "StatusString"
		if n > 1 {
			label = "StatusStrings"
		}
		quoted := make([]string, n)
		for i, s := range statusStrings {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		fmt.Fprintf(&b, "; %s: %s", label, strings.Join(quoted, ", "))
	}

	return b.String(), nil
}
