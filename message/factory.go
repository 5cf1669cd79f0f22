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

package message

// Factory constructs request messages by name. Its implementation is bound
// to a specific transaction's enrollment key, old certificate, sender
// identity and so on at construction time — none of that is visible here.
// The core never builds a message body itself; it only ever calls one of
// these methods and hands the result to the transfer callback.
type Factory interface {
	// NewCertReq builds an IR/CR/KUR/P10CR body.
	NewCertReq(kind BodyType) (Message, error)
	// NewRR builds an RR body for the context's configured old certificate.
	NewRR() (Message, error)
	// NewPollReq builds a PollReq for the given certReqId.
	NewPollReq(certReqID int) (Message, error)
	// NewCertConf builds a CertConf carrying the given failInfo/text for the
	// most recently enrolled certificate.
	NewCertConf(failInfo uint32, text string) (Message, error)
	// NewError builds a standalone ERROR body, used to report a status
	// back to the server outside of a certConf/PKIconf handshake (e.g. to
	// abort polling).
	NewError(status int, failInfo uint32, text string, errorCode int64, details string) (Message, error)
	// NewGenm builds a GenM body carrying the given InfoTypeAndValue requests.
	NewGenm(requestInfos []InfoTypeAndValue) (Message, error)
}
