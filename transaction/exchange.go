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
	"fmt"
	"strings"

	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/pkistatus"
)

// sendReceiveCheck sends req and returns a verified response of expected
// body type, or an error. It implements MessageExchange.send_receive_check:
// deadline adjustment, transport invocation, verification hook, and
// body-type acceptance (including the special case where a POLLREP is
// expected but the server answered the poll with the real CertRep result).
func (c *Context) sendReceiveCheck(goCtx context.Context, req message.Message, expected message.BodyType) (message.Message, error) {
	timeout := c.MsgTimeout

	if expected.IsCertRep() || expected == message.PollRep {
		if c.TotalTimeout > 0 {
			left := c.timeLeft()
			if left <= 0 {
				return nil, withDiagnostic(c, &Error{Kind: TotalTimeout, Msg: "total transaction timeout exceeded"})
			}
			if timeout == 0 || left < timeout {
				timeout = left
			}
		}
	}

	callCtx := goCtx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(goCtx, timeout)
		defer cancel()
	}

	c.Log.V(1).Info("sending request", "bodyType", req.BodyType().String())

	resp, err := c.Transfer(callCtx, c, req)
	if err != nil || resp == nil {
		return nil, &Error{
			Kind: TransferError,
			Msg:  fmt.Sprintf("transfer failed for request %q, expected response %q", req.BodyType(), expected),
			Err:  err,
		}
	}

	c.Log.V(1).Info("received response", "bodyType", resp.BodyType().String())

	confirmed, ok := c.Verify(c, req, resp, c.tolerates(resp), expected)
	if !ok {
		return nil, &Error{Kind: UnexpectedBody, Msg: "message verification rejected the response"}
	}

	if confirmed == expected || (expected == message.PollRep && confirmed.IsCertRep()) {
		return resp, nil
	}

	if confirmed == message.ErrorMsg {
		return nil, c.handleErrorBody(resp)
	}

	return nil, withDiagnostic(c, &Error{
		Kind: UnexpectedBody,
		Msg:  fmt.Sprintf("received %q, expected %q", confirmed, expected),
	})
}

// handleErrorBody extracts and saves the PKIStatusInfo of an ERROR body and
// builds the ReceivedError this module returns for it.
func (c *Context) handleErrorBody(resp message.Message) error {
	emc, ok := resp.ErrorMsgContent()
	if !ok {
		return &Error{Kind: Malformed, Msg: "ERROR body carried no ErrorMsgContent"}
	}

	saveErr := c.saveStatusInfo(emc.Status())

	// An ERROR body reporting anything other than 'rejection' or 'waiting'
	// is itself malformed protocol use; 'waiting' is downgraded to
	// 'rejection' since an ERROR body can never be a legitimate "still
	// processing" signal.
	if c.Status == pkistatus.Waiting {
		c.Status = pkistatus.Rejection
	}

	msg := "server returned an ERROR body"
	if code, ok := emc.ErrorCode(); ok {
		msg += fmt.Sprintf("; errorCode: %d", code)
	}
	if details := emc.ErrorDetails(); len(details) > 0 {
		msg += "; errorDetails: " + strings.Join(details, ", ")
	}

	err := &Error{Kind: ReceivedError, Msg: msg}
	if saveErr == nil {
		err = withDiagnostic(c, err).(*Error)
	}
	return err
}
