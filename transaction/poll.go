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
	"math"
	"time"

	"github.com/cert-manager/cmp-client/message"
)

// MaxCheckAfterSleeping and MaxCheckAfterPolling bound the checkAfter value
// a server may return, depending on whether the caller sleeps internally or
// drives the next poll itself. These mirror the original implementation's
// 32-bit C bounds (ULONG_MAX/1000 and INT_MAX) rather than Go's wider native
// int, since the wire value itself is only ever a 32-bit quantity in
// practice and the spec calls for preserving the original numeric bounds.
const (
	MaxCheckAfterSleeping = math.MaxUint32 / 1000
	MaxCheckAfterPolling  = math.MaxInt32
)

// pollReserve is the time reserved for one last round trip before
// TotalTimeout expires; see poll below.
const pollReserve = 5 * time.Second

// PollOutcome is the result of one call to poll: either the transaction is
// Done with a terminal response, or it is still Waiting and the caller (in
// non-blocking mode) should call back after CheckAfter.
type PollOutcome struct {
	Done       bool
	Response   message.Message
	CheckAfter time.Duration
}

// poll implements the Poller component: it builds and sends a pollReq for
// requestID. In sleepMode it loops, sleeping checkAfter between polls, until
// a terminal CertRep response arrives, the total timeout is reached, or an
// error occurs; otherwise it returns a Waiting outcome after the first
// PollRep.
func (c *Context) poll(goCtx context.Context, sleepMode bool, requestID int) (PollOutcome, error) {
	for {
		req, err := c.Factory.NewPollReq(requestID)
		if err != nil {
			return PollOutcome{}, &Error{Kind: Malformed, Msg: "failed to build pollReq", Err: err}
		}

		resp, err := c.sendReceiveCheck(goCtx, req, message.PollRep)
		if err != nil {
			return PollOutcome{}, err
		}

		if resp.BodyType().IsCertRep() {
			c.Log.V(1).Info("received certificate response after polling")
			return PollOutcome{Done: true, Response: resp}, nil
		}

		prc, ok := resp.PollRepContent()
		if !ok {
			return PollOutcome{}, &Error{Kind: Malformed, Msg: "PollRep body carried no PollRepContent"}
		}

		entries := prc.Entries()
		if len(entries) > 1 {
			return PollOutcome{}, &Error{Kind: Unsupported, Msg: "PollRepContent with more than one pollRep entry is not supported"}
		}
		if len(entries) == 0 {
			return PollOutcome{}, &Error{Kind: Malformed, Msg: "PollRepContent carried no pollRep entry"}
		}
		entry := entries[0]

		bound := int64(MaxCheckAfterPolling)
		if sleepMode {
			bound = int64(MaxCheckAfterSleeping)
		}
		if entry.CheckAfter < 0 || entry.CheckAfter > bound {
			return PollOutcome{}, &Error{Kind: BadCheckAfter, Msg: fmt.Sprintf("checkAfter value %d out of range [0, %d]", entry.CheckAfter, bound)}
		}
		checkAfter := time.Duration(entry.CheckAfter) * time.Second

		if c.TotalTimeout > 0 {
			left := c.timeLeft() - pollReserve
			if left <= 0 {
				return PollOutcome{}, withDiagnostic(c, &Error{Kind: TotalTimeout, Msg: "total transaction timeout exceeded while polling"})
			}
			if left < checkAfter {
				// One last poll is permitted right at the deadline.
				checkAfter = left
			}
		}

		c.Log.V(1).Info("received polling response", "checkAfter", checkAfter, "reason", entry.Reason)

		if !sleepMode {
			return PollOutcome{Done: false, CheckAfter: checkAfter}, nil
		}

		c.Clock.Sleep(checkAfter)
	}
}
