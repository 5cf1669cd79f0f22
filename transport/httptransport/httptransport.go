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

// Package httptransport is the default transaction.TransferFunc collaborator:
// it POSTs a PKIMessage to a fixed URL and parses the response, honoring
// the deadline the transaction core derives from Context.MsgTimeout and
// Context.TotalTimeout. The specification scopes DER encoding out of the
// core, so a Codec is injected to turn a message.Message into wire bytes
// and back; this package only owns the HTTP round trip.
package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/transaction"
)

// contentType is the media type registered for CMP messages over HTTP,
// RFC 6712 section 3.3.
const contentType = "application/pkixcmp"

// Codec turns a message.Message into the bytes to send on the wire and
// parses the bytes a server answers with back into a message.Message.
// Its implementation is expected to live alongside whatever produces
// concrete message.Message values for a given deployment (e.g. an
// ASN.1 DER codec); this package never inspects the byte layout itself.
type Codec interface {
	Marshal(msg message.Message) ([]byte, error)
	Unmarshal(data []byte) (message.Message, error)
}

// Transport is a reusable HTTP client for one CMP server endpoint.
type Transport struct {
	URL    string
	Client *http.Client
	Codec  Codec
}

// New returns a Transport posting to url using http.DefaultClient's
// settings as a base. Callers needing custom TLS configuration should set
// Client directly.
func New(url string, codec Codec) *Transport {
	return &Transport{
		URL:    url,
		Client: &http.Client{},
		Codec:  codec,
	}
}

// Transfer implements transaction.TransferFunc.
func (t *Transport) Transfer(goCtx context.Context, tctx *transaction.Context, req message.Message) (message.Message, error) {
	body, err := t.Codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("httptransport: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(goCtx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httptransport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", contentType)

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httptransport: round trip: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("httptransport: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httptransport: server returned status %s", resp.Status)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && ct != contentType {
		return nil, fmt.Errorf("httptransport: unexpected response content-type %q", ct)
	}

	respMsg, err := t.Codec.Unmarshal(respBody)
	if err != nil {
		return nil, fmt.Errorf("httptransport: unmarshal response: %w", err)
	}
	return respMsg, nil
}

// maxResponseBytes bounds how much of a response this transport will read,
// guarding against a misbehaving or malicious server streaming unbounded
// data at a blocking client.
const maxResponseBytes = 1 << 20
