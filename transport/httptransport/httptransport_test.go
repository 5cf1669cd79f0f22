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

package httptransport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cert-manager/cmp-client/internal/tests/mockcmp"
	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/transport/httptransport"
)

type echoCodec struct{}

func (echoCodec) Marshal(msg message.Message) ([]byte, error) {
	return []byte(msg.BodyType().String()), nil
}

func (echoCodec) Unmarshal(data []byte) (message.Message, error) {
	return mockcmp.NewSimpleMessage(message.PKIConf), nil
}

func TestTransferSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/pkixcmp", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "ir", string(body))

		w.Header().Set("Content-Type", "application/pkixcmp")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ip"))
	}))
	defer srv.Close()

	tr := httptransport.New(srv.URL, echoCodec{})
	resp, err := tr.Transfer(context.Background(), nil, mockcmp.NewSimpleMessage(message.IR))
	require.NoError(t, err)
	require.Equal(t, message.PKIConf, resp.BodyType())
}

func TestTransferServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := httptransport.New(srv.URL, echoCodec{})
	_, err := tr.Transfer(context.Background(), nil, mockcmp.NewSimpleMessage(message.IR))
	require.Error(t, err)
}
