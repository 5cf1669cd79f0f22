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

package transaction_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/cert-manager/cmp-client/internal/tests/errormatch"
	"github.com/cert-manager/cmp-client/internal/tests/mockcmp"
	"github.com/cert-manager/cmp-client/message"
	"github.com/cert-manager/cmp-client/pkistatus"
	"github.com/cert-manager/cmp-client/transaction"
)

func generateTestCert(t *testing.T, cn string, pub interface{}, priv interface{}) *x509.Certificate {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newTestContext(transfer transaction.TransferFunc, factory *mockcmp.Factory) *transaction.Context {
	tctx := transaction.NewContext()
	tctx.Transfer = transfer
	tctx.Verify = mockcmp.AcceptAll
	tctx.Factory = factory
	tctx.Log = logr.Discard()
	return tctx
}

func acceptedStatus() message.PKIStatusInfo {
	return message.PKIStatusInfo{Status: pkistatus.Accepted}
}

func TestExecEnroll_HappyIR(t *testing.T) {
	key := generateTestKey(t)
	cert := generateTestCert(t, "happy-ir", &key.PublicKey, key)

	ip := &mockcmp.Msg{
		Type: message.IP,
		CertRep: &mockcmp.CertRep{
			ResponsesValue: []message.CertResponse{
				&mockcmp.CertResp{ReqID: 0, StatusV: acceptedStatus(), Cert: cert, CertOK: true},
			},
		},
	}
	pkiconf := &mockcmp.Msg{Type: message.PKIConf}

	script := &mockcmp.Script{Responses: []mockcmp.ScriptedResponse{
		{Response: ip},
		{Response: pkiconf},
	}}

	tctx := newTestContext(script.Transfer, &mockcmp.Factory{})
	got, err := tctx.ExecEnroll(context.Background(), message.IR)
	require.NoError(t, err)
	require.Equal(t, cert, got)
	require.Equal(t, pkistatus.Accepted, tctx.Status)
	require.Zero(t, tctx.FailInfoCode)
}

func TestExecEnroll_WaitingThenAccepted_Blocking(t *testing.T) {
	key := generateTestKey(t)
	cert := generateTestCert(t, "waiting-then-accepted", &key.PublicKey, key)

	ipWaiting := &mockcmp.Msg{
		Type: message.IP,
		CertRep: &mockcmp.CertRep{
			ResponsesValue: []message.CertResponse{
				&mockcmp.CertResp{ReqID: 0, StatusV: message.PKIStatusInfo{Status: pkistatus.Waiting}},
			},
		},
	}
	pollRep := &mockcmp.Msg{
		Type: message.PollRep,
		PollRep: &mockcmp.PollRepC{
			EntriesValue: []message.PollRep{{CertReqID: 0, CheckAfter: 1}},
		},
	}
	cpAccepted := &mockcmp.Msg{
		Type: message.CP,
		CertRep: &mockcmp.CertRep{
			ResponsesValue: []message.CertResponse{
				&mockcmp.CertResp{ReqID: 0, StatusV: acceptedStatus(), Cert: cert, CertOK: true},
			},
		},
	}
	pkiconf := &mockcmp.Msg{Type: message.PKIConf}

	script := &mockcmp.Script{Responses: []mockcmp.ScriptedResponse{
		{Response: ipWaiting},
		{Response: pollRep},
		{Response: cpAccepted},
		{Response: pkiconf},
	}}

	tctx := newTestContext(script.Transfer, &mockcmp.Factory{})
	fakeClock := clocktesting.NewFakeClock(time.Now())
	tctx.Clock = fakeClock

	type result struct {
		cert *x509.Certificate
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := tctx.ExecEnroll(context.Background(), message.IR)
		done <- result{c, err}
	}()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	fakeClock.Step(time.Second)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Equal(t, cert, r.cert)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ExecEnroll to finish")
	}
}

func TestTryCertReq_WaitingNonBlocking_ThenAbort(t *testing.T) {
	ipWaiting := &mockcmp.Msg{
		Type: message.IP,
		CertRep: &mockcmp.CertRep{
			ResponsesValue: []message.CertResponse{
				&mockcmp.CertResp{ReqID: 0, StatusV: message.PKIStatusInfo{Status: pkistatus.Waiting}},
			},
		},
	}
	pollRep30 := &mockcmp.Msg{
		Type: message.PollRep,
		PollRep: &mockcmp.PollRepC{
			EntriesValue: []message.PollRep{{CertReqID: 0, CheckAfter: 30}},
		},
	}
	pkiconf := &mockcmp.Msg{Type: message.PKIConf}

	var capturedStatus int
	var capturedText string
	factory := &mockcmp.Factory{
		NewErrorFunc: func(status int, failInfo uint32, text string, errorCode int64, details string) (message.Message, error) {
			capturedStatus = status
			capturedText = text
			return &mockcmp.Msg{Type: message.ErrorMsg}, nil
		},
	}

	script := &mockcmp.Script{Responses: []mockcmp.ScriptedResponse{
		{Response: ipWaiting},
		{Response: pollRep30},
		{Response: pkiconf},
	}}

	tctx := newTestContext(script.Transfer, factory)

	cert, done, checkAfter, err := tctx.TryCertReq(context.Background(), message.IR, false)
	require.NoError(t, err)
	require.False(t, done)
	require.Nil(t, cert)
	require.Equal(t, 30*time.Second, checkAfter)

	_, done, _, err = tctx.TryCertReq(context.Background(), message.IR, true)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, pkistatus.Rejection, capturedStatus)
	require.Contains(t, capturedText, "polling aborted")
}

func TestExecEnroll_ServerError(t *testing.T) {
	failInfo := uint32(1 << pkistatus.BadCertTemplate)
	errMsg := &mockcmp.Msg{
		Type: message.ErrorMsg,
		ErrorContent: &mockcmp.ErrorContent{
			StatusV: message.PKIStatusInfo{
				Status:       pkistatus.Rejection,
				FailInfo:     &failInfo,
				StatusString: []string{"bad subject"},
			},
		},
	}

	script := &mockcmp.Script{Responses: []mockcmp.ScriptedResponse{{Response: errMsg}}}
	tctx := newTestContext(script.Transfer, &mockcmp.Factory{})

	_, err := tctx.ExecEnroll(context.Background(), message.IR)
	errormatch.Kind(transaction.ReceivedError)(t, err)

	rendered, rerr := tctx.Render()
	require.NoError(t, rerr)
	require.Equal(t, `PKIStatus: rejection; PKIFailureInfo: badCertTemplate; StatusString: "bad subject"`, rendered)
}

func TestExecEnroll_KeyMismatchDefaultCertConfirm(t *testing.T) {
	enrollKey := generateTestKey(t)
	otherKey := generateTestKey(t)
	cert := generateTestCert(t, "key-mismatch", &otherKey.PublicKey, otherKey)

	ip := &mockcmp.Msg{
		Type: message.IP,
		CertRep: &mockcmp.CertRep{
			ResponsesValue: []message.CertResponse{
				&mockcmp.CertResp{ReqID: 0, StatusV: acceptedStatus(), Cert: cert, CertOK: true},
			},
		},
	}

	var certConfFailInfo uint32
	factory := &mockcmp.Factory{
		NewCertConfFunc: func(failInfo uint32, text string) (message.Message, error) {
			certConfFailInfo = failInfo
			return &mockcmp.Msg{Type: message.CertConf}, nil
		},
	}
	pkiconf := &mockcmp.Msg{Type: message.PKIConf}

	script := &mockcmp.Script{Responses: []mockcmp.ScriptedResponse{
		{Response: ip},
		{Response: pkiconf},
	}}

	tctx := newTestContext(script.Transfer, factory)
	tctx.EnrollmentPublicKey = &enrollKey.PublicKey
	tctx.CertConfirm = transaction.DefaultCertConfirm

	_, err := tctx.ExecEnroll(context.Background(), message.IR)
	errormatch.Kind(transaction.CertificateNotAccepted)(t, err)
	require.Equal(t, uint32(1<<pkistatus.IncorrectData), certConfFailInfo)
	require.Equal(t, uint32(1<<pkistatus.IncorrectData), tctx.FailInfoCode)
}

func TestExecRevoke_Happy(t *testing.T) {
	key := generateTestKey(t)
	oldCert := generateTestCert(t, "rr-happy", &key.PublicKey, key)

	rp := &mockcmp.Msg{
		Type: message.RP,
		RevRep: &mockcmp.RevRep{
			StatusValue: []message.PKIStatusInfo{acceptedStatus()},
			RevCertsValue: []message.CertId{
				{Issuer: oldCert.Issuer, SerialNumber: oldCert.SerialNumber},
			},
			RevCertsSet: true,
		},
	}

	script := &mockcmp.Script{Responses: []mockcmp.ScriptedResponse{{Response: rp}}}
	tctx := newTestContext(script.Transfer, &mockcmp.Factory{})
	tctx.OldCert = oldCert

	got, err := tctx.ExecRevoke(context.Background())
	require.NoError(t, err)
	require.Equal(t, oldCert, got)
	require.Equal(t, pkistatus.Accepted, tctx.Status)
}
