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

package pkistatus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cert-manager/cmp-client/pkistatus"
)

func TestRender(t *testing.T) {
	badCertTemplate := uint32(1 << pkistatus.BadCertTemplate)

	testcases := []struct {
		name          string
		status        int
		failInfo      uint32
		statusStrings []string
		want          string
		wantErr       bool
	}{
		{
			name:   "accepted, no extras",
			status: pkistatus.Accepted,
			want:   "PKIStatus: accepted",
		},
		{
			name:          "rejection with failure bit and status string",
			status:        pkistatus.Rejection,
			failInfo:      badCertTemplate,
			statusStrings: []string{"bad subject"},
			want:          `PKIStatus: rejection; PKIFailureInfo: badCertTemplate; StatusString: "bad subject"`,
		},
		{
			name:   "rejection with no failure info and no status string",
			status: pkistatus.Rejection,
			want:   "PKIStatus: rejection; <no failure info>",
		},
		{
			name:          "waiting with two status strings",
			status:        pkistatus.Waiting,
			statusStrings: []string{"s1", "s2"},
			want:          `PKIStatus: waiting; <no failure info>; StatusStrings: "s1", "s2"`,
		},
		{
			name:     "multiple failure bits render in ascending order",
			status:   pkistatus.Rejection,
			failInfo: uint32(1<<pkistatus.BadAlg) | uint32(1<<pkistatus.SystemFailure),
			want:     "PKIStatus: rejection; PKIFailureInfo: badAlg, systemFailure",
		},
		{
			name:    "unknown status",
			status:  42,
			wantErr: true,
		},
		{
			name:    "unset status",
			status:  pkistatus.Unset,
			wantErr: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := pkistatus.Render(tc.status, tc.failInfo, tc.statusStrings)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFailureInfoNames(t *testing.T) {
	bits := uint32(1<<pkistatus.BadAlg) | uint32(1<<pkistatus.DuplicateCertReq)
	require.Equal(t, []string{"badAlg", "duplicateCertReq"}, pkistatus.FailureInfoNames(bits))
	require.Empty(t, pkistatus.FailureInfoNames(0))
}

func TestName(t *testing.T) {
	name, ok := pkistatus.Name(pkistatus.GrantedWithMods)
	require.True(t, ok)
	require.Equal(t, "grantedWithMods", name)

	_, ok = pkistatus.Name(pkistatus.Unset)
	require.False(t, ok)
}
