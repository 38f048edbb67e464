/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var errorTests = []struct {
	Name             string
	RespCode         int
	RespBody         string
	RespContentType  string
	RequireCode      int
	RequireErrDomain string
	RequireErrCode   string
	WantFailed       bool
}{
	{
		Name:             "ok",
		RespCode:         429,
		RespContentType:  contentTypeAppJSON,
		RespBody:         `{"error":{"domain":"MyService","code":"tooManyRequests"}}`,
		RequireCode:      429,
		RequireErrDomain: "MyService",
		RequireErrCode:   "tooManyRequests",
		WantFailed:       false,
	},
	{
		Name:             "invalid code",
		RespCode:         503,
		RespContentType:  contentTypeAppJSON,
		RespBody:         `{"error":{"domain":"MyService","code":"tooManyRequests"}}`,
		RequireCode:      429,
		RequireErrDomain: "MyService",
		RequireErrCode:   "tooManyRequests",
		WantFailed:       true,
	},
	{
		Name:             "invalid content type",
		RespCode:         429,
		RespContentType:  "text/html",
		RespBody:         `{"error":{"domain":"MyService","code":"tooManyRequests"}}`,
		RequireCode:      429,
		RequireErrDomain: "MyService",
		RequireErrCode:   "tooManyRequests",
		WantFailed:       true,
	},
	{
		Name:             "invalid err domain",
		RespCode:         429,
		RespContentType:  contentTypeAppJSON,
		RespBody:         `{"error":{"domain":"NotMyService","code":"tooManyRequests"}}`,
		RequireCode:      429,
		RequireErrDomain: "MyService",
		RequireErrCode:   "tooManyRequests",
		WantFailed:       true,
	},
	{
		Name:             "invalid err code",
		RespCode:         429,
		RespContentType:  contentTypeAppJSON,
		RespBody:         `{"error":{"domain":"MyService","code":"internalError"}}`,
		RequireCode:      429,
		RequireErrDomain: "MyService",
		RequireErrCode:   "tooManyRequests",
		WantFailed:       true,
	},
}

func TestRequireErrorInRecorder(t *testing.T) {
	for i := range errorTests {
		tt := errorTests[i]
		t.Run(tt.Name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rec.Header().Set("Content-Type", tt.RespContentType)
			rec.WriteHeader(tt.RespCode)
			_, _ = rec.Write([]byte(tt.RespBody))
			mockT := &MockT{}
			RequireErrorInRecorder(mockT, rec, tt.RequireCode, tt.RequireErrDomain, tt.RequireErrCode)
			require.Equal(t, tt.WantFailed, mockT.Failed)
		})
	}
}

func TestRequireErrorInResponse(t *testing.T) {
	for i := range errorTests {
		tt := errorTests[i]
		t.Run(tt.Name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				rw.Header().Set("Content-Type", tt.RespContentType)
				rw.WriteHeader(tt.RespCode)
				_, _ = rw.Write([]byte(tt.RespBody))
			}))
			defer srv.Close()

			resp, err := http.Get(srv.URL)
			require.NoError(t, err)

			mockT := &MockT{}
			RequireErrorInResponse(mockT, resp, tt.RequireCode, tt.RequireErrDomain, tt.RequireErrCode)
			require.Equal(t, tt.WantFailed, mockT.Failed)
			require.NoError(t, resp.Body.Close())
		})
	}
}
