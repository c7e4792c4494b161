package jsonerr

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"go.sigreq.dev/client-sdk/api/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusFail is the application status of a rejected request.
const StatusFail = "fail"

// Error writes the error envelope for err to w using JSON encoding.
// The given status code is used if it is non-zero, otherwise it
// is set to 500.
//
// The message is err's text, so callers pass short error codes such as
// "sig_mismatch" rather than wrapped internal errors.
//
// If err is nil it sets the status to 200 OK and writes:
//
//	{"status": "ok", "msg": ""}
func Error(w http.ResponseWriter, err error, code int) {
	if code == 0 {
		code = http.StatusInternalServerError
	}

	resp := &types.ErrorResponse{Status: StatusFail}
	if err == nil {
		code = http.StatusOK
		resp.Status = types.StatusOK
	} else {
		resp.Msg = err.Error()
	}
	Write(w, code, resp)
}

// Write writes v as JSON with the given status code.
func Write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	data, _ := json.Marshal(v)
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
