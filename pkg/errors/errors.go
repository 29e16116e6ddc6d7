// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lectern Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeEmbedRequestInvalid     Code = "embed.request.invalid"
	CodeEmbedUpstreamFailure    Code = "embed.request.upstream_failure"
	CodeEmbedResponseInvalid    Code = "embed.response.invalid_format"
	CodeEmbedBackendUnsupported Code = "embed.backend.unsupported"

	CodeIndexUnavailable        Code = "index.collection.unavailable"
	CodeIndexAddFailure         Code = "index.add.failure"
	CodeIndexQueryFailure       Code = "index.query.failure"
	CodeIndexClearFailure       Code = "index.clear.failure"
	CodeIndexResponseInvalid    Code = "index.response.invalid_format"
	CodeIndexBackendUnsupported Code = "index.backend.unsupported"

	CodeIngestFileUnsupported Code = "ingest.file.unsupported_type"
	CodeIngestFileReadFailure Code = "ingest.file.read.failure"
	CodeIngestDirReadFailure  Code = "ingest.dir.read.failure"

	CodeRetrievalFailure Code = "retrieval.query.failure"

	CodeGenerateUpstreamFailure    Code = "generate.request.upstream_failure"
	CodeGenerateRequestInvalid     Code = "generate.request.invalid"
	CodeProviderNotFound           Code = "generate.provider.not_found"
	CodeProviderBackendUnsupported Code = "generate.backend.unsupported"

	CodeStreamFrameInvalid   Code = "stream.frame.invalid_format"
	CodeStreamStateInvalid   Code = "stream.state.invalid"
	CodeStreamPayloadInvalid Code = "stream.payload.invalid_format"
	CodeStreamWriteFailure   Code = "stream.write.failure"

	CodeSecretNotFound     Code = "secret.get.not_found"
	CodeSecretInvalidInput Code = "secret.invalid_input"
	CodeSecretStoreFailure Code = "secret.store.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerStartFailure    Code = "server.start.failure"

	CodeCLIServerNotRunning Code = "cli.server.not_running"
	CodeCLIRequestFailure   Code = "cli.request.failure"
	CodeCLIResponseInvalid  Code = "cli.response.invalid"
	CodeCLIInputInvalid     Code = "cli.input.invalid"
	CodeCLISetupFailure     Code = "cli.setup.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldFile(value string) Attr {
	return Field("file", value)
}

func FieldCollection(value string) Attr {
	return Field("collection", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldLibrary(value string) Attr {
	return Field("library", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsUpstreamFailure(err error) bool {
	return reason(CodeOf(err)) == "upstream_failure"
}

func IsUnavailable(err error) bool {
	r := reason(CodeOf(err))
	return r == "unavailable" || r == "not_running"
}

func IsUnsupported(err error) bool {
	r := reason(CodeOf(err))
	return r == "unsupported" || r == "unsupported_type"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether any error in err's chain matches target.
// Re-exported so callers don't need a second errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// reason returns the final dot-path segment of a code.
func reason(code Code) string {
	s := string(code)
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
