// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the typed error taxonomy used to drive the
// engine's exit-code table (spec §7) and the Retry Policy's
// retryable/non-retryable classification.
package errors

import (
	"errors"
	"fmt"
)

// Exit codes per the kind -> cause -> exit table.
const (
	ExitOK             = 0
	ExitGeneralFailure = 1
	ExitUsageOrState   = 2
	ExitTimeout        = 124
	ExitInterrupted    = 130
)

// Wrap, Wrapf, Is, As, Unwrap mirror pkg/errors' familiar call-site shape
// on top of the standard library's error-chain primitives.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target interface{}) bool { return errors.As(err, target) }
func Unwrap(err error) error { return errors.Unwrap(err) }
func New(message string) error { return errors.New(message) }

// Kind enumerates the error kinds from spec §7.
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindPathSafety            Kind = "path_safety_error"
	KindUndefinedVariables    Kind = "undefined_variables"
	KindMissingSecrets        Kind = "missing_secrets"
	KindDependencyValidation  Kind = "dependency_validation"
	KindJSONParse             Kind = "json_parse_error"
	KindJSONOverflow          Kind = "json_overflow"
	KindTimeout               Kind = "timeout"
	KindExecution             Kind = "execution_error"
)

var kindExitCode = map[Kind]int{
	KindValidation:           ExitUsageOrState,
	KindPathSafety:           ExitUsageOrState,
	KindUndefinedVariables:   ExitUsageOrState,
	KindMissingSecrets:       ExitUsageOrState,
	KindDependencyValidation: ExitUsageOrState,
	KindJSONParse:            ExitUsageOrState,
	KindJSONOverflow:         ExitUsageOrState,
	KindTimeout:              ExitTimeout,
	KindExecution:            ExitGeneralFailure,
}

// TypedError is the common shape implemented by every error in this
// package. Callers that only hold an `error` can recover the engine's
// classification via errors.As against *TypedError and its Kind field.
type TypedError struct {
	Kind    Kind
	Message string
	Context map[string]interface{}
	Cause   error
}

func (e *TypedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TypedError) Unwrap() error { return e.Cause }

// ExitCode maps the error's Kind to the process exit code spec §7 assigns it.
func (e *TypedError) ExitCode() int {
	if code, ok := kindExitCode[e.Kind]; ok {
		return code
	}
	return ExitGeneralFailure
}

// Retryable reports whether the Retry Policy should consider this error's
// exit code retryable. Only EXECUTION and TIMEOUT failures are ever
// retryable; invocation-preparation failures (missing placeholder, missing
// secret, bad pointer, path safety) are never retried.
func (e *TypedError) Retryable() bool {
	return e.Kind == KindExecution || e.Kind == KindTimeout
}

func newTyped(kind Kind, message string, ctx map[string]interface{}) *TypedError {
	return &TypedError{Kind: kind, Message: message, Context: ctx}
}

func NewValidationError(message string, ctx map[string]interface{}) *TypedError {
	return newTyped(KindValidation, message, ctx)
}

func NewPathSafetyError(message string, ctx map[string]interface{}) *TypedError {
	return newTyped(KindPathSafety, message, ctx)
}

func NewUndefinedVariablesError(vars []string) *TypedError {
	return newTyped(KindUndefinedVariables, "undefined variables referenced", map[string]interface{}{
		"undefined": vars,
	})
}

func NewMissingSecretsError(names []string) *TypedError {
	return newTyped(KindMissingSecrets, "missing required secrets", map[string]interface{}{
		"missing": names,
	})
}

func NewDependencyValidationError(missing []string) *TypedError {
	return newTyped(KindDependencyValidation, "missing required dependencies", map[string]interface{}{
		"missing": missing,
	})
}

func NewJSONParseError(message string, ctx map[string]interface{}) *TypedError {
	return newTyped(KindJSONParse, message, ctx)
}

func NewJSONOverflowError(message string, ctx map[string]interface{}) *TypedError {
	return newTyped(KindJSONOverflow, message, ctx)
}

func NewTimeoutError(message string, ctx map[string]interface{}) *TypedError {
	return newTyped(KindTimeout, message, ctx)
}

func NewExecutionError(message string, cause error, ctx map[string]interface{}) *TypedError {
	e := newTyped(KindExecution, message, ctx)
	e.Cause = cause
	return e
}

// ExitCodeFor inspects err's tree for a *TypedError and returns its exit
// code, falling back to ExitGeneralFailure for untyped errors.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var te *TypedError
	if As(err, &te) {
		return te.ExitCode()
	}
	return ExitGeneralFailure
}
