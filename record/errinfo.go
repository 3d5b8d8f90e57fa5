// Copyright 2026 The Logfan Authors
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

package record

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// stackProvider is implemented by errors that carry their own stack trace.
// When present, the error's stack is preferred over capturing a fresh one,
// since the error's stack points at the failure site rather than the log site.
type stackProvider interface {
	Stack() string
}

// NormalizeError converts a Go error into the record's {name, message, stack}
// form. The name is the error's dynamic type; wrapped chains keep the
// outermost type, which is the one the caller actually handled.
//
// Normalization runs before sanitization on purpose: a stack or message can
// embed sensitive values, and the sanitizer must get a chance to see them.
func NormalizeError(err error) *ErrInfo {
	if err == nil {
		return nil
	}
	info := &ErrInfo{
		Name:    errorName(err),
		Message: err.Error(),
	}
	if sp, ok := err.(stackProvider); ok {
		info.Stack = sp.Stack()
	} else {
		info.Stack = captureStack(3)
	}
	return info
}

// errorName derives a readable type name for an error value.
func errorName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "error"
	}
	if t.PkgPath() == "errors" || t.PkgPath() == "fmt" {
		// errors.New and fmt.Errorf values all share unexported stdlib
		// types; the generic name reads better than "errorString".
		return "error"
	}
	return t.Name()
}

// captureStack captures a stack trace.
//
// Skip parameter: number of frames to skip. 3 skips captureStack,
// NormalizeError, and the level method that triggered normalization.
func captureStack(skip int) string {
	var buf strings.Builder
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		fmt.Fprintf(&buf, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return buf.String()
}
