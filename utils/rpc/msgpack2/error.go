// Copyright 2009 The Go Authors. All rights reserved.
// Copyright 2012 The Gorilla Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgpack2

import (
	"errors"
)

// ErrorCode follows the JSON-RPC 2.0 numbering.
type ErrorCode int

const (
	// ErrParse is a request body that is not msgpack.
	ErrParse ErrorCode = -32700
	// ErrInvalidReq is a request without a method or with unusable params.
	ErrInvalidReq ErrorCode = -32600
	// ErrServer is any error returned by a service method.
	ErrServer ErrorCode = -32000
)

// ErrNullResult is returned by DecodeClientResponse for a response with neither result nor error.
var ErrNullResult = errors.New("result is null")

// Error is the error member of a response.
type Error struct {
	Code    ErrorCode   `msgpack:"code"`
	Message string      `msgpack:"message"`
	Data    interface{} `msgpack:"data"`
}

func (e *Error) Error() string {
	return e.Message
}
