// Copyright 2009 The Go Authors. All rights reserved.
// Copyright 2012 The Gorilla Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgpack2

import (
	"net/http"

	rpc "github.com/alpacahq/rpc/rpc2"
	msgpack "github.com/vmihailenco/msgpack"
)

const ContentType = "application/x-msgpack"

// serverRequest represents a JSON-RPC request received by the server, msgpack encoded.
type serverRequest struct {
	Version string      `msgpack:"jsonrpc"`
	Method  string      `msgpack:"method"`
	Params  interface{} `msgpack:"params"`
	ID      interface{} `msgpack:"id"`
}

// serverResponse represents a JSON-RPC response returned by the server.
type serverResponse struct {
	Version string      `msgpack:"jsonrpc"`
	Result  interface{} `msgpack:"result,omitempty"`
	Error   *Error      `msgpack:"error,omitempty"`
	ID      interface{} `msgpack:"id"`
}

// NewCodec returns a new msgpack Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Codec creates a CodecRequest to process each request.
type Codec struct{}

// NewRequest returns a CodecRequest.
func (c *Codec) NewRequest(r *http.Request) rpc.CodecRequest {
	req := new(serverRequest)
	err := msgpack.NewDecoder(r.Body).Decode(req)
	if err != nil {
		err = &Error{
			Code:    ErrParse,
			Message: err.Error(),
			Data:    req,
		}
	} else if req.Version != "2.0" {
		err = &Error{
			Code:    ErrInvalidReq,
			Message: "jsonrpc must be 2.0",
			Data:    req,
		}
	}
	_ = r.Body.Close()
	return &CodecRequest{request: req, err: err}
}

// CodecRequest decodes and encodes a single request.
type CodecRequest struct {
	request *serverRequest
	err     error
}

// Method returns the RPC method for the current request.
//
// The method uses a dotted notation as in "Service.Method".
func (c *CodecRequest) Method() (string, error) {
	if c.err == nil {
		return c.request.Method, nil
	}
	return "", c.err
}

// ReadRequest fills the request object for the RPC method. Params given by position must hold
// exactly one element, the request object itself.
func (c *CodecRequest) ReadRequest(args interface{}) error {
	if c.err != nil || c.request.Params == nil {
		return c.err
	}
	params := c.request.Params
	if byPosition, ok := params.([]interface{}); ok {
		if len(byPosition) != 1 {
			c.err = &Error{
				Code:    ErrInvalidReq,
				Message: "params must hold exactly one element",
				Data:    c.request.Params,
			}
			return c.err
		}
		params = byPosition[0]
	}
	encoded, err := msgpack.Marshal(params)
	if err == nil {
		err = msgpack.Unmarshal(encoded, args)
	}
	if err != nil {
		c.err = &Error{
			Code:    ErrInvalidReq,
			Message: err.Error(),
			Data:    c.request.Params,
		}
	}
	return c.err
}

// WriteResponse encodes the response and writes it to the ResponseWriter.
func (c *CodecRequest) WriteResponse(w http.ResponseWriter, reply interface{}) {
	res := &serverResponse{
		Version: "2.0",
		Result:  reply,
		ID:      c.request.ID,
	}
	c.writeServerResponse(w, res)
}

func (c *CodecRequest) WriteError(w http.ResponseWriter, status int, err error) {
	msgErr, ok := err.(*Error)
	if !ok {
		msgErr = &Error{
			Code:    ErrServer,
			Message: err.Error(),
		}
	}
	res := &serverResponse{
		Version: "2.0",
		Error:   msgErr,
		ID:      c.request.ID,
	}
	c.writeServerResponse(w, res)
}

func (c *CodecRequest) writeServerResponse(w http.ResponseWriter, res *serverResponse) {
	// Id is null for notifications and they don't have a response.
	if c.request.ID == nil {
		return
	}
	w.Header().Set("Content-Type", ContentType)
	buf, err := msgpack.Marshal(res)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(buf)
}
