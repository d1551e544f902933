package main

import (
	"context"

	"github.com/cifrazia/cats/internal/catscodec"
	"github.com/cifrazia/cats/internal/catsheaders"
	"github.com/cifrazia/cats/internal/catsrequest"
	"github.com/cifrazia/cats/internal/catsresponse"
	"github.com/cifrazia/cats/internal/catsrouter"
)

// echoHandlerID answers with the exact JSON payload it received, exercising
// the basic-JSON-echo end-to-end scenario.
const echoHandlerID uint16 = 0x01

func registerExampleHandlers(router *catsrouter.Router) {
	_ = router.Register(catsrouter.HandlerItem{
		ID:       echoHandlerID,
		Name:     "echo",
		Callback: echoHandler,
	})
}

func echoHandler(_ context.Context, req *catsrequest.Request) (*catsresponse.Response, error) {
	headers := catsheaders.Headers{}
	headers.SetStatus(200)
	return &catsresponse.Response{
		Data:     req.Data,
		DataType: catscodec.TypeJSON,
		Headers:  headers,
	}, nil
}
