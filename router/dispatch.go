package router

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/alsocoders/sockress/errors"
)

// ErrorBody is the JSON shape of the engine's synthetic 404 and 500
// responses, and of the default error payloads the transports emit.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Dispatch runs the composed stack for the context's request. It is an
// explicit loop over the stack with an index and a pending-error flag:
//
//   - a normal layer runs only while no error is pending; an error it
//     returns (or a panic it raises) becomes the pending error
//   - an error layer runs only while an error is pending; returning nil
//     consumes the error, returning an error continues the unwind
//   - layers of the other kind are skipped, not executed
//
// When the stack is exhausted the engine emits exactly one synthetic
// response — a structured 500 if an error is still pending, a structured 404
// if nothing was sent — unless a handler already sent one. Halt stops the
// loop early; the same terminal rule applies.
func Dispatch(r *Router, ctx *Ctx) {
	stack, params := r.compose(ctx.Request.Method, ctx.Request.Path)
	if ctx.Request.Params == nil {
		ctx.Request.Params = params
	} else {
		for name, value := range params {
			ctx.Request.Params[name] = value
		}
	}

	var pending error
	for _, s := range stack {
		if ctx.halted {
			break
		}

		switch {
		case pending == nil && s.handler != nil:
			pending = invoke(ctx, s.handler)
		case pending != nil && s.errHandler != nil:
			pending = invokeError(ctx, s.errHandler, pending)
		default:
			// Skip: error handlers on the success path, normal handlers
			// while unwinding.
		}
	}

	if ctx.Response.Sent() {
		return
	}

	if pending != nil {
		status := errors.StatusCode(pending)
		ctx.Logger().Error("request failed",
			slog.String("method", ctx.Request.Method),
			slog.String("path", ctx.Request.Path),
			slog.Int("status", status),
			slog.String("error", pending.Error()))
		_ = ctx.Response.Status(status).JSON(ErrorBody{Error: pending.Error(), Status: status})
		return
	}

	_ = ctx.Response.Status(404).JSON(ErrorBody{Error: "Not Found", Status: 404})
}

// invoke runs a handler, converting a panic into a pending error so a broken
// handler never takes the process down.
func invoke(ctx *Ctx, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx.Logger().Error("handler panic",
				slog.Any("panic", r),
				slog.String("path", ctx.Request.Path),
				slog.String("stack", string(debug.Stack())))
			err = errors.WrapFatal(fmt.Errorf("handler panic: %v", r),
				"Dispatch", "invoke", "recover handler")
		}
	}()
	return h(ctx)
}

func invokeError(ctx *Ctx, h ErrorHandler, pending error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx.Logger().Error("error handler panic",
				slog.Any("panic", r),
				slog.String("path", ctx.Request.Path),
				slog.String("stack", string(debug.Stack())))
			err = errors.WrapFatal(fmt.Errorf("error handler panic: %v", r),
				"Dispatch", "invokeError", "recover error handler")
		}
	}()
	return h(ctx, pending)
}
