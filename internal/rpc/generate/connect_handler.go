package generate

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/bufbuild/connect-go"

	"github.com/vollocare/autocoder/internal/observability"
	"github.com/vollocare/autocoder/internal/rpc"
	"github.com/vollocare/autocoder/internal/rpc/connectjson"
)

const ConnectGenerateProcedure = "/autocoder.v1.GeneratorService/Generate"

// NewConnectHandler builds a Connect bidi stream handler for Generate.
func NewConnectHandler(runner Runner, metrics *observability.Metrics) (string, http.Handler) {
	h := &connectGenerateHandler{runner: runner, metrics: metrics}
	return ConnectGenerateProcedure, connect.NewBidiStreamHandler(ConnectGenerateProcedure, h.handle, connect.WithCodec(connectjson.Codec{}))
}

type connectGenerateHandler struct {
	runner  Runner
	metrics *observability.Metrics
}

func (h *connectGenerateHandler) handle(ctx context.Context, stream *connect.BidiStream[rpc.GenerateStreamRequest, rpc.GenerateEvent]) error {
	h.metrics.IncActiveSessions("connect")
	defer h.metrics.DecActiveSessions("connect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first, err := stream.Receive()
	if err != nil {
		h.metrics.RecordTransportError("connect", "receive_first")
		return err
	}
	if first == nil || first.Generate == nil {
		h.metrics.RecordTransportError("connect", "missing_generate")
		return connect.NewError(connect.CodeInvalidArgument, errors.New("first message must include generate payload"))
	}

	req := *first.Generate
	fillIDs(&req)

	// Listen for cancellation messages from the client. A half-closed request
	// stream is not a cancellation.
	go func() {
		for {
			msg, recvErr := stream.Receive()
			if recvErr != nil {
				if ctx.Err() == nil && !errors.Is(recvErr, context.Canceled) && !isEOF(recvErr) {
					h.metrics.RecordTransportError("connect", "receive_stream")
					cancel()
				}
				return
			}
			if msg != nil && msg.Cancel {
				cancel()
				return
			}
		}
	}()

	events, runErr := h.runner.Run(ctx, req)
	if runErr != nil {
		h.metrics.RecordTransportError("connect", "runner_error")
		return connect.NewError(connect.CodeInvalidArgument, runErr)
	}

	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			h.metrics.RecordTransportError("connect", "send")
			cancel()
			for range events {
			}
			return err
		}
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
