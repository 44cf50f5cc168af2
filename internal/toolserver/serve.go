package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// Serve answers call envelopes read from r with result envelopes written to
// w until r is exhausted or ctx is cancelled. Calls run concurrently;
// responses are written whole, in completion order.
func Serve(ctx context.Context, srv *tool.Server, r io.Reader, w io.Writer, framing types.Framing) error {
	if framing == "" {
		framing = types.FramingNewline
	}
	fr := newFrameReader(r, framing)
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
		werr    error
	)
	reply := func(res types.ResultEnvelope) {
		payload, _ := json.Marshal(res)
		writeMu.Lock()
		defer writeMu.Unlock()
		if werr != nil {
			return
		}
		_, werr = w.Write(encodeFrame(framing, payload))
	}

	for {
		if ctx.Err() != nil {
			break
		}
		payload, err := fr.Next()
		if err != nil {
			wg.Wait()
			if errors.Is(err, io.EOF) {
				return werr
			}
			return err
		}
		var env types.CallEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply(answer(ctx, srv, env))
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func answer(ctx context.Context, srv *tool.Server, env types.CallEnvelope) types.ResultEnvelope {
	if env.ToolName == types.ListToolsName {
		raw, err := json.Marshal(srv.Descriptors())
		if err != nil {
			return types.ResultEnvelope{CallID: env.CallID, Error: err.Error()}
		}
		return types.ResultEnvelope{CallID: env.CallID, Success: true, Content: string(raw)}
	}
	out, err := srv.Call(ctx, env.ToolName, env.Parameters)
	if err != nil {
		return types.ResultEnvelope{CallID: env.CallID, Error: err.Error()}
	}
	return types.ResultEnvelope{CallID: env.CallID, Success: true, Content: out}
}
