package main

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/adiuv0/gamevault/progress"
)

// streamSSE bridges a progress subscription to the client as server-sent
// events: `id: <seq>\nevent: <kind>\ndata: <json>\n\n`, one flush per event. The
// stream ends on `done`, on topic close, or when the client disconnects;
// the publishing session is unaffected by disconnects.
func streamSSE(c echo.Context, sub *progress.Subscription) error {
	defer sub.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	for {
		ev, ok, err := sub.Next(ctx)
		if err != nil {
			// Client went away; the session keeps running.
			return nil
		}
		if !ok {
			return nil
		}

		data := ev.Data
		if len(data) == 0 {
			data = []byte("{}")
		}
		if _, err := fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data); err != nil {
			return nil
		}
		res.Flush()

		if ev.Kind == progress.KindDone {
			return nil
		}
	}
}
