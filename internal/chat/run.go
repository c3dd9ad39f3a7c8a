package chat

import "github.com/mattjoyce/streamchat/internal/sse"

// Run streams the answer for s and hands every state change to post, which
// must execute the callback on the event loop owning s. Run blocks until
// the stream ends, fails, or s is stopped; call it from its own goroutine.
func Run(client *Client, s *Session, post func(func())) {
	err := client.Stream(s.Context(), s.Question, s.Model,
		func() { post(s.Accept) },
		func(ev sse.Event) { post(func() { s.Handle(ev) }) },
	)
	post(func() { s.Close(err) })
}
