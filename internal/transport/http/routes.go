package http

import "net/http"

// NewMux serves the health probe and the operator event stream.
func NewMux(ws *WSHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", ws.ServeWS)
	return mux
}
