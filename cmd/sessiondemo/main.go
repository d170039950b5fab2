package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/sttcore/session/internal/auth"
	"github.com/sttcore/session/internal/gateway"
	"github.com/sttcore/session/internal/logging"
	"github.com/sttcore/session/internal/protocol"
	"github.com/sttcore/session/pkg/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: error loading .env file: %v", err)
	}

	fmt.Println("session gateway starting...")

	token := os.Getenv("STTCORE_API_TOKEN")
	if token == "" {
		log.Fatal("STTCORE_API_TOKEN environment variable is not set")
	}
	endpoint := os.Getenv("STTCORE_ENDPOINT")
	if endpoint == "" {
		endpoint = "wss://api.example-speech.com/speech/recognition/dynamic"
	}

	authn, err := auth.NewStaticAuthenticator(token)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	factory := transport.NewWSFactory(endpoint, transport.Params{})
	cfg := protocol.DefaultRecognizerConfig()
	gw := gateway.New(factory, authn, cfg, logging.NewStd())

	http.HandleFunc("/api/session/init", gw.InitializeSession)
	http.HandleFunc("/api/session/status", gw.GetSessionStatus)
	http.HandleFunc("/api/session/close", gw.CloseSession)
	http.HandleFunc("/ws/session/", gw.HandleWebSocket)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "session-gateway"}`))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("listening on http://localhost:%s", port)
	log.Printf("websocket endpoint: ws://localhost:%s/ws/session/{session_id}", port)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal("server failed to start:", err)
	}
}
