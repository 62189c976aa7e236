// Command mockbackend fakes the speech recognition and chat completion
// backends so the service can be exercised locally without models.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

type mockBackend struct {
	logger *slog.Logger
	delay  time.Duration
}

func (m *mockBackend) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	size, err := io.Copy(io.Discard, file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	index := r.FormValue("segment_index")
	m.logger.Info("Transcription request",
		slog.String("segment_index", index),
		slog.String("filename", header.Filename),
		slog.Int64("bytes", size),
		slog.String("model", r.FormValue("model")),
		slog.String("language", r.FormValue("language")),
		slog.Bool("authorized", r.Header.Get("Authorization") != ""),
	)

	time.Sleep(m.delay)

	writeJSON(w, transcriptionResponse{
		Text: fmt.Sprintf("Mock transcript for segment %s (%d bytes).", index, size),
	})
}

func (m *mockBackend) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var system, user string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "user":
			user = msg.Content
		}
	}

	m.logger.Info("Chat completion request",
		slog.String("model", req.Model),
		slog.Int("system_chars", len(system)),
		slog.Int("user_chars", len(user)),
	)

	time.Sleep(m.delay)

	// Echo a chat template like some text-generation servers do
	firstLine, _, _ := strings.Cut(system, ".")
	content := fmt.Sprintf("<start_of_turn>user\n%s<end_of_turn>\n<start_of_turn>model\n(%s)\n%s<end_of_turn>",
		user, firstLine, user)

	writeJSON(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	})
}

func (m *mockBackend) handleRelease(w http.ResponseWriter, r *http.Request) {
	m.logger.Info("Release request", slog.String("path", r.URL.Path))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time per request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	backend := &mockBackend{logger: logger, delay: *delay}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", backend.handleTranscribe)
	mux.HandleFunc("POST /transcribe/release", backend.handleRelease)
	mux.HandleFunc("POST /v1/chat/completions", backend.handleChat)
	mux.HandleFunc("POST /v1/release", backend.handleRelease)

	logger.Info("Mock backend starting",
		slog.String("addr", *addr),
		slog.String("asr_endpoint", "http://localhost"+*addr+"/transcribe"),
		slog.String("rewrite_endpoint", "http://localhost"+*addr+"/v1"),
	)

	server := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
